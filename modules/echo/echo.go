// Package echo is a builtin module that replies to a trigger word. It doubles
// as the reference implementation for the entry-code contract: settings
// access, permission-gated actions and event subscription.
package echo

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/entry"
	"github.com/Breadcord/Breadcord/core/gateway"
)

func init() {
	entry.RegisterBuiltin("echo", func() entry.ModuleEntry { return &Module{} })
}

// Settings are the module's declared settings, decoded from its namespace.
type Settings struct {
	Trigger string `mapstructure:"trigger"`
	Reply   string `mapstructure:"reply"`
}

// Module implements entry.ModuleEntry.
type Module struct {
	mc       *entry.Context
	settings Settings
	enabled  bool
}

// Init loads settings and subscribes to message events.
func (m *Module) Init(ctx context.Context, mc *entry.Context) error {
	m.mc = mc
	if err := mc.Settings.Decode(&m.settings); err != nil {
		return err
	}
	mc.Subscribe(gateway.CategoryMessageCreate, m.onMessage)
	mc.Logger.Info("Echo module initialized",
		zap.String("trigger", m.settings.Trigger))
	return nil
}

func (m *Module) OnEnable(ctx context.Context) error {
	m.enabled = true
	return nil
}

func (m *Module) OnDisable(ctx context.Context) error {
	m.enabled = false
	return nil
}

func (m *Module) OnUnload(ctx context.Context) error {
	m.mc = nil
	return nil
}

func (m *Module) onMessage(ctx context.Context, ev gateway.Event) error {
	if m.settings.Trigger == "" || !strings.Contains(ev.Content, m.settings.Trigger) {
		return nil
	}
	reply := m.settings.Reply
	if reply == "" {
		reply = ev.Content
	}
	return m.mc.Actions.SendMessage(ctx, ev.ChannelID, reply)
}
