// Package entry defines the contract between the host and a module's entry
// code: the ModuleEntry lifecycle hooks every module implements, the Context
// object handed to Init, and the loaders forming the single controlled
// boundary through which module code enters the process.
package entry

import (
	"context"

	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/permissions"
	"github.com/Breadcord/Breadcord/core/settings"
)

// Handler processes one dispatched platform event for a module.
type Handler func(ctx context.Context, ev gateway.Event) error

// Actions exposes platform calls to a module, gated by the module's granted
// permissions. A call outside the grant fails; it is never silently widened.
type Actions interface {
	// SendMessage posts a message to a channel. Requires send_messages.
	SendMessage(ctx context.Context, channelID, content string) error
	// HasPermission reports whether the module may perform actions requiring
	// the given tag.
	HasPermission(tag permissions.Tag) bool
}

// Context is the capability set handed to a module's entry code during
// loading: scoped settings access, permission-gated platform actions, a
// logging sink, per-module storage, and event subscription.
type Context struct {
	ModuleID    string
	Settings    *settings.Namespace
	Actions     Actions
	Logger      *zap.Logger
	StoragePath string

	subscribe func(category string, h Handler)
}

// NewContext builds a Context. The subscribe callback collects the module's
// event registrations for the dispatcher.
func NewContext(
	moduleID string,
	ns *settings.Namespace,
	actions Actions,
	log *zap.Logger,
	storagePath string,
	subscribe func(category string, h Handler),
) *Context {
	return &Context{
		ModuleID:    moduleID,
		Settings:    ns,
		Actions:     actions,
		Logger:      log,
		StoragePath: storagePath,
		subscribe:   subscribe,
	}
}

// Subscribe registers interest in an event category. Handlers for a category
// are invoked in registration order. Only valid during Init.
func (c *Context) Subscribe(category string, h Handler) {
	c.subscribe(category, h)
}

// ModuleEntry is the fixed interface every module's entry code implements.
// The host invokes hooks on lifecycle transitions; any returned error or
// panic is contained at the module boundary.
type ModuleEntry interface {
	// Init is called once during loading with the module's context object.
	// Event subscriptions are registered here.
	Init(ctx context.Context, mc *Context) error
	// OnEnable is called each time the module transitions to enabled.
	OnEnable(ctx context.Context) error
	// OnDisable is called each time the module transitions to disabled.
	OnDisable(ctx context.Context) error
	// OnUnload is called once during unloading, after the module stopped
	// receiving events.
	OnUnload(ctx context.Context) error
}

// Loader resolves a module's entry code from its on-disk directory.
type Loader interface {
	// Name identifies the loader in logs and status output.
	Name() string
	// CanLoad reports whether this loader recognizes the module directory.
	CanLoad(dir, moduleID string) bool
	// Load produces the module's entry implementation.
	Load(ctx context.Context, dir, moduleID string) (ModuleEntry, error)
}
