// Package devnull provides a loopback gateway for development and testing.
// It synthesizes message events on a timer and swallows everything sent to
// it, so the module pipeline can be exercised without platform credentials.
package devnull

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/logger"
	"github.com/Breadcord/Breadcord/core/permissions"
)

// Config holds configuration settings specific to the devnull gateway.
type Config struct {
	// Tick is the interval between synthesized messages, e.g. "1s".
	// Zero disables synthesis; the gateway then only accepts sends.
	Tick      string `mapstructure:"tick"`
	ChannelID string `mapstructure:"channel_id"`
	Content   string `mapstructure:"content"`
}

// Gateway implements gateway.Gateway as a loopback.
type Gateway struct {
	mu      sync.Mutex
	started bool
	tick    time.Duration
	channel string
	content string
	events  chan gateway.Event
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a devnull gateway.
func New() *Gateway {
	return &Gateway{
		tick:    time.Second,
		channel: "devnull",
		content: "ping",
		events:  make(chan gateway.Event, 16),
	}
}

func (g *Gateway) Name() string { return "devnull" }

// Configure decodes the gateway's configuration block.
func (g *Gateway) Configure(cfg map[string]interface{}) error {
	if cfg == nil {
		return nil
	}
	var c Config
	if err := mapstructure.Decode(cfg, &c); err != nil {
		return fmt.Errorf("decode devnull config: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.Tick != "" {
		tick, err := time.ParseDuration(c.Tick)
		if err != nil {
			return fmt.Errorf("invalid tick %q: %w", c.Tick, err)
		}
		g.tick = tick
	}
	if c.ChannelID != "" {
		g.channel = c.ChannelID
	}
	if c.Content != "" {
		g.content = c.Content
	}
	return nil
}

// Start begins synthesizing message events.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	g.started = true
	go g.run(runCtx)
	logger.Info(ctx, "Devnull gateway started", zap.Duration("tick", g.tick))
	return nil
}

func (g *Gateway) run(ctx context.Context) {
	defer close(g.done)
	defer close(g.events)
	if g.tick <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			ev := gateway.Event{
				Category:           gateway.CategoryMessageCreate,
				RequiredPermission: gateway.RequiredPermission(gateway.CategoryMessageCreate),
				ChannelID:          g.channel,
				UserID:             "devnull",
				MessageID:          fmt.Sprintf("%d", seq),
				Content:            g.content,
			}
			select {
			case g.events <- ev:
			default:
				// drop when nobody is draining
			}
		}
	}
}

// Stop shuts the gateway down and closes the event stream.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return nil
	}
	g.cancel()
	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.started = false
	logger.Info(ctx, "Devnull gateway stopped")
	return nil
}

// Events returns the stream of synthesized events.
func (g *Gateway) Events() <-chan gateway.Event {
	return g.events
}

// SendMessage logs and discards the message.
func (g *Gateway) SendMessage(ctx context.Context, channelID, content string) error {
	logger.Debug(ctx, "Devnull gateway discarding message",
		zap.String("channel", channelID),
		zap.String("content", content))
	return nil
}

// HasPermission always reports true; the loopback imposes no platform limits.
func (g *Gateway) HasPermission(tag permissions.Tag) bool { return true }
