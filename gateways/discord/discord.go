// Package discord adapts a Discord bot session to the gateway interface.
// The adapter owns the wire protocol; modules only ever see the decoded
// event stream and the permission-gated send API.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/logger"
	"github.com/Breadcord/Breadcord/core/permissions"
)

// Config holds configuration settings specific to the Discord gateway.
type Config struct {
	Token string `mapstructure:"token"`
	// GuildID limits event delivery to one guild when set.
	GuildID string `mapstructure:"guild_id"`
}

// Gateway implements gateway.Gateway over a Discord bot session.
type Gateway struct {
	mu      sync.Mutex
	cfg     Config
	session *discordgo.Session
	events  chan gateway.Event
	started bool
}

// New creates a Discord gateway.
func New() *Gateway {
	return &Gateway{events: make(chan gateway.Event, 256)}
}

func (g *Gateway) Name() string { return "discord" }

// Configure decodes the gateway's configuration block. A token is required.
func (g *Gateway) Configure(cfg map[string]interface{}) error {
	var c Config
	if err := mapstructure.Decode(cfg, &c); err != nil {
		return fmt.Errorf("decode discord config: %w", err)
	}
	if c.Token == "" {
		return fmt.Errorf("discord gateway requires a token")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = c
	return nil
}

// Start opens the session and begins translating Discord events.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	if g.cfg.Token == "" {
		return fmt.Errorf("discord gateway is not configured")
	}

	session, err := discordgo.New("Bot " + g.cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info(ctx, "Discord gateway ready",
			zap.String("user", r.User.Username),
			zap.Int("guilds", len(r.Guilds)))
	})
	session.AddHandler(g.handleMessageCreate)
	session.AddHandler(g.handleMessageDelete)
	session.AddHandler(g.handleReactionAdd)
	session.AddHandler(g.handleMemberAdd)
	session.AddHandler(g.handleMemberRemove)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	g.session = session
	g.started = true
	logger.Info(ctx, "Discord gateway started")
	return nil
}

// Stop closes the event stream and then the session. The started flag flips
// and the channel closes under the same lock emit takes, so a handler firing
// during shutdown can never send on the closed channel.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = false
	session := g.session
	close(g.events)
	g.mu.Unlock()

	var err error
	if session != nil {
		err = session.Close()
	}
	logger.Info(ctx, "Discord gateway stopped")
	return err
}

// Events returns the stream of decoded platform events.
func (g *Gateway) Events() <-chan gateway.Event {
	return g.events
}

// SendMessage posts a message to a channel.
func (g *Gateway) SendMessage(ctx context.Context, channelID, content string) error {
	g.mu.Lock()
	session := g.session
	g.mu.Unlock()
	if session == nil {
		return fmt.Errorf("discord gateway is not started")
	}
	if _, err := session.ChannelMessageSend(channelID, content,
		discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return nil
}

// HasPermission reports whether the bot may perform actions requiring the
// given tag. Per-guild permission state is not modeled; the adapter reports
// true and lets the API surface a denial on the actual call.
func (g *Gateway) HasPermission(tag permissions.Tag) bool {
	return true
}

// emit tags and queues one decoded event. Events arriving after Stop are
// discarded; the send and the started check share the gateway lock.
func (g *Gateway) emit(ev gateway.Event) {
	ev.RequiredPermission = gateway.RequiredPermission(ev.Category)
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return
	}
	select {
	case g.events <- ev:
	default:
		logger.Warn(context.Background(), "Discord event stream full, dropping event",
			zap.String("category", ev.Category))
	}
}

func (g *Gateway) inGuild(guildID string) bool {
	return g.cfg.GuildID == "" || g.cfg.GuildID == guildID
}

func (g *Gateway) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || !g.inGuild(m.GuildID) {
		return
	}
	g.emit(gateway.Event{
		Category:  gateway.CategoryMessageCreate,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		MessageID: m.ID,
		Content:   m.Content,
		Payload: map[string]interface{}{
			"guild_id": m.GuildID,
			"author":   m.Author.Username,
		},
	})
}

func (g *Gateway) handleMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	if !g.inGuild(m.GuildID) {
		return
	}
	g.emit(gateway.Event{
		Category:  gateway.CategoryMessageDelete,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Payload:   map[string]interface{}{"guild_id": m.GuildID},
	})
}

func (g *Gateway) handleReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if !g.inGuild(r.GuildID) {
		return
	}
	g.emit(gateway.Event{
		Category:  gateway.CategoryReactionAdd,
		ChannelID: r.ChannelID,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Payload: map[string]interface{}{
			"guild_id": r.GuildID,
			"emoji":    r.Emoji.Name,
		},
	})
}

func (g *Gateway) handleMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if !g.inGuild(m.GuildID) {
		return
	}
	g.emit(gateway.Event{
		Category: gateway.CategoryMemberJoin,
		UserID:   m.User.ID,
		Payload: map[string]interface{}{
			"guild_id": m.GuildID,
			"username": m.User.Username,
		},
	})
}

func (g *Gateway) handleMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if !g.inGuild(m.GuildID) {
		return
	}
	g.emit(gateway.Event{
		Category: gateway.CategoryMemberLeave,
		UserID:   m.User.ID,
		Payload: map[string]interface{}{
			"guild_id": m.GuildID,
			"username": m.User.Username,
		},
	})
}
