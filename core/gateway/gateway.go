// Package gateway defines the interface to the chat-platform gateway
// collaborator. The collaborator owns the wire protocol; the host only
// consumes its stream of already-decoded events and calls its permission-
// gated send API. Concrete adapters live under gateways/.
package gateway

import (
	"context"

	"github.com/Breadcord/Breadcord/core/permissions"
)

// Event categories delivered by gateways.
const (
	CategoryMessageCreate = "message_create"
	CategoryMessageDelete = "message_delete"
	CategoryReactionAdd   = "reaction_add"
	CategoryMemberJoin    = "member_join"
	CategoryMemberLeave   = "member_leave"
)

// RequiredPermission returns the permission tag a module must declare to
// receive events of the given category.
func RequiredPermission(category string) permissions.Tag {
	switch category {
	case CategoryMessageCreate, CategoryMessageDelete:
		return permissions.ReadMessages
	case CategoryReactionAdd:
		return permissions.AddReactions
	case CategoryMemberJoin, CategoryMemberLeave:
		return permissions.ReadMessages
	default:
		return permissions.ReadMessages
	}
}

// Event is a single decoded platform event, tagged with the permission
// category it requires.
type Event struct {
	Category           string
	RequiredPermission permissions.Tag
	ChannelID          string
	UserID             string
	MessageID          string
	Content            string
	// Payload carries adapter-specific fields not covered above.
	Payload map[string]interface{}
}

// Gateway is a chat-platform adapter the host can manage.
// Start must return only once the gateway is connected and delivering events;
// Stop must close the Events channel.
type Gateway interface {
	// Name returns the unique name of the gateway.
	Name() string
	// Configure provides the gateway with its specific configuration.
	Configure(cfg map[string]interface{}) error
	// Start connects the gateway and begins delivering events.
	Start(ctx context.Context) error
	// Stop disconnects the gateway, honoring the provided context.
	Stop(ctx context.Context) error
	// Events returns the stream of decoded platform events.
	Events() <-chan Event
	// SendMessage posts a message to a channel.
	SendMessage(ctx context.Context, channelID, content string) error
	// HasPermission reports whether the platform granted the host itself the
	// given capability, usable before performing privileged actions.
	HasPermission(tag permissions.Tag) bool
}
