// Package permissions defines the closed vocabulary of permission tags a
// module may declare, and the Grant type describing what a module was granted.
// Unrecognized tags are rejected at manifest validation time rather than
// passed through; forward compatibility is explicitly not attempted.
package permissions

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is a named capability a module must declare to receive corresponding
// platform events or perform corresponding actions.
type Tag string

// Recognized permission tags.
const (
	ReadMessages    Tag = "read_messages"
	SendMessages    Tag = "send_messages"
	ManageMessages  Tag = "manage_messages"
	EmbedLinks      Tag = "embed_links"
	AttachFiles     Tag = "attach_files"
	AddReactions    Tag = "add_reactions"
	ManageChannels  Tag = "manage_channels"
	ManageRoles     Tag = "manage_roles"
	KickMembers     Tag = "kick_members"
	BanMembers      Tag = "ban_members"
	MentionEveryone Tag = "mention_everyone"
)

var recognized = map[Tag]struct{}{
	ReadMessages:    {},
	SendMessages:    {},
	ManageMessages:  {},
	EmbedLinks:      {},
	AttachFiles:     {},
	AddReactions:    {},
	ManageChannels:  {},
	ManageRoles:     {},
	KickMembers:     {},
	BanMembers:      {},
	MentionEveryone: {},
}

// IsRecognized reports whether the tag is part of the permission vocabulary.
func IsRecognized(t Tag) bool {
	_, ok := recognized[t]
	return ok
}

// Recognized returns the full permission vocabulary, sorted.
func Recognized() []Tag {
	tags := make([]Tag, 0, len(recognized))
	for t := range recognized {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Grant is the set of permission tags a module declared and was granted.
// The zero value is an empty grant.
type Grant struct {
	tags map[Tag]struct{}
}

// NewGrant builds a Grant from the given tags. Every tag must be part of the
// recognized vocabulary; an unrecognized tag is an error, not silently ignored.
func NewGrant(tags ...Tag) (Grant, error) {
	g := Grant{tags: make(map[Tag]struct{}, len(tags))}
	for _, t := range tags {
		if !IsRecognized(t) {
			return Grant{}, fmt.Errorf("unrecognized permission tag %q", t)
		}
		g.tags[t] = struct{}{}
	}
	return g, nil
}

// ParseGrant builds a Grant from raw manifest strings.
func ParseGrant(raw []string) (Grant, error) {
	tags := make([]Tag, len(raw))
	for i, s := range raw {
		tags[i] = Tag(s)
	}
	return NewGrant(tags...)
}

// Has reports whether the grant covers the given tag.
func (g Grant) Has(t Tag) bool {
	_, ok := g.tags[t]
	return ok
}

// Tags returns the granted tags, sorted.
func (g Grant) Tags() []Tag {
	tags := make([]Tag, 0, len(g.tags))
	for t := range g.tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Len returns the number of granted tags.
func (g Grant) Len() int { return len(g.tags) }

// String renders the grant for operator-facing output.
func (g Grant) String() string {
	tags := g.Tags()
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
