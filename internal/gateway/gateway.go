// Package gateway is the boundary between the restore engine and the
// remote platform. Implementations own authentication, retries and
// low-level rate limiting and report failures as typed errors.
package gateway

import (
	"context"
	"encoding/base64"

	"github.com/lherron/guildsnap/internal/snapshot"
)

// Gateway is the set of remote operations reconciliation and replay use.
type Gateway interface {
	// Guild reads the target's current structure and limits.
	Guild(ctx context.Context, guildID string) (*Guild, error)

	CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	CreateRole(ctx context.Context, guildID string, spec RoleSpec) (Role, error)
	DeleteRole(ctx context.Context, guildID, roleID string) error
	CreateEmoji(ctx context.Context, guildID, name string, img Image) (Asset, error)
	CreateSticker(ctx context.Context, guildID string, spec StickerSpec, img Image) (Asset, error)
	EditGuild(ctx context.Context, guildID string, edit GuildEdit) error

	SendMessage(ctx context.Context, channelID string, msg Outbound) error
	// CreateRelay sets up an impersonation relay (webhook) in a channel.
	// It returns ErrUnsupported when the channel cannot host one.
	CreateRelay(ctx context.Context, channelID, name string) (Relay, error)
	ExecuteRelay(ctx context.Context, relay Relay, msg Outbound) error
	DeleteRelay(ctx context.Context, relay Relay) error
}

// Guild is the target server as currently observed.
type Guild struct {
	ID          string
	Name        string
	Description string
	PremiumTier int
	Channels    []Channel
	Roles       []Role
	Emojis      []Asset
	Stickers    []Asset
	Limits      Limits
}

type Channel struct {
	ID       string
	Name     string
	Type     snapshot.ChannelType
	ParentID string
	Position int
}

type Role struct {
	ID       string
	Name     string
	Position int
	Managed  bool
	// Default marks the implicit @everyone role.
	Default bool
}

// Asset is an emoji or sticker already on the target.
type Asset struct {
	ID   string
	Name string
}

// ChannelSpec describes a channel to create. ParentID refers to a
// channel on the target.
type ChannelSpec struct {
	Name      string
	Type      snapshot.ChannelType
	ParentID  string
	Position  int
	Topic     string
	Slowmode  int
	NSFW      bool
	Bitrate   int
	UserLimit int
}

type RoleSpec struct {
	Name        string
	Color       int
	Permissions int64
	Hoist       bool
	Mentionable bool
}

type StickerSpec struct {
	Name        string
	Description string
	Tags        string
}

// GuildEdit lists server settings to change; nil fields are left alone.
type GuildEdit struct {
	Name        *string
	Description *string
	Icon        *Image
	Banner      *Image
}

// Image is an uploadable binary with its media type.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// DataURI encodes the image the way guild and emoji uploads expect it.
func (i Image) DataURI() string {
	return "data:" + i.ContentType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Outbound is a message to post. Username and AvatarURL apply to relay
// sends only.
type Outbound struct {
	Content   string
	Username  string
	AvatarURL string
	Files     []File
}

// Relay is a per-channel impersonation relay.
type Relay struct {
	ID        string
	Token     string
	ChannelID string
}
