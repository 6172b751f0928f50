// Package snapshot defines the server snapshot document and reads, writes
// and validates it.
package snapshot

import (
	"sort"
	"strings"
	"time"
)

// ChannelType discriminates channel records.
type ChannelType string

const (
	ChannelCategory ChannelType = "category"
	ChannelText     ChannelType = "text"
	ChannelVoice    ChannelType = "voice"
	ChannelForum    ChannelType = "forum"
	ChannelNews     ChannelType = "news"
	ChannelStage    ChannelType = "stage_voice"
)

// Creatable reports whether reconciliation knows how to create this type.
func (t ChannelType) Creatable() bool {
	switch t {
	case ChannelCategory, ChannelText, ChannelVoice, ChannelForum:
		return true
	}
	return false
}

// Textual reports whether messages can be replayed into this type.
func (t ChannelType) Textual() bool {
	return t == ChannelText || t == ChannelNews
}

// Snapshot is the root document.
type Snapshot struct {
	BackupInfo BackupInfo               `json:"backup_info"`
	ServerInfo ServerInfo               `json:"server_info"`
	Channels   map[string]ChannelRecord `json:"channels"`
	Roles      map[string]RoleRecord    `json:"roles"`
	Members    map[string]MemberRecord  `json:"members"`
	Emojis     map[string]EmojiRecord   `json:"emojis"`
	Stickers   map[string]StickerRecord `json:"stickers"`
	Stats      Stats                    `json:"stats"`
}

// BackupInfo identifies a snapshot and its place in a chain.
type BackupInfo struct {
	Version     string     `json:"version"`
	Timestamp   string     `json:"timestamp"`
	Incremental bool       `json:"incremental"`
	BackupName  string     `json:"backup_name"`
	ChainInfo   *ChainInfo `json:"chain_info,omitempty"`
}

// ChainInfo records the provenance of a merged snapshot.
type ChainInfo struct {
	FullBackup                    string   `json:"full_backup"`
	IncrementalBackups            []string `json:"incremental_backups"`
	TotalBackupsMerged            int      `json:"total_backups_merged"`
	MessagesAddedFromIncrementals int      `json:"messages_added_from_incrementals"`
	MediaAddedFromIncrementals    int      `json:"media_added_from_incrementals"`
}

type ServerInfo struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	Description              string   `json:"description,omitempty"`
	IconURL                  string   `json:"icon_url,omitempty"`
	BannerURL                string   `json:"banner_url,omitempty"`
	SplashURL                string   `json:"splash_url,omitempty"`
	LocalIconPath            string   `json:"local_icon_path,omitempty"`
	LocalBannerPath          string   `json:"local_banner_path,omitempty"`
	OwnerID                  string   `json:"owner_id,omitempty"`
	CreatedAt                string   `json:"created_at,omitempty"`
	MemberCount              int      `json:"member_count,omitempty"`
	PremiumTier              int      `json:"premium_tier"`
	PremiumSubscriptionCount int      `json:"premium_subscription_count,omitempty"`
	PreferredLocale          string   `json:"preferred_locale,omitempty"`
	Features                 []string `json:"features,omitempty"`
}

type ChannelRecord struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          ChannelType     `json:"type"`
	CategoryID    string          `json:"category_id,omitempty"`
	Position      int             `json:"position"`
	Topic         string          `json:"topic,omitempty"`
	SlowmodeDelay int             `json:"slowmode_delay,omitempty"`
	NSFW          bool            `json:"nsfw,omitempty"`
	Bitrate       int             `json:"bitrate,omitempty"`
	UserLimit     int             `json:"user_limit,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	Messages      []MessageRecord `json:"messages,omitempty"`
}

type MessageRecord struct {
	ID                   string               `json:"id"`
	ChannelID            string               `json:"channel_id,omitempty"`
	Author               AuthorSummary        `json:"author"`
	Content              string               `json:"content"`
	Timestamp            string               `json:"timestamp"`
	EditedTimestamp      string               `json:"edited_timestamp,omitempty"`
	Attachments          []AttachmentRecord   `json:"attachments,omitempty"`
	Embeds               []map[string]any     `json:"embeds,omitempty"`
	Reactions            []ReactionSummary    `json:"reactions,omitempty"`
	Reference            *Reference           `json:"reference,omitempty"`
	Pinned               bool                 `json:"pinned,omitempty"`
	Type                 string               `json:"type,omitempty"`
	IsCrossServerForward bool                 `json:"is_cross_server_forward,omitempty"`
	CrossServerMetadata  *CrossServerMetadata `json:"cross_server_metadata,omitempty"`
}

// Time parses the message timestamp. Unparseable values yield the zero time.
func (m MessageRecord) Time() time.Time {
	t, _ := ParseTimestamp(m.Timestamp)
	return t
}

// Empty reports whether there is nothing to replay for the message.
func (m MessageRecord) Empty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 && len(m.Embeds) == 0
}

type AuthorSummary struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

type AttachmentRecord struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	ProxyURL    string `json:"proxy_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
}

type ReactionSummary struct {
	Emoji ReactionEmoji `json:"emoji"`
	Count int           `json:"count"`
	Users []string      `json:"users,omitempty"`
}

type ReactionEmoji struct {
	Name     string `json:"name"`
	ID       string `json:"id,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

// Reference is reply or forward metadata.
type Reference struct {
	MessageID       string         `json:"message_id,omitempty"`
	ChannelID       string         `json:"channel_id,omitempty"`
	GuildID         string         `json:"guild_id,omitempty"`
	Type            string         `json:"type,omitempty"`
	CrossServer     bool           `json:"cross_server,omitempty"`
	Note            string         `json:"note,omitempty"`
	OriginalContent string         `json:"original_content,omitempty"`
	OriginalAuthor  *AuthorSummary `json:"original_author,omitempty"`
	ChannelName     string         `json:"channel_name,omitempty"`
}

type CrossServerMetadata struct {
	GuildID   string `json:"guild_id,omitempty"`
	GuildName string `json:"guild_name,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Note      string `json:"note,omitempty"`
}

type RoleRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Mentionable bool   `json:"mentionable"`
	Position    int    `json:"position"`
	Permissions int64  `json:"permissions"`
	Managed     bool   `json:"managed,omitempty"`
}

type MemberRecord struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Discriminator string   `json:"discriminator,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
	AvatarURL     string   `json:"avatar_url,omitempty"`
	Bot           bool     `json:"bot,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	JoinedAt      string   `json:"joined_at,omitempty"`
}

type EmojiRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Animated  bool   `json:"animated"`
	Managed   bool   `json:"managed,omitempty"`
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

type StickerRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tags        string `json:"tags,omitempty"`
	Format      string `json:"format,omitempty"`
	URL         string `json:"url,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
}

// Stats holds aggregate counters written by the capture pass.
type Stats struct {
	TotalMessages   int      `json:"total_messages"`
	TotalChannels   int      `json:"total_channels"`
	TotalUsers      int      `json:"total_users"`
	MediaFiles      int      `json:"media_files"`
	TotalMediaFiles int      `json:"total_media_files,omitempty"`
	BackupSizeBytes int64    `json:"backup_size_bytes,omitempty"`
	BackupSizeMB    float64  `json:"backup_size_mb"`
	FileCount       int      `json:"file_count,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	StartTime       string   `json:"start_time,omitempty"`
	EndTime         string   `json:"end_time,omitempty"`
}

// Header is the subset of a snapshot needed for chain discovery.
type Header struct {
	Path        string
	ServerID    string
	ServerName  string
	Timestamp   string
	Incremental bool
	BackupInfo  BackupInfo
	Stats       Stats
}

// Time parses the header timestamp. Unparseable values yield the zero time.
func (h Header) Time() time.Time {
	t, _ := ParseTimestamp(h.Timestamp)
	return t
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 variants found in snapshot files.
// Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FormatTimestamp formats a time the way snapshot files record it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

// SortMessages orders messages ascending by timestamp. Unparseable
// timestamps sort by their raw text; ids break ties.
func SortMessages(msgs []MessageRecord) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].Time(), msgs[j].Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}
