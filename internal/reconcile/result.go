package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/replay"
)

// Phase is a step of a reconciliation run.
type Phase int

const (
	PhaseCleanup Phase = iota
	PhaseRoles
	PhaseChannels
	PhaseServerSettings
	PhaseMedia
	PhaseMessages
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCleanup:
		return "cleanup"
	case PhaseRoles:
		return "roles"
	case PhaseChannels:
		return "channels"
	case PhaseServerSettings:
		return "server_settings"
	case PhaseMedia:
		return "media"
	case PhaseMessages:
		return "messages"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase name in JSON and YAML output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// EntityError is a non-fatal failure on one entity.
type EntityError struct {
	Phase Phase
	// Kind is the entity kind: channel, role, emoji, sticker, guild or
	// message.
	Kind string
	Name string
	Op   string
	Err  error
}

func (e EntityError) Error() string {
	return fmt.Sprintf("%s: %s %s %q: %v", e.Phase, e.Op, e.Kind, e.Name, e.Err)
}

func (e EntityError) Unwrap() error {
	return e.Err
}

// Transport returns the transport kind of the underlying error.
func (e EntityError) Transport() gateway.Kind {
	k, _ := gateway.KindOf(e.Err)
	return k
}

// Mapping translates source ids to target ids.
type Mapping struct {
	Roles    map[string]string `json:"roles"`
	Channels map[string]string `json:"channels"`
}

// Acted lists the entity names a run actually tried to remove or create.
type Acted struct {
	ChannelsRemoved []string
	RolesRemoved    []string
	RolesCreated    []string
	ChannelsCreated []string
}

// Result summarizes a run. Every non-fatal error is in Errors.
type Result struct {
	GuildID string `json:"guild_id"`
	// Phase is the last phase entered.
	Phase   Phase   `json:"phase"`
	Mapping Mapping `json:"mapping"`

	ChannelsCreated  int  `json:"channels_created"`
	ChannelsRemoved  int  `json:"channels_removed"`
	ChannelsExisting int  `json:"channels_existing"`
	ChannelsSkipped  int  `json:"channels_skipped"`
	RolesCreated     int  `json:"roles_created"`
	RolesRemoved     int  `json:"roles_removed"`
	RolesExisting    int  `json:"roles_existing"`
	EmojisCreated    int  `json:"emojis_created"`
	EmojisSkipped    int  `json:"emojis_skipped"`
	StickersCreated  int  `json:"stickers_created"`
	StickersSkipped  int  `json:"stickers_skipped"`
	ServerRenamed    bool `json:"server_renamed"`

	Messages replay.Stats `json:"messages"`

	Warnings []string      `json:"warnings,omitempty"`
	Errors   []EntityError `json:"-"`

	acted Acted
}

// ErrorStrings returns the recorded per-entity errors as text.
func (r *Result) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

// MarshalJSON adds the per-entity errors as text, so stored summaries
// keep them.
func (r *Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		*plain
		Errors []string `json:"errors"`
	}{(*plain)(r), r.ErrorStrings()})
}

// Acted returns the removal and creation sets acted on.
func (r *Result) Acted() Acted {
	return r.acted
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func newResult(guildID string) *Result {
	return &Result{
		GuildID: guildID,
		Mapping: Mapping{Roles: make(map[string]string), Channels: make(map[string]string)},
	}
}
