package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/lherron/guildsnap/internal/snapshot"
)

// Memory is an in-process Gateway over a single mutable guild. It records
// every mutating call and can be told to fail specific operations.
type Memory struct {
	mu       sync.Mutex
	guild    Guild
	nextID   int
	fail     map[string]error
	noRelay  map[string]bool
	relays   map[string]Relay
	calls    []Call
	sent     []Sent
	allRelay bool
}

// Call is one recorded mutating operation.
type Call struct {
	Op     string
	Target string
}

// Sent is one delivered message.
type Sent struct {
	ChannelID string
	ViaRelay  bool
	Msg       Outbound
}

// NewMemory returns a gateway whose target starts as g.
func NewMemory(g Guild) *Memory {
	if g.Limits == (Limits{}) {
		g.Limits = TierLimits(g.PremiumTier)
	}
	return &Memory{
		guild:   g,
		fail:    make(map[string]error),
		noRelay: make(map[string]bool),
		relays:  make(map[string]Relay),
	}
}

// FailOn makes op fail with err whenever its target is name. Targets are
// entity names for create calls and ids for delete, send and relay calls.
func (m *Memory) FailOn(op, target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op+"/"+target] = err
}

// DisableRelays makes CreateRelay return ErrUnsupported for channelID, or
// for every channel when channelID is empty.
func (m *Memory) DisableRelays(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channelID == "" {
		m.allRelay = true
		return
	}
	m.noRelay[channelID] = true
}

// State returns a copy of the current target.
func (m *Memory) State() Guild {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyGuild(m.guild)
}

// Calls returns the mutating calls made so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Sent returns the messages delivered so far.
func (m *Memory) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// ActiveRelays returns how many relays exist right now.
func (m *Memory) ActiveRelays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.relays)
}

// ChannelByName finds a target channel by exact name.
func (m *Memory) ChannelByName(name string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.guild.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return Channel{}, false
}

func (m *Memory) Guild(ctx context.Context, guildID string) (*Guild, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if guildID != m.guild.ID {
		return nil, &TransportError{Kind: NotFound, Status: 404, Op: "get guild", Err: fmt.Errorf("unknown guild %s", guildID)}
	}
	g := copyGuild(m.guild)
	return &g, nil
}

func (m *Memory) CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (Channel, error) {
	if err := m.begin(ctx, "create_channel", spec.Name); err != nil {
		return Channel{}, err
	}
	defer m.mu.Unlock()
	if spec.ParentID != "" && m.channelIndex(spec.ParentID) < 0 {
		return Channel{}, &TransportError{Kind: OtherHTTP, Status: 400, Op: "create channel", Err: fmt.Errorf("unknown parent %s", spec.ParentID)}
	}
	c := Channel{ID: m.newID(), Name: spec.Name, Type: spec.Type, ParentID: spec.ParentID, Position: spec.Position}
	m.guild.Channels = append(m.guild.Channels, c)
	return c, nil
}

func (m *Memory) DeleteChannel(ctx context.Context, channelID string) error {
	if err := m.begin(ctx, "delete_channel", channelID); err != nil {
		return err
	}
	defer m.mu.Unlock()
	i := m.channelIndex(channelID)
	if i < 0 {
		return &TransportError{Kind: NotFound, Status: 404, Op: "delete channel", Err: fmt.Errorf("unknown channel %s", channelID)}
	}
	m.guild.Channels = append(m.guild.Channels[:i], m.guild.Channels[i+1:]...)
	return nil
}

func (m *Memory) CreateRole(ctx context.Context, guildID string, spec RoleSpec) (Role, error) {
	if err := m.begin(ctx, "create_role", spec.Name); err != nil {
		return Role{}, err
	}
	defer m.mu.Unlock()
	r := Role{ID: m.newID(), Name: spec.Name, Position: len(m.guild.Roles)}
	m.guild.Roles = append(m.guild.Roles, r)
	return r, nil
}

func (m *Memory) DeleteRole(ctx context.Context, guildID, roleID string) error {
	if err := m.begin(ctx, "delete_role", roleID); err != nil {
		return err
	}
	defer m.mu.Unlock()
	for i, r := range m.guild.Roles {
		if r.ID == roleID {
			m.guild.Roles = append(m.guild.Roles[:i], m.guild.Roles[i+1:]...)
			return nil
		}
	}
	return &TransportError{Kind: NotFound, Status: 404, Op: "delete role", Err: fmt.Errorf("unknown role %s", roleID)}
}

func (m *Memory) CreateEmoji(ctx context.Context, guildID, name string, img Image) (Asset, error) {
	if err := m.begin(ctx, "create_emoji", name); err != nil {
		return Asset{}, err
	}
	defer m.mu.Unlock()
	a := Asset{ID: m.newID(), Name: name}
	m.guild.Emojis = append(m.guild.Emojis, a)
	return a, nil
}

func (m *Memory) CreateSticker(ctx context.Context, guildID string, spec StickerSpec, img Image) (Asset, error) {
	if err := m.begin(ctx, "create_sticker", spec.Name); err != nil {
		return Asset{}, err
	}
	defer m.mu.Unlock()
	a := Asset{ID: m.newID(), Name: spec.Name}
	m.guild.Stickers = append(m.guild.Stickers, a)
	return a, nil
}

func (m *Memory) EditGuild(ctx context.Context, guildID string, edit GuildEdit) error {
	if err := m.begin(ctx, "edit_guild", guildID); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if edit.Name != nil {
		m.guild.Name = *edit.Name
	}
	if edit.Description != nil {
		m.guild.Description = *edit.Description
	}
	return nil
}

func (m *Memory) SendMessage(ctx context.Context, channelID string, msg Outbound) error {
	if err := m.begin(ctx, "send_message", channelID); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.deliver(channelID, false, msg)
	return nil
}

func (m *Memory) CreateRelay(ctx context.Context, channelID, name string) (Relay, error) {
	if err := m.begin(ctx, "create_relay", channelID); err != nil {
		return Relay{}, err
	}
	defer m.mu.Unlock()
	if m.allRelay || m.noRelay[channelID] {
		return Relay{}, ErrUnsupported
	}
	r := Relay{ID: m.newID(), Token: "token", ChannelID: channelID}
	m.relays[r.ID] = r
	return r, nil
}

func (m *Memory) ExecuteRelay(ctx context.Context, relay Relay, msg Outbound) error {
	if err := m.begin(ctx, "execute_relay", relay.ChannelID); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.relays[relay.ID]; !ok {
		return &TransportError{Kind: NotFound, Status: 404, Op: "execute relay", Err: fmt.Errorf("unknown relay %s", relay.ID)}
	}
	m.deliver(relay.ChannelID, true, msg)
	return nil
}

func (m *Memory) DeleteRelay(ctx context.Context, relay Relay) error {
	if err := m.begin(ctx, "delete_relay", relay.ID); err != nil {
		return err
	}
	defer m.mu.Unlock()
	delete(m.relays, relay.ID)
	return nil
}

// begin checks cancellation and injected failures, records the call and
// leaves m.mu held on success.
func (m *Memory) begin(ctx context.Context, op, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if err, ok := m.fail[op+"/"+target]; ok {
		m.mu.Unlock()
		return err
	}
	m.calls = append(m.calls, Call{Op: op, Target: target})
	return nil
}

func (m *Memory) deliver(channelID string, viaRelay bool, msg Outbound) {
	m.sent = append(m.sent, Sent{ChannelID: channelID, ViaRelay: viaRelay, Msg: msg})
}

func (m *Memory) newID() string {
	m.nextID++
	return "new-" + strconv.Itoa(m.nextID)
}

func (m *Memory) channelIndex(id string) int {
	for i, c := range m.guild.Channels {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func copyGuild(g Guild) Guild {
	g.Channels = append([]Channel(nil), g.Channels...)
	g.Roles = append([]Role(nil), g.Roles...)
	g.Emojis = append([]Asset(nil), g.Emojis...)
	g.Stickers = append([]Asset(nil), g.Stickers...)
	return g
}

// TextChannel is a shorthand for building target fixtures.
func TextChannel(id, name string) Channel {
	return Channel{ID: id, Name: name, Type: snapshot.ChannelText}
}
