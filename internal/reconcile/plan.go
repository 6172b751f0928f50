package reconcile

import (
	"fmt"
	"sort"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/paths"
	"github.com/lherron/guildsnap/internal/snapshot"
)

const everyoneRole = "@everyone"

// Plan is the diff between a snapshot and a target's current structure.
// Preview reports it and Run executes it; both obtain it from ComputePlan.
type Plan struct {
	ChannelsToRemove []gateway.Channel
	RolesToRemove    []gateway.Role

	// RolesToCreate is ordered by recorded position.
	RolesToCreate []snapshot.RoleRecord
	// RolesExisting maps source role ids to target roles matched by name.
	RolesExisting map[string]string

	// CategoriesToCreate precede ChannelsToCreate; both are ordered by
	// recorded position.
	CategoriesToCreate []snapshot.ChannelRecord
	ChannelsToCreate   []snapshot.ChannelRecord
	ChannelsExisting   map[string]string
	// Unsupported lists channels of a type that cannot be created.
	Unsupported []snapshot.ChannelRecord

	EmojisToUpload   []snapshot.EmojiRecord
	StickersToUpload []snapshot.StickerRecord

	Rename *RenameDelta

	// Warnings are "already exists" and unsupported-type notices.
	Warnings []string
}

// RenameDelta is a pending server rename.
type RenameDelta struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ComputePlan diffs snap against the target state g.
func ComputePlan(snap *snapshot.Snapshot, g *gateway.Guild) Plan {
	p := Plan{
		RolesExisting:    make(map[string]string),
		ChannelsExisting: make(map[string]string),
	}
	channels := channelRecords(snap)
	roles := roleRecords(snap)

	p.planRemovals(channels, roles, g)
	p.planRoles(snap, roles, g)
	p.planChannels(channels, g)
	p.planAssets(snap, g)

	if snap.ServerInfo.Name != "" && snap.ServerInfo.Name != g.Name {
		p.Rename = &RenameDelta{From: g.Name, To: snap.ServerInfo.Name}
	}
	return p
}

func (p *Plan) planRemovals(channels []snapshot.ChannelRecord, roles []snapshot.RoleRecord, g *gateway.Guild) {
	channelNames := make(map[string]bool, len(channels))
	for _, c := range channels {
		channelNames[paths.NameKey(c.Name)] = true
	}
	roleNames := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleNames[paths.NameKey(r.Name)] = true
	}

	for _, c := range g.Channels {
		if !channelNames[paths.NameKey(c.Name)] {
			p.ChannelsToRemove = append(p.ChannelsToRemove, c)
		}
	}
	for _, r := range g.Roles {
		if r.Default || r.Managed {
			continue
		}
		if !roleNames[paths.NameKey(r.Name)] {
			p.RolesToRemove = append(p.RolesToRemove, r)
		}
	}
}

func (p *Plan) planRoles(snap *snapshot.Snapshot, roles []snapshot.RoleRecord, g *gateway.Guild) {
	byName := make(map[string]gateway.Role, len(g.Roles))
	for _, r := range g.Roles {
		if r.Default {
			continue
		}
		key := paths.NameKey(r.Name)
		if _, dup := byName[key]; !dup {
			byName[key] = r
		}
	}

	for _, r := range roles {
		if isEveryone(snap, r) {
			continue
		}
		if existing, ok := byName[paths.NameKey(r.Name)]; ok {
			p.RolesExisting[r.ID] = existing.ID
			p.Warnings = append(p.Warnings, fmt.Sprintf("role %q already exists", r.Name))
			continue
		}
		if r.Managed {
			p.Warnings = append(p.Warnings, fmt.Sprintf("role %q is managed by an integration and cannot be created", r.Name))
			continue
		}
		p.RolesToCreate = append(p.RolesToCreate, r)
	}
}

// planChannels matches snapshot channels to target channels by name within
// the same class (category or not). Each target channel is matched at most
// once, so duplicate names pair up one to one.
func (p *Plan) planChannels(channels []snapshot.ChannelRecord, g *gateway.Guild) {
	index := make(map[string][]gateway.Channel)
	for _, c := range g.Channels {
		k := classKey(c.Type, c.Name)
		index[k] = append(index[k], c)
	}

	for _, c := range channels {
		k := classKey(c.Type, c.Name)
		if matches := index[k]; len(matches) > 0 {
			p.ChannelsExisting[c.ID] = matches[0].ID
			index[k] = matches[1:]
			p.Warnings = append(p.Warnings, fmt.Sprintf("channel %q already exists", c.Name))
			continue
		}
		switch {
		case !c.Type.Creatable():
			p.Unsupported = append(p.Unsupported, c)
			p.Warnings = append(p.Warnings, fmt.Sprintf("channel %q has unsupported type %q", c.Name, c.Type))
		case c.Type == snapshot.ChannelCategory:
			p.CategoriesToCreate = append(p.CategoriesToCreate, c)
		default:
			p.ChannelsToCreate = append(p.ChannelsToCreate, c)
		}
	}
}

func (p *Plan) planAssets(snap *snapshot.Snapshot, g *gateway.Guild) {
	emojiNames := assetNames(g.Emojis)
	for _, id := range sortedKeys(snap.Emojis) {
		e := snap.Emojis[id]
		if e.Managed || emojiNames[paths.NameKey(e.Name)] {
			continue
		}
		emojiNames[paths.NameKey(e.Name)] = true
		p.EmojisToUpload = append(p.EmojisToUpload, e)
	}

	stickerNames := assetNames(g.Stickers)
	for _, id := range sortedKeys(snap.Stickers) {
		s := snap.Stickers[id]
		if stickerNames[paths.NameKey(s.Name)] {
			continue
		}
		stickerNames[paths.NameKey(s.Name)] = true
		p.StickersToUpload = append(p.StickersToUpload, s)
	}
}

// ChannelNamesToCreate lists categories then other channels.
func (p *Plan) ChannelNamesToCreate() []string {
	var out []string
	for _, c := range p.CategoriesToCreate {
		out = append(out, c.Name)
	}
	for _, c := range p.ChannelsToCreate {
		out = append(out, c.Name)
	}
	return out
}

func channelRecords(snap *snapshot.Snapshot) []snapshot.ChannelRecord {
	out := make([]snapshot.ChannelRecord, 0, len(snap.Channels))
	for key, c := range snap.Channels {
		if c.ID == "" {
			c.ID = key
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func roleRecords(snap *snapshot.Snapshot) []snapshot.RoleRecord {
	out := make([]snapshot.RoleRecord, 0, len(snap.Roles))
	for key, r := range snap.Roles {
		if r.ID == "" {
			r.ID = key
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func isEveryone(snap *snapshot.Snapshot, r snapshot.RoleRecord) bool {
	return r.Name == everyoneRole || (r.ID != "" && r.ID == snap.ServerInfo.ID)
}

func classKey(t snapshot.ChannelType, name string) string {
	if t == snapshot.ChannelCategory {
		return "category/" + paths.NameKey(name)
	}
	return "channel/" + paths.NameKey(name)
}

func assetNames(assets []gateway.Asset) map[string]bool {
	out := make(map[string]bool, len(assets))
	for _, a := range assets {
		out[paths.NameKey(a.Name)] = true
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
