package reconcile

import (
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/paths"
	"github.com/lherron/guildsnap/internal/snapshot"
)

// Preview is the non-mutating view of a plan.
type Preview struct {
	GuildID          string       `json:"guild_id" yaml:"guild_id"`
	ChannelsToRemove []string     `json:"channels_to_remove" yaml:"channels_to_remove"`
	RolesToRemove    []string     `json:"roles_to_remove" yaml:"roles_to_remove"`
	RolesToCreate    []string     `json:"roles_to_create" yaml:"roles_to_create"`
	ChannelsToCreate []string     `json:"channels_to_create" yaml:"channels_to_create"`
	ChannelsSkipped  []string     `json:"channels_skipped,omitempty" yaml:"channels_skipped,omitempty"`
	EmojisToUpload   []string     `json:"emojis_to_upload" yaml:"emojis_to_upload"`
	StickersToUpload []string     `json:"stickers_to_upload" yaml:"stickers_to_upload"`
	Rename           *RenameDelta `json:"rename,omitempty" yaml:"rename,omitempty"`
	Warnings         []string     `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	before []string
	after  []string
}

func newPreview(g *gateway.Guild, plan Plan) *Preview {
	p := &Preview{
		GuildID:          g.ID,
		ChannelsToCreate: plan.ChannelNamesToCreate(),
		Rename:           plan.Rename,
		Warnings:         plan.Warnings,
	}
	for _, c := range plan.ChannelsToRemove {
		p.ChannelsToRemove = append(p.ChannelsToRemove, c.Name)
	}
	for _, r := range plan.RolesToRemove {
		p.RolesToRemove = append(p.RolesToRemove, r.Name)
	}
	for _, r := range plan.RolesToCreate {
		p.RolesToCreate = append(p.RolesToCreate, r.Name)
	}
	for _, c := range plan.Unsupported {
		p.ChannelsSkipped = append(p.ChannelsSkipped, c.Name)
	}
	for _, e := range plan.EmojisToUpload {
		p.EmojisToUpload = append(p.EmojisToUpload, e.Name)
	}
	for _, s := range plan.StickersToUpload {
		p.StickersToUpload = append(p.StickersToUpload, s.Name)
	}
	p.before, p.after = structure(g, plan)
	return p
}

// Empty reports whether applying would change no structure.
func (p *Preview) Empty() bool {
	return len(p.ChannelsToRemove) == 0 && len(p.RolesToRemove) == 0 &&
		len(p.RolesToCreate) == 0 && len(p.ChannelsToCreate) == 0 &&
		len(p.EmojisToUpload) == 0 && len(p.StickersToUpload) == 0 && p.Rename == nil
}

// StructureDiff renders the target's channel and role names before and
// after the plan as a unified diff. It is empty when nothing changes.
func (p *Preview) StructureDiff() (string, error) {
	diff := difflib.UnifiedDiff{
		A:        p.before,
		B:        p.after,
		FromFile: "target",
		ToFile:   "after restore",
		Context:  2,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func structure(g *gateway.Guild, plan Plan) (before, after []string) {
	removedChannels := make(map[string]bool, len(plan.ChannelsToRemove))
	for _, c := range plan.ChannelsToRemove {
		removedChannels[c.ID] = true
	}
	removedRoles := make(map[string]bool, len(plan.RolesToRemove))
	for _, r := range plan.RolesToRemove {
		removedRoles[r.ID] = true
	}

	for _, c := range g.Channels {
		line := channelLine(c.Type, c.Name)
		before = append(before, line)
		if !removedChannels[c.ID] {
			after = append(after, line)
		}
	}
	for _, r := range g.Roles {
		if r.Default {
			continue
		}
		line := roleLine(r.Name)
		before = append(before, line)
		if !removedRoles[r.ID] {
			after = append(after, line)
		}
	}
	for _, c := range plan.CategoriesToCreate {
		after = append(after, channelLine(c.Type, c.Name))
	}
	for _, c := range plan.ChannelsToCreate {
		after = append(after, channelLine(c.Type, c.Name))
	}
	for _, r := range plan.RolesToCreate {
		after = append(after, roleLine(r.Name))
	}

	sortLines(before)
	sortLines(after)
	return before, after
}

func channelLine(t snapshot.ChannelType, name string) string {
	if t == snapshot.ChannelCategory {
		return "category " + name + "\n"
	}
	return "channel  #" + name + " (" + string(t) + ")\n"
}

func roleLine(name string) string {
	return "role     @" + name + "\n"
}

func sortLines(lines []string) {
	sort.SliceStable(lines, func(i, j int) bool {
		return paths.NameKey(lines[i]) < paths.NameKey(lines[j])
	})
}
