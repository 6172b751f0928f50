// Package reconcile converges a live target server toward a snapshot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/media"
	"github.com/lherron/guildsnap/internal/pace"
	"github.com/lherron/guildsnap/internal/replay"
	"github.com/lherron/guildsnap/internal/snapshot"
)

const (
	maxSlowmode  = 21600
	maxUserLimit = 99
	minBitrate   = 8000
)

// LimitPolicy says what to do when a platform count limit is reached.
type LimitPolicy int

const (
	// Enforce stops creating assets of the category at the limit.
	Enforce LimitPolicy = iota
	// Advisory logs the limit and keeps going.
	Advisory
)

func (p LimitPolicy) String() string {
	if p == Advisory {
		return "advisory"
	}
	return "enforce"
}

// PolicyFor maps an "ignore limit" toggle to a policy.
func PolicyFor(ignoreLimit bool) LimitPolicy {
	if ignoreLimit {
		return Advisory
	}
	return Enforce
}

// Options is the per-run policy.
type Options struct {
	SkipMedia     bool
	SkipMessages  bool
	EmojiPolicy   LimitPolicy
	StickerPolicy LimitPolicy
	Replay        replay.Options
}

// Engine runs reconciliation against one gateway.
type Engine struct {
	gw     gateway.Gateway
	cache  *media.Cache
	pacer  *pace.Pacer
	ledger replay.Ledger
	opts   Options
	logger *slog.Logger
}

// New creates an engine. cache resolves local_path references; pacer
// spaces mutating calls.
func New(gw gateway.Gateway, cache *media.Cache, pacer *pace.Pacer, opts Options, logger *slog.Logger) *Engine {
	if cache == nil {
		cache = media.NewCache("")
	}
	if pacer == nil {
		pacer = pace.New(0)
	}
	return &Engine{gw: gw, cache: cache, pacer: pacer, opts: opts, logger: logger}
}

// WithLedger makes message replay resumable.
func (e *Engine) WithLedger(l replay.Ledger) *Engine {
	e.ledger = l
	return e
}

// Preview computes what Run would do without mutating the target.
func (e *Engine) Preview(ctx context.Context, guildID string, snap *snapshot.Snapshot) (*Preview, error) {
	g, err := e.gw.Guild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to read target %s: %w", guildID, err)
	}
	plan := ComputePlan(snap, g)
	return newPreview(g, plan), nil
}

// run carries the state of one Run call.
type run struct {
	*Engine
	snap   *snapshot.Snapshot
	guild  *gateway.Guild
	plan   Plan
	res    *Result
	logger *slog.Logger
}

// Run applies snap to the target. Per-entity failures are collected in the
// result; a fatal transport error or cancellation stops the run and is
// returned together with the partial result. Applied changes are not
// rolled back.
func (e *Engine) Run(ctx context.Context, guildID string, snap *snapshot.Snapshot) (*Result, error) {
	res := newResult(guildID)
	g, err := e.gw.Guild(ctx, guildID)
	if err != nil {
		return res, fmt.Errorf("failed to read target %s: %w", guildID, err)
	}

	r := &run{Engine: e, snap: snap, guild: g, plan: ComputePlan(snap, g), res: res}
	res.Warnings = append(res.Warnings, r.plan.Warnings...)

	phases := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseCleanup, r.cleanup},
		{PhaseRoles, r.roles},
		{PhaseChannels, r.channels},
		{PhaseServerSettings, r.settings},
		{PhaseMedia, r.media},
		{PhaseMessages, r.messages},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Phase = p.phase
		r.logger = e.logger.With("phase", p.phase.String())
		r.logger.Info("phase started")
		if err := p.fn(ctx); err != nil {
			return res, fmt.Errorf("%s: %w", p.phase, err)
		}
	}
	res.Phase = PhaseDone
	e.logger.Info("reconciliation complete",
		"channels_created", res.ChannelsCreated,
		"channels_removed", res.ChannelsRemoved,
		"roles_created", res.RolesCreated,
		"roles_removed", res.RolesRemoved,
		"messages", res.Messages.Restored,
		"errors", len(res.Errors))
	return res, nil
}

// fail records a per-entity error, or returns err when it must stop the
// run.
func (r *run) fail(kind, name, op string, err error) error {
	if gateway.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.res.Errors = append(r.res.Errors, EntityError{Phase: r.res.Phase, Kind: kind, Name: name, Op: op, Err: err})
	r.logger.Warn("operation failed", "kind", kind, "name", name, "op", op, "error", err)
	return nil
}

func (r *run) cleanup(ctx context.Context) error {
	for _, c := range r.plan.ChannelsToRemove {
		r.res.acted.ChannelsRemoved = append(r.res.acted.ChannelsRemoved, c.Name)
		if err := r.gw.DeleteChannel(ctx, c.ID); err != nil {
			if err := r.fail("channel", c.Name, "delete", err); err != nil {
				return err
			}
		} else {
			r.res.ChannelsRemoved++
			r.logger.Debug("channel removed", "channel", c.Name)
		}
		if err := r.pacer.Wait(ctx, 1); err != nil {
			return err
		}
	}

	for _, role := range r.plan.RolesToRemove {
		r.res.acted.RolesRemoved = append(r.res.acted.RolesRemoved, role.Name)
		if err := r.gw.DeleteRole(ctx, r.guild.ID, role.ID); err != nil {
			if err := r.fail("role", role.Name, "delete", err); err != nil {
				return err
			}
		} else {
			r.res.RolesRemoved++
			r.logger.Debug("role removed", "role", role.Name)
		}
		if err := r.pacer.Wait(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) roles(ctx context.Context) error {
	for src, dst := range r.plan.RolesExisting {
		r.res.Mapping.Roles[src] = dst
	}
	r.res.RolesExisting = len(r.plan.RolesExisting)

	for _, role := range r.plan.RolesToCreate {
		r.res.acted.RolesCreated = append(r.res.acted.RolesCreated, role.Name)
		created, err := r.gw.CreateRole(ctx, r.guild.ID, gateway.RoleSpec{
			Name:        role.Name,
			Color:       role.Color,
			Permissions: role.Permissions,
			Hoist:       role.Hoist,
			Mentionable: role.Mentionable,
		})
		if err != nil {
			if err := r.fail("role", role.Name, "create", err); err != nil {
				return err
			}
		} else {
			r.res.Mapping.Roles[role.ID] = created.ID
			r.res.RolesCreated++
			r.logger.Debug("role created", "role", role.Name, "id", created.ID)
		}
		if err := r.pacer.Wait(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) channels(ctx context.Context) error {
	for src, dst := range r.plan.ChannelsExisting {
		r.res.Mapping.Channels[src] = dst
	}
	r.res.ChannelsExisting = len(r.plan.ChannelsExisting)
	r.res.ChannelsSkipped = len(r.plan.Unsupported)

	for _, c := range r.plan.CategoriesToCreate {
		if err := r.createChannel(ctx, c, ""); err != nil {
			return err
		}
	}
	for _, c := range r.plan.ChannelsToCreate {
		parent := ""
		if c.CategoryID != "" {
			id, ok := r.res.Mapping.Channels[c.CategoryID]
			if ok {
				parent = id
			} else {
				r.res.warn("channel %q: parent category %s was not restored, creating without a parent", c.Name, c.CategoryID)
			}
		}
		if err := r.createChannel(ctx, c, parent); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) createChannel(ctx context.Context, c snapshot.ChannelRecord, parentID string) error {
	r.res.acted.ChannelsCreated = append(r.res.acted.ChannelsCreated, c.Name)
	created, err := r.gw.CreateChannel(ctx, r.guild.ID, channelSpec(c, parentID, r.guild.Limits))
	if err != nil {
		if err := r.fail("channel", c.Name, "create", err); err != nil {
			return err
		}
	} else {
		r.res.Mapping.Channels[c.ID] = created.ID
		r.res.ChannelsCreated++
		r.logger.Debug("channel created", "channel", c.Name, "type", c.Type, "id", created.ID)
	}
	return r.pacer.Wait(ctx, 1)
}

// channelSpec builds the creation request, clamping numeric attributes to
// the target's limits.
func channelSpec(c snapshot.ChannelRecord, parentID string, limits gateway.Limits) gateway.ChannelSpec {
	spec := gateway.ChannelSpec{
		Name:     c.Name,
		Type:     c.Type,
		ParentID: parentID,
		Position: c.Position,
	}
	switch c.Type {
	case snapshot.ChannelText, snapshot.ChannelForum:
		spec.Topic = c.Topic
		spec.NSFW = c.NSFW
		spec.Slowmode = clamp(c.SlowmodeDelay, 0, maxSlowmode)
	case snapshot.ChannelVoice:
		spec.Bitrate = c.Bitrate
		if limits.Bitrate > 0 && spec.Bitrate > limits.Bitrate {
			spec.Bitrate = limits.Bitrate
		}
		// Zero leaves the platform default.
		if spec.Bitrate > 0 && spec.Bitrate < minBitrate {
			spec.Bitrate = minBitrate
		}
		spec.UserLimit = clamp(c.UserLimit, 0, maxUserLimit)
	}
	return spec
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func (r *run) settings(ctx context.Context) error {
	if rn := r.plan.Rename; rn != nil {
		name := rn.To
		err := r.gw.EditGuild(ctx, r.guild.ID, gateway.GuildEdit{Name: &name})
		switch {
		case err == nil:
			r.res.ServerRenamed = true
			r.logger.Info("server renamed", "from", rn.From, "to", rn.To)
		case gateway.IsForbidden(err):
			r.res.warn("no permission to rename server to %q", rn.To)
		default:
			if err := r.fail("guild", rn.To, "rename", err); err != nil {
				return err
			}
		}
		if err := r.pacer.Wait(ctx, 1); err != nil {
			return err
		}
	}

	var edit gateway.GuildEdit
	info := r.snap.ServerInfo
	if info.Description != "" && info.Description != r.guild.Description {
		desc := info.Description
		edit.Description = &desc
	}
	edit.Icon = r.image("icon", info.LocalIconPath)
	edit.Banner = r.image("banner", info.LocalBannerPath)
	if edit == (gateway.GuildEdit{}) {
		return nil
	}

	err := r.gw.EditGuild(ctx, r.guild.ID, edit)
	switch {
	case err == nil:
		r.logger.Info("server settings applied",
			"description", edit.Description != nil, "icon", edit.Icon != nil, "banner", edit.Banner != nil)
	case gateway.IsForbidden(err):
		r.res.warn("no permission to update server icon, banner or description")
	default:
		if err := r.fail("guild", r.guild.Name, "edit", err); err != nil {
			return err
		}
	}
	return r.pacer.Wait(ctx, 1)
}

// image loads a cached server image. A missing file is a warning.
func (r *run) image(what, stored string) *gateway.Image {
	if stored == "" {
		return nil
	}
	blob, ok, err := r.cache.Open(stored, "")
	if err != nil || !ok {
		r.res.warn("server %s %s is not in the media cache", what, stored)
		return nil
	}
	return &gateway.Image{Name: blob.Name, ContentType: blob.ContentType, Data: blob.Data}
}

// upload is one emoji or sticker pending creation.
type upload struct {
	name      string
	localPath string
	create    func(ctx context.Context, img gateway.Image) error
}

func (r *run) media(ctx context.Context) error {
	if r.opts.SkipMedia {
		r.logger.Info("media phase skipped")
		return nil
	}

	emojis := make([]upload, 0, len(r.plan.EmojisToUpload))
	for _, em := range r.plan.EmojisToUpload {
		emojis = append(emojis, upload{
			name:      em.Name,
			localPath: em.LocalPath,
			create: func(ctx context.Context, img gateway.Image) error {
				_, err := r.gw.CreateEmoji(ctx, r.guild.ID, em.Name, img)
				return err
			},
		})
	}
	created, skipped, err := r.uploadAll(ctx, "emoji", emojis, len(r.guild.Emojis), r.guild.Limits.Emojis, r.opts.EmojiPolicy)
	r.res.EmojisCreated, r.res.EmojisSkipped = created, skipped
	if err != nil {
		return err
	}

	stickers := make([]upload, 0, len(r.plan.StickersToUpload))
	for _, st := range r.plan.StickersToUpload {
		stickers = append(stickers, upload{
			name:      st.Name,
			localPath: st.LocalPath,
			create: func(ctx context.Context, img gateway.Image) error {
				_, err := r.gw.CreateSticker(ctx, r.guild.ID, gateway.StickerSpec{
					Name:        st.Name,
					Description: st.Description,
					Tags:        st.Tags,
				}, img)
				return err
			},
		})
	}
	created, skipped, err = r.uploadAll(ctx, "sticker", stickers, len(r.guild.Stickers), r.guild.Limits.Stickers, r.opts.StickerPolicy)
	r.res.StickersCreated, r.res.StickersSkipped = created, skipped
	return err
}

// uploadAll creates assets of one category, starting from count existing
// ones against limit.
func (r *run) uploadAll(ctx context.Context, kind string, items []upload, count, limit int, policy LimitPolicy) (created, skipped int, err error) {
	warned := false
	for i, it := range items {
		if limit > 0 && count >= limit {
			if policy == Enforce {
				skipped += len(items) - i
				r.res.warn("%s limit of %d reached, skipped %d", kind, limit, len(items)-i)
				break
			}
			if !warned {
				warned = true
				r.logger.Warn("limit reached, continuing under advisory policy", "kind", kind, "limit", limit)
			}
		}

		blob, ok, openErr := r.cache.Open(it.localPath, "")
		if openErr != nil || !ok {
			skipped++
			r.res.warn("%s %q: no cached file", kind, it.name)
			continue
		}
		img := gateway.Image{Name: blob.Name, ContentType: blob.ContentType, Data: blob.Data}
		if cerr := it.create(ctx, img); cerr != nil {
			if ferr := r.fail(kind, it.name, "create", cerr); ferr != nil {
				return created, skipped, ferr
			}
		} else {
			created++
			count++
			r.logger.Debug("asset created", "kind", kind, "name", it.name)
		}
		if err := r.pacer.Wait(ctx, 1); err != nil {
			return created, skipped, err
		}
	}
	return created, skipped, nil
}

func (r *run) messages(ctx context.Context) error {
	if r.opts.SkipMessages {
		r.logger.Info("message replay skipped")
		return nil
	}
	opts := r.opts.Replay
	if opts.FileSizeLimit <= 0 {
		opts.FileSizeLimit = r.guild.Limits.FileSize
	}
	rp := replay.New(r.gw, r.cache, r.pacer, opts, r.logger)
	if r.ledger != nil {
		rp.WithLedger(r.ledger)
	}

	stats, err := rp.Replay(ctx, replay.Targets(r.snap, r.res.Mapping.Channels))
	r.res.Messages = stats
	for _, f := range stats.Failures {
		r.res.Errors = append(r.res.Errors, EntityError{
			Phase: PhaseMessages,
			Kind:  "message",
			Name:  f.Channel + "/" + f.MessageID,
			Op:    "send",
			Err:   f.Err,
		})
	}
	return err
}
