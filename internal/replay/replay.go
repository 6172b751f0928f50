// Package replay posts archived messages into restored channels.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/media"
	"github.com/lherron/guildsnap/internal/pace"
	"github.com/lherron/guildsnap/internal/snapshot"
)

const (
	// RelayName is the display name of the per-channel relay.
	RelayName = "Backup Restore"

	DefaultMaxMessages           = 50
	DefaultAttachmentsPerMessage = 5

	// Pacing multipliers of the base delay.
	messagePause = 1
	burstPause   = 3
	burstEvery   = 5
	channelPause = 2
)

// Options controls a replay.
type Options struct {
	// MaxMessages caps messages per channel; 0 means unlimited.
	MaxMessages           int
	RestoreMedia          bool
	AttachmentsPerMessage int
	FileSizeLimit         int64
}

// DefaultOptions returns the stock replay options.
func DefaultOptions() Options {
	return Options{
		MaxMessages:           DefaultMaxMessages,
		RestoreMedia:          true,
		AttachmentsPerMessage: DefaultAttachmentsPerMessage,
		FileSizeLimit:         gateway.DefaultFileSize,
	}
}

// Ledger remembers which source messages were already posted into which
// target channel, so an interrupted replay can resume.
type Ledger interface {
	Replayed(ctx context.Context, channelID, messageID string) (bool, error)
	MarkReplayed(ctx context.Context, channelID, messageID string) error
}

// Target pairs an archived channel with the channel it restores into.
type Target struct {
	Name      string
	ChannelID string
	Type      snapshot.ChannelType
	Position  int
	Messages  []snapshot.MessageRecord
}

// Targets maps the snapshot's channels through mapping (source id to
// target id), ordered by position then name. Unmapped channels are left
// out.
func Targets(snap *snapshot.Snapshot, mapping map[string]string) []Target {
	var out []Target
	for key, rec := range snap.Channels {
		id := rec.ID
		if id == "" {
			id = key
		}
		targetID, ok := mapping[id]
		if !ok {
			continue
		}
		out = append(out, Target{
			Name:      rec.Name,
			ChannelID: targetID,
			Type:      rec.Type,
			Position:  rec.Position,
			Messages:  rec.Messages,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Failure is one message that could not be posted.
type Failure struct {
	Channel   string
	MessageID string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("message %s in #%s: %v", f.MessageID, f.Channel, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Stats summarizes a replay.
type Stats struct {
	Channels int `json:"channels"`
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	// Resumed counts messages the ledger reported as already posted.
	Resumed  int       `json:"resumed"`
	Failures []Failure `json:"-"`
}

// Replayer posts messages through a gateway.
type Replayer struct {
	gw     gateway.Gateway
	cache  *media.Cache
	pacer  *pace.Pacer
	ledger Ledger
	opts   Options
	logger *slog.Logger
}

// New creates a replayer. Zero-valued option fields take their defaults,
// except MaxMessages where zero means unlimited.
func New(gw gateway.Gateway, cache *media.Cache, pacer *pace.Pacer, opts Options, logger *slog.Logger) *Replayer {
	if opts.AttachmentsPerMessage <= 0 {
		opts.AttachmentsPerMessage = DefaultAttachmentsPerMessage
	}
	if opts.FileSizeLimit <= 0 {
		opts.FileSizeLimit = gateway.DefaultFileSize
	}
	if cache == nil {
		cache = media.NewCache("")
	}
	if pacer == nil {
		pacer = pace.New(0)
	}
	return &Replayer{gw: gw, cache: cache, pacer: pacer, opts: opts, logger: logger}
}

// WithLedger enables resume tracking.
func (r *Replayer) WithLedger(l Ledger) *Replayer {
	r.ledger = l
	return r
}

// Slice returns the most recent max messages, oldest first. max of zero
// returns all of them.
func Slice(msgs []snapshot.MessageRecord, max int) []snapshot.MessageRecord {
	sorted := append([]snapshot.MessageRecord(nil), msgs...)
	snapshot.SortMessages(sorted)
	if max > 0 && len(sorted) > max {
		sorted = sorted[len(sorted)-max:]
	}
	return sorted
}

// Replay posts each target's message slice in order. Per-message failures
// are counted and the channel continues; fatal transport errors and
// cancellation stop the replay and are returned with the partial stats.
func (r *Replayer) Replay(ctx context.Context, targets []Target) (Stats, error) {
	var stats Stats
	for _, t := range targets {
		if !t.Type.Textual() {
			continue
		}
		if err := r.channel(ctx, t, &stats); err != nil {
			return stats, err
		}
		stats.Channels++
		if err := r.pacer.Wait(ctx, channelPause); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (r *Replayer) channel(ctx context.Context, t Target, stats *Stats) error {
	logger := r.logger.With("channel", t.Name)
	msgs := Slice(t.Messages, r.opts.MaxMessages)
	if len(msgs) == 0 {
		return nil
	}
	logger.Info("replaying messages", "count", len(msgs), "archived", len(t.Messages))

	relay, hasRelay, err := r.openRelay(ctx, t, logger)
	if err != nil {
		return err
	}
	if hasRelay {
		defer func() {
			// Tear down even when ctx is already cancelled.
			if err := r.gw.DeleteRelay(context.WithoutCancel(ctx), relay); err != nil {
				logger.Warn("failed to delete relay", "error", err)
			}
		}()
	}

	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.alreadyPosted(ctx, t.ChannelID, msg.ID, logger) {
			stats.Resumed++
			continue
		}
		out, ok := r.Compose(msg)
		if !ok {
			stats.Skipped++
			continue
		}

		if hasRelay {
			err = r.gw.ExecuteRelay(ctx, relay, out)
		} else {
			err = r.gw.SendMessage(ctx, t.ChannelID, Operator(out))
		}
		switch {
		case err == nil:
			stats.Restored++
			r.markPosted(ctx, t.ChannelID, msg.ID, logger)
		case gateway.IsFatal(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			stats.Failed++
			stats.Failures = append(stats.Failures, Failure{Channel: t.Name, MessageID: msg.ID, Err: err})
			logger.Warn("failed to post message", "message", msg.ID, "error", err)
		}

		mult := float64(messagePause)
		if i%burstEvery == 0 {
			mult = burstPause
		}
		if err := r.pacer.Wait(ctx, mult); err != nil {
			return err
		}
	}
	return nil
}

// openRelay creates a relay for plain text channels. Any non-fatal failure
// falls back to operator sends.
func (r *Replayer) openRelay(ctx context.Context, t Target, logger *slog.Logger) (gateway.Relay, bool, error) {
	if t.Type != snapshot.ChannelText {
		return gateway.Relay{}, false, nil
	}
	relay, err := r.gw.CreateRelay(ctx, t.ChannelID, RelayName)
	if err == nil {
		return relay, true, nil
	}
	if gateway.IsFatal(err) || ctx.Err() != nil {
		return gateway.Relay{}, false, err
	}
	logger.Warn("relay unavailable, posting as operator", "error", err)
	return gateway.Relay{}, false, nil
}

func (r *Replayer) alreadyPosted(ctx context.Context, channelID, messageID string, logger *slog.Logger) bool {
	if r.ledger == nil || messageID == "" {
		return false
	}
	done, err := r.ledger.Replayed(ctx, channelID, messageID)
	if err != nil {
		logger.Warn("ledger lookup failed", "message", messageID, "error", err)
		return false
	}
	return done
}

func (r *Replayer) markPosted(ctx context.Context, channelID, messageID string, logger *slog.Logger) {
	if r.ledger == nil || messageID == "" {
		return
	}
	if err := r.ledger.MarkReplayed(ctx, channelID, messageID); err != nil {
		logger.Warn("ledger update failed", "message", messageID, "error", err)
	}
}
