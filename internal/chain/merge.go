package chain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lherron/guildsnap/internal/paths"
	"github.com/lherron/guildsnap/internal/snapshot"
)

// MergedVersion is the backup_info version stamped on merged snapshots.
const MergedVersion = "1.1.1"

// ErrInvalidChain reports a chain that cannot be merged.
var ErrInvalidChain = fmt.Errorf("invalid chain: %w", snapshot.ErrValidation)

// Loader reads one snapshot file.
type Loader func(path string) (*snapshot.Snapshot, error)

// Merger folds chains into single complete snapshots.
type Merger struct {
	logger *slog.Logger
	load   Loader
	now    func() time.Time
}

// NewMerger returns a merger that loads files with snapshot.Load.
func NewMerger(logger *slog.Logger) *Merger {
	return &Merger{logger: logger, load: snapshot.Load, now: time.Now}
}

// WithClock replaces the clock used for the merged backup stamp.
func (m *Merger) WithClock(now func() time.Time) *Merger {
	m.now = now
	return m
}

// WithLoader replaces the snapshot loader.
func (m *Merger) WithLoader(load Loader) *Merger {
	m.load = load
	return m
}

// Merge folds c into a new snapshot. Input files and any loaded snapshots
// are never modified.
//
// Messages are unioned per channel by id and re-sorted by timestamp after
// every step; channels new in an incremental are taken whole; roles,
// emojis and stickers are last-writer-wins by id.
func (m *Merger) Merge(ctx context.Context, c *Chain) (*snapshot.Snapshot, error) {
	if c == nil || len(c.Entries) == 0 {
		return nil, fmt.Errorf("%w: chain is empty", ErrInvalidChain)
	}
	base := c.Entries[0]
	if base.Incremental {
		return nil, fmt.Errorf("%w: chain must start with a full backup, got incremental %s", ErrInvalidChain, base.Path)
	}

	logger := m.logger.With("chain", c.Key)
	logger.Info("merging backup chain", "backups", len(c.Entries))

	loaded, err := m.load(base.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load base %s: %w", base.Path, err)
	}
	merged, err := snapshot.Clone(loaded)
	if err != nil {
		return nil, err
	}

	messagesAdded := 0
	mediaAdded := 0
	incrementalPaths := make([]string, 0, len(c.Entries)-1)

	for _, entry := range c.Incrementals() {
		incrementalPaths = append(incrementalPaths, entry.Path)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Incremental {
			logger.Warn("skipping non-incremental backup in chain", "path", entry.Path)
			continue
		}

		raw, err := m.load(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load incremental %s: %w", entry.Path, err)
		}
		inc, err := snapshot.Clone(raw)
		if err != nil {
			return nil, err
		}

		added := mergeChannels(merged, inc, logger)
		mergeAssets(merged, inc)

		messagesAdded += added
		mediaAdded += inc.Stats.MediaFiles
		logger.Debug("merged incremental backup", "path", entry.Path, "messages_added", added)
	}

	now := m.now()
	merged.BackupInfo = snapshot.BackupInfo{
		Version:     MergedVersion,
		Timestamp:   snapshot.FormatTimestamp(now),
		Incremental: false,
		BackupName:  fmt.Sprintf("MERGED_%s_%s", base.ServerName, now.Format("20060102_150405")),
		ChainInfo: &snapshot.ChainInfo{
			FullBackup:                    base.Path,
			IncrementalBackups:            incrementalPaths,
			TotalBackupsMerged:            len(c.Entries),
			MessagesAddedFromIncrementals: messagesAdded,
			MediaAddedFromIncrementals:    mediaAdded,
		},
	}
	merged.Stats.TotalMessages += messagesAdded
	merged.Stats.TotalMediaFiles = merged.Stats.MediaFiles + mediaAdded

	logger.Info("chain merge completed", "messages_added", messagesAdded, "incrementals", len(c.Entries)-1)
	return merged, nil
}

// MergeFor merges the chain containing path. It returns nil without error
// when the file's chain has no incrementals to fold in.
func (m *Merger) MergeFor(ctx context.Context, ix *Index, path string) (*snapshot.Snapshot, error) {
	c, ok := ix.ChainFor(path)
	if !ok {
		return nil, fmt.Errorf("%w: no chain contains %s", ErrInvalidChain, path)
	}
	if len(c.Entries) == 1 {
		m.logger.Info("backup is already complete, no merge needed", "path", path)
		return nil, nil
	}
	return m.Merge(ctx, c)
}

// OutputPath is the default location for a merged snapshot under dir.
func OutputPath(dir string, s *snapshot.Snapshot) string {
	return filepath.Join(dir, paths.FileSafe(s.BackupInfo.BackupName)+".json")
}

func mergeChannels(dst, inc *snapshot.Snapshot, logger *slog.Logger) int {
	added := 0
	for id, ch := range inc.Channels {
		existing, ok := dst.Channels[id]
		if !ok {
			dst.Channels[id] = ch
			added += len(ch.Messages)
			logger.Debug("added new channel", "channel", ch.Name)
			continue
		}

		seen := make(map[string]struct{}, len(existing.Messages))
		for _, msg := range existing.Messages {
			seen[msg.ID] = struct{}{}
		}
		for _, msg := range ch.Messages {
			if msg.ID == "" {
				continue
			}
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
			existing.Messages = append(existing.Messages, msg)
			added++
		}
		snapshot.SortMessages(existing.Messages)
		dst.Channels[id] = existing
	}
	return added
}

func mergeAssets(dst, inc *snapshot.Snapshot) {
	for id, r := range inc.Roles {
		dst.Roles[id] = r
	}
	for id, e := range inc.Emojis {
		dst.Emojis[id] = e
	}
	for id, s := range inc.Stickers {
		dst.Stickers[id] = s
	}
}
