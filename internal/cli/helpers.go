package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lherron/guildsnap/internal/chain"
	"github.com/lherron/guildsnap/internal/cli/appctx"
	"github.com/lherron/guildsnap/internal/snapshot"
)

// loadSnapshot reads and validates the snapshot at path. With autoMerge
// set, an incremental chain is merged first and the merged snapshot is
// returned in its place.
func loadSnapshot(ctx context.Context, app *appctx.App, path string, autoMerge bool) (*snapshot.Snapshot, error) {
	snap, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}

	if autoMerge {
		ix, err := chain.Discover(ctx, filepath.Dir(path), app.Logger)
		if err != nil {
			return nil, err
		}
		merged, err := chain.NewMerger(app.Logger).MergeFor(ctx, ix, path)
		if err != nil {
			return nil, err
		}
		if merged != nil {
			snap = merged
		}
	} else if snap.BackupInfo.Incremental {
		app.Logger.Warn("snapshot is incremental; merge its chain first or pass --auto-merge", "path", path)
	}

	warnings, err := snapshot.Validate(snap)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, w := range warnings {
		app.Logger.Warn(w, "path", path)
	}
	return snap, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
