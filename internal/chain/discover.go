// Package chain groups snapshot files into chains (one base plus its
// trailing incrementals) and folds a chain into one complete snapshot.
package chain

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/lherron/guildsnap/internal/paths"
	"github.com/lherron/guildsnap/internal/snapshot"
)

// Chain is an ordered base snapshot followed by its incrementals, all for
// one source server.
type Chain struct {
	Key        string
	ServerID   string
	ServerName string
	Entries    []snapshot.Header
}

// Base returns the chain's first (non-incremental) entry.
func (c *Chain) Base() snapshot.Header {
	return c.Entries[0]
}

// Incrementals returns the entries after the base.
func (c *Chain) Incrementals() []snapshot.Header {
	return c.Entries[1:]
}

// Index is the result of scanning a backup directory.
type Index struct {
	Chains map[string]*Chain
	// Orphans are incrementals with no preceding base for their server.
	// They belong to no chain.
	Orphans []snapshot.Header
}

// Keys returns the chain keys in sorted order.
func (ix *Index) Keys() []string {
	keys := make([]string, 0, len(ix.Chains))
	for k := range ix.Chains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChainFor returns the chain containing the snapshot at path.
func (ix *Index) ChainFor(path string) (*Chain, bool) {
	want := absPath(path)
	for _, key := range ix.Keys() {
		c := ix.Chains[key]
		for _, e := range c.Entries {
			if absPath(e.Path) == want {
				return c, true
			}
		}
	}
	return nil, false
}

// Discover scans dir recursively for snapshot files and builds chains.
// Files that cannot be decoded or lack the minimal snapshot shape are
// skipped.
func Discover(ctx context.Context, dir string, logger *slog.Logger) (*Index, error) {
	var headers []snapshot.Header

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil || !paths.MatchAny(paths.SnapshotPatterns, rel) {
			return nil
		}

		h, err := snapshot.Peek(path)
		if err != nil {
			logger.Debug("skipping candidate file", "path", path, "error", err)
			return nil
		}
		headers = append(headers, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	ix := Build(headers)
	for _, o := range ix.Orphans {
		logger.Warn("incremental snapshot has no base, excluded from chains",
			"path", o.Path, "server", o.ServerName, "timestamp", o.Timestamp)
	}
	logger.Info("discovered backup chains", "dir", dir, "chains", len(ix.Chains), "orphans", len(ix.Orphans))

	return ix, nil
}

// Build partitions headers into chains. Headers are grouped by server id
// and ordered by timestamp; a non-incremental header opens a new chain and
// an incremental joins the open chain for its server.
func Build(headers []snapshot.Header) *Index {
	ix := &Index{Chains: make(map[string]*Chain)}

	byServer := make(map[string][]snapshot.Header)
	for _, h := range headers {
		byServer[h.ServerID] = append(byServer[h.ServerID], h)
	}

	serverIDs := make([]string, 0, len(byServer))
	for id := range byServer {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)

	for _, id := range serverIDs {
		group := byServer[id]
		sortHeaders(group)

		var open *Chain
		for _, h := range group {
			if !h.Incremental {
				if open != nil {
					ix.add(open)
				}
				open = &Chain{ServerID: h.ServerID, ServerName: h.ServerName, Entries: []snapshot.Header{h}}
				continue
			}
			if open == nil {
				ix.Orphans = append(ix.Orphans, h)
				continue
			}
			open.Entries = append(open.Entries, h)
		}
		if open != nil {
			ix.add(open)
		}
	}

	return ix
}

func (ix *Index) add(c *Chain) {
	key := Key(c.Base())
	if existing, ok := ix.Chains[key]; ok && existing.ServerID != c.ServerID {
		key = key + "_" + c.ServerID
	}
	// Bases taken within the same second share a key; later ones get a
	// counter so no chain is overwritten.
	if _, taken := ix.Chains[key]; taken {
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d", key, n)
			if _, taken := ix.Chains[candidate]; !taken {
				key = candidate
				break
			}
		}
	}
	c.Key = key
	ix.Chains[key] = c
}

// Key derives the chain key from its base: server name plus the first 19
// characters (second precision) of the base timestamp.
func Key(base snapshot.Header) string {
	ts := base.Timestamp
	if len(ts) > 19 {
		ts = ts[:19]
	}
	return base.ServerName + "_" + ts
}

func sortHeaders(hs []snapshot.Header) {
	sort.SliceStable(hs, func(i, j int) bool {
		ti, tj := hs[i].Time(), hs[j].Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if hs[i].Timestamp != hs[j].Timestamp {
			return hs[i].Timestamp < hs[j].Timestamp
		}
		return hs[i].Path < hs[j].Path
	})
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Info summarizes a chain for display.
type Info struct {
	Key             string         `json:"key" yaml:"key"`
	ServerName      string         `json:"server_name" yaml:"server_name"`
	ServerID        string         `json:"server_id" yaml:"server_id"`
	Base            EntrySummary   `json:"full_backup" yaml:"full_backup"`
	Incrementals    []EntrySummary `json:"incremental_backups" yaml:"incremental_backups"`
	TotalBackups    int            `json:"total_backups" yaml:"total_backups"`
	TotalMessages   int            `json:"total_messages" yaml:"total_messages"`
	TotalMediaFiles int            `json:"total_media_files" yaml:"total_media_files"`
	Start           string         `json:"start" yaml:"start"`
	End             string         `json:"end" yaml:"end"`
}

type EntrySummary struct {
	Path       string `json:"path" yaml:"path"`
	Timestamp  string `json:"timestamp" yaml:"timestamp"`
	Messages   int    `json:"messages" yaml:"messages"`
	MediaFiles int    `json:"media_files" yaml:"media_files"`
}

// Describe builds the display summary of a chain.
func Describe(c *Chain) Info {
	info := Info{
		Key:          c.Key,
		ServerName:   c.ServerName,
		ServerID:     c.ServerID,
		Base:         summarize(c.Base()),
		Incrementals: []EntrySummary{},
		TotalBackups: len(c.Entries),
		Start:        c.Base().Timestamp,
		End:          c.Entries[len(c.Entries)-1].Timestamp,
	}
	for _, e := range c.Entries {
		info.TotalMessages += e.Stats.TotalMessages
		info.TotalMediaFiles += e.Stats.MediaFiles
	}
	for _, e := range c.Incrementals() {
		info.Incrementals = append(info.Incrementals, summarize(e))
	}
	return info
}

func summarize(h snapshot.Header) EntrySummary {
	return EntrySummary{
		Path:       h.Path,
		Timestamp:  h.Timestamp,
		Messages:   h.Stats.TotalMessages,
		MediaFiles: h.Stats.MediaFiles,
	}
}
