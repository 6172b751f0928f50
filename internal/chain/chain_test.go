package chain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/lherron/guildsnap/internal/logging"
	"github.com/lherron/guildsnap/internal/snapshot"
	"github.com/lherron/guildsnap/internal/testutil"
)

func header(path, serverID, name, ts string, incremental bool) snapshot.Header {
	return snapshot.Header{Path: path, ServerID: serverID, ServerName: name, Timestamp: ts, Incremental: incremental}
}

func TestBuildChains(t *testing.T) {
	ix := Build([]snapshot.Header{
		header("b.json", "1", "Guild", "2024-01-02T00:00:00", true),
		header("a.json", "1", "Guild", "2024-01-01T00:00:00.123456+00:00", false),
		header("c.json", "1", "Guild", "2024-01-03T00:00:00", false),
		header("d.json", "1", "Guild", "2024-01-04T00:00:00", true),
		header("e.json", "1", "Guild", "2024-01-05T00:00:00", true),
	})

	if len(ix.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d: %v", len(ix.Chains), ix.Keys())
	}

	first, ok := ix.Chains["Guild_2024-01-01T00:00:00"]
	if !ok {
		t.Fatalf("missing first chain, keys = %v", ix.Keys())
	}
	if got := entryPaths(first); !reflect.DeepEqual(got, []string{"a.json", "b.json"}) {
		t.Errorf("first chain = %v", got)
	}

	second := ix.Chains["Guild_2024-01-03T00:00:00"]
	if got := entryPaths(second); !reflect.DeepEqual(got, []string{"c.json", "d.json", "e.json"}) {
		t.Errorf("second chain = %v", got)
	}
	if len(ix.Orphans) != 0 {
		t.Errorf("unexpected orphans: %v", ix.Orphans)
	}
}

func TestBuildNeverMixesServers(t *testing.T) {
	// Same name and timestamps for two different servers.
	ix := Build([]snapshot.Header{
		header("s1-full.json", "1", "Twin", "2024-01-01T00:00:00", false),
		header("s2-full.json", "2", "Twin", "2024-01-01T00:00:00", false),
		header("s1-inc.json", "1", "Twin", "2024-01-02T00:00:00", true),
		header("s2-inc.json", "2", "Twin", "2024-01-02T00:00:00", true),
	})

	if len(ix.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %v", ix.Keys())
	}
	for key, c := range ix.Chains {
		for _, e := range c.Entries {
			if e.ServerID != c.ServerID {
				t.Errorf("chain %s mixes server %s into %s", key, e.ServerID, c.ServerID)
			}
		}
		if len(c.Entries) != 2 {
			t.Errorf("chain %s has %d entries, want 2", key, len(c.Entries))
		}
	}
}

func TestBuildKeepsSameSecondBases(t *testing.T) {
	ix := Build([]snapshot.Header{
		header("a.json", "1", "Guild", "2024-01-01T00:00:00.1", false),
		header("a1.json", "1", "Guild", "2024-01-01T00:00:00.2", true),
		header("b.json", "1", "Guild", "2024-01-01T00:00:00.5", false),
	})

	if len(ix.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %v", ix.Keys())
	}
	first, ok := ix.Chains["Guild_2024-01-01T00:00:00"]
	if !ok {
		t.Fatalf("missing first chain, keys = %v", ix.Keys())
	}
	if got := entryPaths(first); !reflect.DeepEqual(got, []string{"a.json", "a1.json"}) {
		t.Errorf("first chain = %v", got)
	}
	second, ok := ix.Chains["Guild_2024-01-01T00:00:00_2"]
	if !ok {
		t.Fatalf("missing second chain, keys = %v", ix.Keys())
	}
	if got := entryPaths(second); !reflect.DeepEqual(got, []string{"b.json"}) {
		t.Errorf("second chain = %v", got)
	}
	if second.Key != "Guild_2024-01-01T00:00:00_2" {
		t.Errorf("chain key = %q", second.Key)
	}
	if len(ix.Orphans) != 0 {
		t.Errorf("unexpected orphans: %v", ix.Orphans)
	}
}

func TestBuildOrphans(t *testing.T) {
	ix := Build([]snapshot.Header{
		header("orphan.json", "1", "Guild", "2024-01-01T00:00:00", true),
		header("full.json", "1", "Guild", "2024-01-02T00:00:00", false),
		header("other-orphan.json", "2", "Other", "2024-01-01T00:00:00", true),
	})

	if len(ix.Chains) != 1 {
		t.Fatalf("expected 1 chain, got %v", ix.Keys())
	}
	for _, c := range ix.Chains {
		for _, e := range c.Entries {
			if e.Incremental {
				t.Errorf("orphan %s was placed in chain %s", e.Path, c.Key)
			}
		}
	}
	if len(ix.Orphans) != 2 {
		t.Errorf("expected 2 orphans, got %v", ix.Orphans)
	}
}

func TestKey(t *testing.T) {
	h := header("x", "1", "My Guild", "2024-06-01T12:34:56.789012+00:00", false)
	if got := Key(h); got != "My Guild_2024-06-01T12:34:56" {
		t.Errorf("Key = %q", got)
	}
	short := header("x", "1", "G", "2024", false)
	if got := Key(short); got != "G_2024" {
		t.Errorf("Key = %q", got)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	full := testutil.NewSnapshot("1", "Guild", "2024-01-01T00:00:00", false)
	testutil.WriteSnapshot(t, dir, "full/backup.json", full)
	inc := testutil.NewSnapshot("1", "Guild", "2024-01-02T00:00:00", true)
	testutil.WriteSnapshot(t, dir, "inc/backup.json.gz", inc)
	other := testutil.NewSnapshot("2", "Other", "2024-01-01T00:00:00", false)
	testutil.WriteSnapshot(t, dir, "other.msgpack", other)
	orphan := testutil.NewSnapshot("3", "Lost", "2024-01-01T00:00:00", true)
	testutil.WriteSnapshot(t, dir, "lost.json", orphan)

	testutil.WriteFile(t, dir, "broken.json", []byte("{"))
	testutil.WriteFile(t, dir, "config.json", []byte(`{"token":"x"}`))
	testutil.WriteFile(t, dir, "media/icon.png", []byte("png"))

	ix, err := Discover(context.Background(), dir, logging.Discard())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if got := ix.Keys(); !reflect.DeepEqual(got, []string{"Guild_2024-01-01T00:00:00", "Other_2024-01-01T00:00:00"}) {
		t.Errorf("keys = %v", got)
	}
	if n := len(ix.Chains["Guild_2024-01-01T00:00:00"].Entries); n != 2 {
		t.Errorf("guild chain has %d entries, want 2", n)
	}
	if len(ix.Orphans) != 1 || ix.Orphans[0].ServerID != "3" {
		t.Errorf("orphans = %v", ix.Orphans)
	}

	c, ok := ix.ChainFor(filepath.Join(dir, "inc", "backup.json.gz"))
	if !ok || c.ServerID != "1" {
		t.Errorf("ChainFor did not find incremental: %v %v", c, ok)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), logging.Discard())
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestDescribe(t *testing.T) {
	c := &Chain{Key: "G_2024", ServerName: "G", Entries: []snapshot.Header{
		{Path: "a", Timestamp: "t1", Stats: snapshot.Stats{TotalMessages: 10, MediaFiles: 2}},
		{Path: "b", Timestamp: "t2", Incremental: true, Stats: snapshot.Stats{TotalMessages: 3, MediaFiles: 1}},
	}}
	info := Describe(c)
	if info.TotalMessages != 13 || info.TotalMediaFiles != 3 || info.TotalBackups != 2 {
		t.Errorf("unexpected totals: %+v", info)
	}
	if info.Start != "t1" || info.End != "t2" || len(info.Incrementals) != 1 {
		t.Errorf("unexpected range: %+v", info)
	}
}

func entryPaths(c *Chain) []string {
	var out []string
	for _, e := range c.Entries {
		out = append(out, e.Path)
	}
	return out
}

var fixedNow = time.Date(2024, 7, 4, 15, 30, 45, 0, time.UTC)

func newTestMerger() *Merger {
	return NewMerger(logging.Discard()).WithClock(func() time.Time { return fixedNow })
}

func writeChain(t *testing.T, dir string, snaps ...*snapshot.Snapshot) *Chain {
	t.Helper()
	var headers []snapshot.Header
	for i, s := range snaps {
		path := testutil.WriteSnapshot(t, dir, filepath.Join("b", string(rune('a'+i))+".json"), s)
		h, err := snapshot.Peek(path)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		headers = append(headers, h)
	}
	ix := Build(headers)
	if len(ix.Chains) != 1 {
		t.Fatalf("expected one chain, got %v", ix.Keys())
	}
	for _, c := range ix.Chains {
		return c
	}
	return nil
}

func TestMergeSingleElementChain(t *testing.T) {
	dir := t.TempDir()
	base := testutil.NewSnapshot("1", "Guild", "2024-01-01T00:00:00", false)
	testutil.AddChannel(base, "c1", "general", snapshot.ChannelText,
		testutil.Message("m2", "2024-01-01T00:02:00", "second"),
		testutil.Message("m1", "2024-01-01T00:01:00", "first"))
	c := writeChain(t, dir, base)

	merged, err := newTestMerger().Merge(context.Background(), c)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if !reflect.DeepEqual(merged.Channels, base.Channels) {
		t.Errorf("channels differ from base:\n got %+v\nwant %+v", merged.Channels, base.Channels)
	}
	if merged.BackupInfo.Incremental || merged.BackupInfo.Version != MergedVersion {
		t.Errorf("unexpected backup info: %+v", merged.BackupInfo)
	}
	if merged.BackupInfo.BackupName != "MERGED_Guild_20240704_153045" {
		t.Errorf("backup name = %q", merged.BackupInfo.BackupName)
	}
	if ci := merged.BackupInfo.ChainInfo; ci == nil || ci.TotalBackupsMerged != 1 || len(ci.IncrementalBackups) != 0 {
		t.Errorf("unexpected chain info: %+v", ci)
	}
}

func TestMergeUnionsMessages(t *testing.T) {
	dir := t.TempDir()

	full := testutil.NewSnapshot("1", "Guild", "2024-01-01T00:00:00", false)
	testutil.AddChannel(full, "C", "general", snapshot.ChannelText,
		testutil.Message("m0", "2024-01-01T00:00:00", "zero"))
	full.Stats.MediaFiles = 4
	testutil.AddRole(full, "r1", "Old", 1)

	m1 := testutil.Message("M1", "2024-01-02T00:00:00", "one")
	m2 := testutil.Message("M2", "2024-01-03T00:00:00", "two")

	inc1 := testutil.NewSnapshot("1", "Guild", "2024-01-02T00:00:00", true)
	testutil.AddChannel(inc1, "C", "general", snapshot.ChannelText, m1)
	testutil.AddChannel(inc1, "N", "new-channel", snapshot.ChannelText,
		testutil.Message("n1", "2024-01-02T00:00:00", "fresh"))
	testutil.AddRole(inc1, "r1", "Renamed", 1)
	inc1.Stats.MediaFiles = 2

	inc2 := testutil.NewSnapshot("1", "Guild", "2024-01-03T00:00:00", true)
	// m2 deliberately precedes the repeated m1.
	testutil.AddChannel(inc2, "C", "general", snapshot.ChannelText, m2, m1)
	inc2.Emojis["e1"] = snapshot.EmojiRecord{ID: "e1", Name: "wave"}
	inc2.Stats.MediaFiles = 1

	c := writeChain(t, dir, full, inc1, inc2)
	baseRev := fileRev(t, c.Entries[0].Path)

	merged, err := newTestMerger().Merge(context.Background(), c)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	var ids []string
	for _, m := range merged.Channels["C"].Messages {
		ids = append(ids, m.ID)
	}
	if !reflect.DeepEqual(ids, []string{"m0", "M1", "M2"}) {
		t.Errorf("channel C messages = %v, want [m0 M1 M2]", ids)
	}

	if _, ok := merged.Channels["N"]; !ok {
		t.Error("new channel from incremental missing")
	}
	if merged.Roles["r1"].Name != "Renamed" {
		t.Errorf("role not overwritten: %+v", merged.Roles["r1"])
	}
	if _, ok := merged.Emojis["e1"]; !ok {
		t.Error("emoji from incremental missing")
	}

	ci := merged.BackupInfo.ChainInfo
	// M1, n1, M2
	if ci.MessagesAddedFromIncrementals != 3 {
		t.Errorf("messages added = %d, want 3", ci.MessagesAddedFromIncrementals)
	}
	if ci.MediaAddedFromIncrementals != 3 {
		t.Errorf("media added = %d, want 3", ci.MediaAddedFromIncrementals)
	}
	if ci.TotalBackupsMerged != 3 || len(ci.IncrementalBackups) != 2 || ci.FullBackup != c.Entries[0].Path {
		t.Errorf("unexpected provenance: %+v", ci)
	}
	if merged.Stats.TotalMessages != 1+3 {
		t.Errorf("total messages = %d, want 4", merged.Stats.TotalMessages)
	}
	if merged.Stats.TotalMediaFiles != 4+3 {
		t.Errorf("total media files = %d, want 7", merged.Stats.TotalMediaFiles)
	}

	if fileRev(t, c.Entries[0].Path) != baseRev {
		t.Error("base file was modified by merge")
	}
}

func TestMergeDoesNotMutateLoadedSnapshots(t *testing.T) {
	base := testutil.NewSnapshot("1", "G", "2024-01-01T00:00:00", false)
	testutil.AddChannel(base, "C", "general", snapshot.ChannelText, testutil.Message("a", "2024-01-01T00:00:00", "a"))
	inc := testutil.NewSnapshot("1", "G", "2024-01-02T00:00:00", true)
	testutil.AddChannel(inc, "C", "general", snapshot.ChannelText, testutil.Message("b", "2024-01-02T00:00:00", "b"))

	cache := map[string]*snapshot.Snapshot{"base": base, "inc": inc}
	m := newTestMerger().WithLoader(func(path string) (*snapshot.Snapshot, error) {
		return cache[path], nil
	})

	c := &Chain{Key: "k", Entries: []snapshot.Header{
		{Path: "base", ServerName: "G"},
		{Path: "inc", Incremental: true},
	}}
	if _, err := m.Merge(context.Background(), c); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if n := len(base.Channels["C"].Messages); n != 1 {
		t.Errorf("base snapshot mutated: %d messages", n)
	}
	if base.BackupInfo.Version != "1.0.0" {
		t.Errorf("base backup_info mutated: %+v", base.BackupInfo)
	}
}

func TestMergeInvalidChain(t *testing.T) {
	m := newTestMerger()

	if _, err := m.Merge(context.Background(), &Chain{}); !errors.Is(err, ErrInvalidChain) {
		t.Errorf("empty chain: expected ErrInvalidChain, got %v", err)
	}

	c := &Chain{Entries: []snapshot.Header{{Path: "inc.json", Incremental: true}}}
	_, err := m.Merge(context.Background(), c)
	if !errors.Is(err, ErrInvalidChain) || !errors.Is(err, snapshot.ErrValidation) {
		t.Errorf("incremental first: expected validation error, got %v", err)
	}
}

func TestMergeSkipsNonIncremental(t *testing.T) {
	base := testutil.NewSnapshot("1", "G", "2024-01-01T00:00:00", false)
	testutil.AddChannel(base, "C", "general", snapshot.ChannelText)
	stray := testutil.NewSnapshot("1", "G", "2024-01-02T00:00:00", false)
	testutil.AddChannel(stray, "C", "general", snapshot.ChannelText, testutil.Message("x", "2024-01-02T00:00:00", "x"))

	loads := 0
	m := newTestMerger().WithLoader(func(path string) (*snapshot.Snapshot, error) {
		loads++
		if path == "stray" {
			return stray, nil
		}
		return base, nil
	})

	c := &Chain{Entries: []snapshot.Header{{Path: "base", ServerName: "G"}, {Path: "stray"}}}
	merged, err := m.Merge(context.Background(), c)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if loads != 1 {
		t.Errorf("stray full backup should not be loaded, loads = %d", loads)
	}
	if n := len(merged.Channels["C"].Messages); n != 0 {
		t.Errorf("stray messages merged: %d", n)
	}
}

func TestMergeStorageFailure(t *testing.T) {
	dir := t.TempDir()
	base := testutil.NewSnapshot("1", "G", "2024-01-01T00:00:00", false)
	c := writeChain(t, dir, base)
	c.Entries = append(c.Entries, snapshot.Header{Path: filepath.Join(dir, "gone.json"), Incremental: true})

	_, err := newTestMerger().Merge(context.Background(), c)
	if !errors.Is(err, snapshot.ErrStorage) {
		t.Errorf("expected storage error, got %v", err)
	}
}

func TestMergeFor(t *testing.T) {
	dir := t.TempDir()
	full := testutil.NewSnapshot("1", "G", "2024-01-01T00:00:00", false)
	fullPath := testutil.WriteSnapshot(t, dir, "full.json", full)
	single := testutil.NewSnapshot("2", "H", "2024-01-01T00:00:00", false)
	singlePath := testutil.WriteSnapshot(t, dir, "single.json", single)
	inc := testutil.NewSnapshot("1", "G", "2024-01-02T00:00:00", true)
	testutil.WriteSnapshot(t, dir, "inc.json", inc)

	ix, err := Discover(context.Background(), dir, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	m := newTestMerger()

	merged, err := m.MergeFor(context.Background(), ix, fullPath)
	if err != nil || merged == nil {
		t.Fatalf("MergeFor(full) = %v, %v", merged, err)
	}
	if got := OutputPath(dir, merged); got != filepath.Join(dir, "MERGED_G_20240704_153045.json") {
		t.Errorf("OutputPath = %q", got)
	}

	merged, err = m.MergeFor(context.Background(), ix, singlePath)
	if err != nil || merged != nil {
		t.Errorf("MergeFor(single) = %v, %v; want nil, nil", merged, err)
	}

	if _, err := m.MergeFor(context.Background(), ix, filepath.Join(dir, "unknown.json")); !errors.Is(err, ErrInvalidChain) {
		t.Errorf("expected ErrInvalidChain, got %v", err)
	}
}

func fileRev(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return snapshot.ComputeRev(data)
}
