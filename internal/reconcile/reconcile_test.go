package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/logging"
	"github.com/lherron/guildsnap/internal/media"
	"github.com/lherron/guildsnap/internal/pace"
	"github.com/lherron/guildsnap/internal/replay"
	"github.com/lherron/guildsnap/internal/snapshot"
	"github.com/lherron/guildsnap/internal/testutil"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(gw gateway.Gateway, root string, opts Options) *Engine {
	return New(gw, media.NewCache(root), pace.New(0), opts, logging.Discard())
}

func structureOnly() Options {
	return Options{SkipMedia: true, SkipMessages: true}
}

func baseSnapshot() *snapshot.Snapshot {
	s := testutil.NewSnapshot("src", "Guild", "2024-01-01T00:00:00Z", false)
	testutil.AddChannel(s, "c1", "general", snapshot.ChannelText)
	testutil.AddChannel(s, "c2", "rules", snapshot.ChannelText)
	testutil.AddChannel(s, "c3", "voice-lounge", snapshot.ChannelVoice)
	return s
}

func baseTarget() gateway.Guild {
	return gateway.Guild{
		ID:   "g1",
		Name: "Guild",
		Channels: []gateway.Channel{
			gateway.TextChannel("t1", "general"),
			gateway.TextChannel("t2", "off-topic"),
		},
		Roles: []gateway.Role{{ID: "g1", Name: "@everyone", Default: true}},
	}
}

func mutations(calls []gateway.Call) []gateway.Call {
	var out []gateway.Call
	for _, c := range calls {
		if strings.HasPrefix(c.Op, "create_") || strings.HasPrefix(c.Op, "delete_") {
			out = append(out, c)
		}
	}
	return out
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestScenarioRemovesCreatesAndMaps(t *testing.T) {
	gw := gateway.NewMemory(baseTarget())
	res, err := newEngine(gw, "", structureOnly()).Run(context.Background(), "g1", baseSnapshot())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.ChannelsRemoved != 1 || res.ChannelsCreated != 2 || res.ChannelsExisting != 1 {
		t.Fatalf("counts = removed %d created %d existing %d", res.ChannelsRemoved, res.ChannelsCreated, res.ChannelsExisting)
	}
	if _, ok := gw.ChannelByName("off-topic"); ok {
		t.Error("off-topic was not removed")
	}
	for _, name := range []string{"general", "rules", "voice-lounge"} {
		if _, ok := gw.ChannelByName(name); !ok {
			t.Errorf("channel %s missing on target", name)
		}
	}
	if res.Mapping.Channels["c1"] != "t1" {
		t.Errorf("general mapped to %q, want existing t1", res.Mapping.Channels["c1"])
	}
	for _, c := range gw.Calls() {
		if c.Op == "create_channel" && c.Target == "general" {
			t.Error("general was recreated")
		}
	}
	if res.Phase != PhaseDone {
		t.Errorf("phase = %v, want done", res.Phase)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
}

func fullSnapshot(t *testing.T, root string) *snapshot.Snapshot {
	t.Helper()
	s := testutil.NewSnapshot("src", "Renamed Guild", "2024-01-01T00:00:00Z", false)
	s.ServerInfo.Description = "a place"
	testutil.AddChannel(s, "cat", "Info", snapshot.ChannelCategory)
	testutil.AddChannel(s, "c1", "general", snapshot.ChannelText, testutil.Messages("m", start, 3)...)
	testutil.AddChannel(s, "c2", "rules", snapshot.ChannelText)
	testutil.AddChannel(s, "c3", "voice-lounge", snapshot.ChannelVoice)
	rules := s.Channels["c2"]
	rules.CategoryID = "cat"
	s.Channels["c2"] = rules

	testutil.AddRole(s, "src", "@everyone", 0)
	testutil.AddRole(s, "r1", "Member", 1)
	testutil.AddRole(s, "r2", "Mod", 2)

	testutil.WriteFile(t, root, "emojis/wave.png", []byte("png"))
	s.Emojis["e1"] = snapshot.EmojiRecord{ID: "e1", Name: "wave", LocalPath: "emojis/wave.png"}
	testutil.WriteFile(t, root, "stickers/hi.png", []byte("png"))
	s.Stickers["s1"] = snapshot.StickerRecord{ID: "s1", Name: "hi", Tags: "wave", LocalPath: "stickers/hi.png"}
	return s
}

func TestSecondRunMakesNoChanges(t *testing.T) {
	root := t.TempDir()
	snap := fullSnapshot(t, root)
	gw := gateway.NewMemory(baseTarget())
	eng := newEngine(gw, root, Options{SkipMessages: true})

	first, err := eng.Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.RolesCreated != 2 || first.ChannelsCreated != 3 || first.EmojisCreated != 1 || first.StickersCreated != 1 || !first.ServerRenamed {
		t.Fatalf("unexpected first run: %+v", first)
	}
	before := len(mutations(gw.Calls()))

	second, err := eng.Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if extra := mutations(gw.Calls())[before:]; len(extra) != 0 {
		t.Errorf("second run mutated the target: %v", extra)
	}
	if second.RolesCreated+second.RolesRemoved+second.ChannelsCreated+second.ChannelsRemoved != 0 || second.ServerRenamed {
		t.Errorf("second run counts = %+v", second)
	}
	if second.ChannelsExisting != 4 || second.RolesExisting != 2 {
		t.Errorf("existing = %d channels, %d roles", second.ChannelsExisting, second.RolesExisting)
	}
	if !reflect.DeepEqual(first.Mapping.Channels, second.Mapping.Channels) {
		t.Errorf("mapping changed between runs:\n%v\n%v", first.Mapping.Channels, second.Mapping.Channels)
	}
}

func TestPreviewMatchesApply(t *testing.T) {
	root := t.TempDir()
	snap := fullSnapshot(t, root)
	target := baseTarget()
	target.Roles = append(target.Roles,
		gateway.Role{ID: "old", Name: "Old Role"},
		gateway.Role{ID: "bot", Name: "Some Bot", Managed: true},
		gateway.Role{ID: "mod", Name: "mod"},
	)
	gw := gateway.NewMemory(target)
	eng := newEngine(gw, root, structureOnly())

	preview, err := eng.Preview(context.Background(), "g1", snap)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if n := len(mutations(gw.Calls())); n != 0 {
		t.Fatalf("preview made %d mutating calls", n)
	}

	res, err := eng.Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	acted := res.Acted()

	pairs := []struct {
		name          string
		preview, done []string
	}{
		{"channels to remove", preview.ChannelsToRemove, acted.ChannelsRemoved},
		{"roles to remove", preview.RolesToRemove, acted.RolesRemoved},
		{"roles to create", preview.RolesToCreate, acted.RolesCreated},
		{"channels to create", preview.ChannelsToCreate, acted.ChannelsCreated},
	}
	for _, p := range pairs {
		if !reflect.DeepEqual(sorted(p.preview), sorted(p.done)) {
			t.Errorf("%s: preview %v, apply %v", p.name, p.preview, p.done)
		}
	}

	if !reflect.DeepEqual(preview.RolesToRemove, []string{"Old Role"}) {
		t.Errorf("roles to remove = %v", preview.RolesToRemove)
	}
	if !reflect.DeepEqual(preview.RolesToCreate, []string{"Member"}) {
		t.Errorf("roles to create = %v; Mod exists case-insensitively", preview.RolesToCreate)
	}
	if preview.ChannelsToCreate[0] != "Info" {
		t.Errorf("categories must come first: %v", preview.ChannelsToCreate)
	}
	if preview.Rename == nil || preview.Rename.From != "Guild" || preview.Rename.To != "Renamed Guild" {
		t.Errorf("rename = %+v", preview.Rename)
	}
	if !containsSubstring(preview.Warnings, `channel "general" already exists`) {
		t.Errorf("missing exists warning: %v", preview.Warnings)
	}
}

func TestStructureDiff(t *testing.T) {
	gw := gateway.NewMemory(baseTarget())
	eng := newEngine(gw, "", structureOnly())

	preview, err := eng.Preview(context.Background(), "g1", baseSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	diff, err := preview.StructureDiff()
	if err != nil {
		t.Fatalf("StructureDiff failed: %v", err)
	}
	for _, want := range []string{"--- target", "+++ after restore", "-channel  #off-topic (text)", "+channel  #rules (text)", "+channel  #voice-lounge (voice)"} {
		if !strings.Contains(diff, want) {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}

	if _, err := eng.Run(context.Background(), "g1", baseSnapshot()); err != nil {
		t.Fatal(err)
	}
	preview, err = eng.Preview(context.Background(), "g1", baseSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if !preview.Empty() {
		t.Errorf("preview after apply not empty: %+v", preview)
	}
	if diff, _ := preview.StructureDiff(); diff != "" {
		t.Errorf("expected empty diff, got:\n%s", diff)
	}
}

func emojiTarget(count int) gateway.Guild {
	g := baseTarget()
	for i := 0; i < count; i++ {
		g.Emojis = append(g.Emojis, gateway.Asset{ID: fmt.Sprintf("x%d", i), Name: fmt.Sprintf("existing%d", i)})
	}
	return g
}

func emojiSnapshot(t *testing.T, root string, n int) *snapshot.Snapshot {
	t.Helper()
	s := baseSnapshot()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("new%d", i)
		testutil.WriteFile(t, root, "emojis/"+name+".png", []byte("png"))
		s.Emojis[name] = snapshot.EmojiRecord{ID: name, Name: name, LocalPath: "emojis/" + name + ".png"}
	}
	return s
}

func TestEmojiLimitPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      LimitPolicy
		wantCreated int
		wantSkipped int
	}{
		{"enforce", Enforce, 0, 3},
		{"advisory", Advisory, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			gw := gateway.NewMemory(emojiTarget(50))
			if limit := gw.State().Limits.Emojis; limit != 50 {
				t.Fatalf("tier 0 emoji limit = %d, want 50", limit)
			}
			eng := newEngine(gw, root, Options{SkipMessages: true, EmojiPolicy: tt.policy})

			res, err := eng.Run(context.Background(), "g1", emojiSnapshot(t, root, 3))
			if err != nil {
				t.Fatal(err)
			}
			if res.EmojisCreated != tt.wantCreated || res.EmojisSkipped != tt.wantSkipped {
				t.Errorf("created %d skipped %d, want %d/%d", res.EmojisCreated, res.EmojisSkipped, tt.wantCreated, tt.wantSkipped)
			}
			if got := len(gw.State().Emojis); got != 50+tt.wantCreated {
				t.Errorf("target holds %d emojis", got)
			}
		})
	}
}

func TestEmojiLimitReachedMidway(t *testing.T) {
	root := t.TempDir()
	gw := gateway.NewMemory(emojiTarget(48))
	res, err := newEngine(gw, root, Options{SkipMessages: true}).Run(context.Background(), "g1", emojiSnapshot(t, root, 5))
	if err != nil {
		t.Fatal(err)
	}
	if res.EmojisCreated != 2 || res.EmojisSkipped != 3 {
		t.Errorf("created %d skipped %d, want 2/3", res.EmojisCreated, res.EmojisSkipped)
	}
}

func TestMissingMediaIsSkipped(t *testing.T) {
	root := t.TempDir()
	snap := baseSnapshot()
	snap.Emojis["e1"] = snapshot.EmojiRecord{ID: "e1", Name: "ghost", LocalPath: "emojis/ghost.png"}
	snap.Stickers["s1"] = snapshot.StickerRecord{ID: "s1", Name: "nofile"}
	snap.ServerInfo.LocalIconPath = "server/icon.png"

	gw := gateway.NewMemory(baseTarget())
	res, err := newEngine(gw, root, Options{SkipMessages: true}).Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatal(err)
	}
	if res.EmojisSkipped != 1 || res.StickersSkipped != 1 || res.EmojisCreated != 0 {
		t.Errorf("unexpected media counts: %+v", res)
	}
	if !containsSubstring(res.Warnings, `emoji "ghost": no cached file`) || !containsSubstring(res.Warnings, "server icon") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	for _, c := range gw.Calls() {
		if c.Op == "edit_guild" {
			t.Error("edit issued without anything to change")
		}
	}
}

func TestForbiddenIsRecordedAndRunContinues(t *testing.T) {
	gw := gateway.NewMemory(baseTarget())
	forbidden := &gateway.TransportError{Kind: gateway.Forbidden, Status: 403, Op: "delete channel", Err: errors.New("missing permissions")}
	gw.FailOn("delete_channel", "t2", forbidden)
	gw.FailOn("create_channel", "rules", &gateway.TransportError{Kind: gateway.OtherHTTP, Status: 400, Op: "create channel", Err: errors.New("bad")})
	gw.FailOn("edit_guild", "g1", &gateway.TransportError{Kind: gateway.Forbidden, Status: 403, Op: "edit guild", Err: errors.New("missing permissions")})

	snap := baseSnapshot()
	snap.ServerInfo.Name = "New Name"

	res, err := newEngine(gw, "", structureOnly()).Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want 2", res.Errors)
	}
	first := res.Errors[0]
	if first.Phase != PhaseCleanup || first.Kind != "channel" || first.Name != "off-topic" || first.Transport() != gateway.Forbidden {
		t.Errorf("unexpected first error: %+v", first)
	}
	if !errors.Is(first, first.Err) {
		t.Error("EntityError does not unwrap")
	}
	if res.Errors[1].Phase != PhaseChannels || res.Errors[1].Name != "rules" {
		t.Errorf("unexpected second error: %+v", res.Errors[1])
	}
	if _, ok := gw.ChannelByName("voice-lounge"); !ok {
		t.Error("processing stopped after a failed entity")
	}
	if res.ServerRenamed || !containsSubstring(res.Warnings, "no permission to rename") {
		t.Errorf("forbidden rename should be a warning: renamed=%v warnings=%v", res.ServerRenamed, res.Warnings)
	}
	if res.Phase != PhaseDone {
		t.Errorf("phase = %v", res.Phase)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var summary struct {
		Phase  string   `json:"phase"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if summary.Phase != "done" || !reflect.DeepEqual(summary.Errors, res.ErrorStrings()) || len(summary.Errors) != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if !strings.Contains(summary.Errors[0], "off-topic") || !strings.Contains(summary.Errors[0], "missing permissions") {
		t.Errorf("first error text = %q", summary.Errors[0])
	}
}

func TestFatalErrorAborts(t *testing.T) {
	gw := gateway.NewMemory(baseTarget())
	gw.FailOn("delete_channel", "t2", &gateway.FatalError{Op: "delete channel", Err: errors.New("401 unauthorized")})

	res, err := newEngine(gw, "", structureOnly()).Run(context.Background(), "g1", baseSnapshot())
	if !gateway.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if res == nil || res.Phase != PhaseCleanup {
		t.Fatalf("partial result missing or wrong phase: %+v", res)
	}
	if res.ChannelsCreated != 0 || len(mutations(gw.Calls())) != 0 {
		t.Error("run continued after fatal error")
	}
}

func TestCancelledRunStops(t *testing.T) {
	gw := gateway.NewMemory(baseTarget())
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel on the first pause, after the first removal.
	p := pace.New(time.Millisecond).WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})
	eng := New(gw, nil, p, structureOnly(), logging.Discard())

	res, err := eng.Run(ctx, "g1", baseSnapshot())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res.ChannelsRemoved != 1 || res.ChannelsCreated != 0 {
		t.Errorf("unexpected progress: %+v", res)
	}
}

func TestParentFallback(t *testing.T) {
	snap := baseSnapshot()
	testutil.AddChannel(snap, "cat", "Info", snapshot.ChannelCategory)
	rules := snap.Channels["c2"]
	rules.CategoryID = "cat"
	snap.Channels["c2"] = rules
	lounge := snap.Channels["c3"]
	lounge.CategoryID = "missing"
	snap.Channels["c3"] = lounge

	gw := gateway.NewMemory(baseTarget())
	gw.FailOn("create_channel", "Info", &gateway.TransportError{Kind: gateway.Forbidden, Status: 403, Op: "create channel", Err: errors.New("no")})

	res, err := newEngine(gw, "", structureOnly()).Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"rules", "voice-lounge"} {
		c, ok := gw.ChannelByName(name)
		if !ok {
			t.Fatalf("%s not created", name)
		}
		if c.ParentID != "" {
			t.Errorf("%s has parent %q", name, c.ParentID)
		}
	}
	if !containsSubstring(res.Warnings, `channel "rules": parent category cat was not restored`) {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestParentResolvesToExistingCategory(t *testing.T) {
	snap := baseSnapshot()
	testutil.AddChannel(snap, "cat", "Info", snapshot.ChannelCategory)
	rules := snap.Channels["c2"]
	rules.CategoryID = "cat"
	snap.Channels["c2"] = rules

	target := baseTarget()
	target.Channels = append(target.Channels, gateway.Channel{ID: "tc", Name: "info", Type: snapshot.ChannelCategory})
	gw := gateway.NewMemory(target)

	if _, err := newEngine(gw, "", structureOnly()).Run(context.Background(), "g1", snap); err != nil {
		t.Fatal(err)
	}
	c, _ := gw.ChannelByName("rules")
	if c.ParentID != "tc" {
		t.Errorf("rules parent = %q, want existing category tc", c.ParentID)
	}
}

func TestUnsupportedChannelTypeSkipped(t *testing.T) {
	snap := baseSnapshot()
	testutil.AddChannel(snap, "st", "stage", snapshot.ChannelStage)

	gw := gateway.NewMemory(baseTarget())
	res, err := newEngine(gw, "", structureOnly()).Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatal(err)
	}
	if res.ChannelsSkipped != 1 || len(res.Errors) != 0 {
		t.Errorf("skipped = %d errors = %v", res.ChannelsSkipped, res.Errors)
	}
	if _, ok := gw.ChannelByName("stage"); ok {
		t.Error("unsupported channel was created")
	}
}

func TestChannelSpecClamps(t *testing.T) {
	limits := gateway.TierLimits(0)
	tests := []struct {
		name string
		rec  snapshot.ChannelRecord
		want gateway.ChannelSpec
	}{
		{
			name: "voice bitrate over tier",
			rec:  snapshot.ChannelRecord{Name: "v", Type: snapshot.ChannelVoice, Bitrate: 384000, UserLimit: 120},
			want: gateway.ChannelSpec{Name: "v", Type: snapshot.ChannelVoice, Bitrate: 96000, UserLimit: 99},
		},
		{
			name: "voice within limits",
			rec:  snapshot.ChannelRecord{Name: "v", Type: snapshot.ChannelVoice, Bitrate: 64000, UserLimit: 5},
			want: gateway.ChannelSpec{Name: "v", Type: snapshot.ChannelVoice, Bitrate: 64000, UserLimit: 5},
		},
		{
			name: "voice bitrate under minimum",
			rec:  snapshot.ChannelRecord{Name: "v", Type: snapshot.ChannelVoice, Bitrate: 500},
			want: gateway.ChannelSpec{Name: "v", Type: snapshot.ChannelVoice, Bitrate: 8000},
		},
		{
			name: "voice bitrate unset",
			rec:  snapshot.ChannelRecord{Name: "v", Type: snapshot.ChannelVoice},
			want: gateway.ChannelSpec{Name: "v", Type: snapshot.ChannelVoice},
		},
		{
			name: "text slowmode",
			rec:  snapshot.ChannelRecord{Name: "t", Type: snapshot.ChannelText, Topic: "hi", NSFW: true, SlowmodeDelay: 99999, Position: 4},
			want: gateway.ChannelSpec{Name: "t", Type: snapshot.ChannelText, Topic: "hi", NSFW: true, Slowmode: 21600, Position: 4, ParentID: "p"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := ""
			if tt.rec.Type == snapshot.ChannelText {
				parent = "p"
			}
			if got := channelSpec(tt.rec, parent, limits); got != tt.want {
				t.Errorf("channelSpec = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestServerSettings(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "server/icon.png", []byte("icon"))

	snap := baseSnapshot()
	snap.ServerInfo.Name = "Restored"
	snap.ServerInfo.Description = "hello"
	snap.ServerInfo.LocalIconPath = filepath.Join(root, "server", "icon.png")

	gw := gateway.NewMemory(baseTarget())
	res, err := newEngine(gw, root, structureOnly()).Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatal(err)
	}
	state := gw.State()
	if !res.ServerRenamed || state.Name != "Restored" || state.Description != "hello" {
		t.Errorf("settings not applied: renamed=%v state=%+v", res.ServerRenamed, state)
	}
	edits := 0
	for _, c := range gw.Calls() {
		if c.Op == "edit_guild" {
			edits++
		}
	}
	if edits != 2 {
		t.Errorf("edit calls = %d, want rename plus settings", edits)
	}
}

func TestRunReplaysMessages(t *testing.T) {
	snap := baseSnapshot()
	general := snap.Channels["c1"]
	general.Messages = testutil.Messages("m", start, 60)
	snap.Channels["c1"] = general

	gw := gateway.NewMemory(baseTarget())
	opts := Options{SkipMedia: true, Replay: replay.Options{MaxMessages: 10}}
	res, err := newEngine(gw, "", opts).Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatal(err)
	}
	if res.Messages.Restored != 10 {
		t.Fatalf("restored = %d, want 10", res.Messages.Restored)
	}
	sent := gw.Sent()
	for i, s := range sent {
		if s.ChannelID != "t1" {
			t.Errorf("message %d sent to %s, want existing general t1", i, s.ChannelID)
		}
		want := fmt.Sprintf("message %d\n", 50+i)
		if !strings.HasPrefix(s.Msg.Content, want) {
			t.Errorf("sent[%d] = %q, want prefix %q", i, s.Msg.Content, want)
		}
	}
}

func TestRunRecordsMessageFailures(t *testing.T) {
	snap := baseSnapshot()
	general := snap.Channels["c1"]
	general.Messages = testutil.Messages("m", start, 2)
	snap.Channels["c1"] = general

	gw := gateway.NewMemory(baseTarget())
	gw.FailOn("execute_relay", "t1", &gateway.TransportError{Kind: gateway.OtherHTTP, Status: 500, Op: "execute webhook", Err: errors.New("boom")})

	res, err := newEngine(gw, "", Options{SkipMedia: true}).Run(context.Background(), "g1", snap)
	if err != nil {
		t.Fatal(err)
	}
	if res.Messages.Failed != 2 || len(res.Errors) != 2 {
		t.Fatalf("failed = %d errors = %v", res.Messages.Failed, res.Errors)
	}
	if res.Errors[0].Phase != PhaseMessages || res.Errors[0].Name != "general/m-0" {
		t.Errorf("unexpected error: %+v", res.Errors[0])
	}
}

func TestUnknownGuild(t *testing.T) {
	gw := gateway.NewMemory(baseTarget())
	_, err := newEngine(gw, "", structureOnly()).Run(context.Background(), "nope", baseSnapshot())
	if k, ok := gateway.KindOf(err); !ok || k != gateway.NotFound {
		t.Errorf("expected not-found transport error, got %v", err)
	}
}

func TestPhaseString(t *testing.T) {
	want := []string{"cleanup", "roles", "channels", "server_settings", "media", "messages", "done"}
	for i, w := range want {
		if got := Phase(i).String(); got != w {
			t.Errorf("Phase(%d) = %q, want %q", i, got, w)
		}
	}
	if PolicyFor(true) != Advisory || PolicyFor(false) != Enforce {
		t.Error("PolicyFor mapping wrong")
	}
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
