// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lherron/guildsnap/internal/db"
	"github.com/lherron/guildsnap/internal/snapshot"
)

// TempDB creates a migrated SQLite database in a temp directory.
func TempDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// WriteFile writes content to a file under dir, creating directories.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// WriteSnapshot saves s under dir and returns its path.
func WriteSnapshot(t *testing.T, dir, name string, s *snapshot.Snapshot) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := snapshot.Save(path, s); err != nil {
		t.Fatalf("Failed to save snapshot %s: %v", path, err)
	}
	return path
}

// NewSnapshot returns an empty snapshot for one server.
func NewSnapshot(serverID, serverName, timestamp string, incremental bool) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		BackupInfo: snapshot.BackupInfo{
			Version:     "1.0.0",
			Timestamp:   timestamp,
			Incremental: incremental,
			BackupName:  serverName + "_" + timestamp,
		},
		ServerInfo: snapshot.ServerInfo{ID: serverID, Name: serverName},
		Channels:   map[string]snapshot.ChannelRecord{},
		Roles:      map[string]snapshot.RoleRecord{},
		Members:    map[string]snapshot.MemberRecord{},
		Emojis:     map[string]snapshot.EmojiRecord{},
		Stickers:   map[string]snapshot.StickerRecord{},
	}
}

// AddChannel adds a channel record keyed by its id.
func AddChannel(s *snapshot.Snapshot, id, name string, typ snapshot.ChannelType, msgs ...snapshot.MessageRecord) {
	s.Channels[id] = snapshot.ChannelRecord{ID: id, Name: name, Type: typ, Messages: msgs}
	s.Stats.TotalChannels = len(s.Channels)
	s.Stats.TotalMessages += len(msgs)
}

// AddRole adds a role record keyed by its id.
func AddRole(s *snapshot.Snapshot, id, name string, position int) {
	s.Roles[id] = snapshot.RoleRecord{ID: id, Name: name, Position: position}
}

// Message builds a text message from a fixed author.
func Message(id, timestamp, content string) snapshot.MessageRecord {
	return snapshot.MessageRecord{
		ID:        id,
		Author:    snapshot.AuthorSummary{ID: "u1", Username: "ada", AvatarURL: "https://cdn.example/ada.png"},
		Content:   content,
		Timestamp: timestamp,
	}
}

// Messages builds n messages one minute apart starting at start, with ids
// "<prefix>-<i>" and contents "message <i>".
func Messages(prefix string, start time.Time, n int) []snapshot.MessageRecord {
	out := make([]snapshot.MessageRecord, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		out = append(out, Message(fmt.Sprintf("%s-%d", prefix, i), snapshot.FormatTimestamp(ts), fmt.Sprintf("message %d", i)))
	}
	return out
}
