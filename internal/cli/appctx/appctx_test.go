package appctx

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/lherron/guildsnap/internal/render"
	"github.com/spf13/cobra"
)

func testCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GUILDSNAP_OUTPUT", "")

	cmd := &cobra.Command{}
	cmd.Flags().String("db", "", "Database path")
	cmd.Flags().String("backups", "", "Backup directory")
	cmd.Flags().String("output", "", "Output format")
	cmd.Flags().Bool("verbose", false, "Debug logging")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	cmd := testCommand(t, "--backups", "/srv/snaps", "--output", "json", "--verbose")

	app, err := Bootstrap(cmd, DefaultOptions())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Config.BackupDir != "/srv/snaps" {
		t.Errorf("BackupDir = %q", app.Config.BackupDir)
	}
	if app.Renderer.Format() != render.FormatJSON {
		t.Errorf("format = %q", app.Renderer.Format())
	}
	if app.Config.LogLevel != "debug" {
		t.Errorf("--verbose should force debug, got %q", app.Config.LogLevel)
	}
	if app.DB != nil || app.Journal != nil {
		t.Error("journal should not be opened by default")
	}
}

func TestBootstrap_WithJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	cmd := testCommand(t, "--db", dbPath)

	app, err := Bootstrap(cmd, WithJournal())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.DB == nil || app.Journal == nil {
		t.Fatal("journal not opened")
	}
	if app.DB.Path() != dbPath {
		t.Errorf("db path = %q, want %q", app.DB.Path(), dbPath)
	}
	version, err := app.DB.SchemaVersion()
	if err != nil || version == "none" {
		t.Errorf("journal not migrated: %q, %v", version, err)
	}

	app.Close()
	app.Close()
	if app.DB != nil {
		t.Error("Close should clear DB")
	}
}

func TestBootstrap_BadOutput(t *testing.T) {
	cmd := testCommand(t, "--output", "xml")
	if _, err := Bootstrap(cmd, DefaultOptions()); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}
