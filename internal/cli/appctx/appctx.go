// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger construction, output rendering and
// journal opening to reduce boilerplate across commands.
package appctx

import (
	"fmt"
	"log/slog"

	"github.com/lherron/guildsnap/internal/config"
	"github.com/lherron/guildsnap/internal/db"
	"github.com/lherron/guildsnap/internal/journal"
	"github.com/lherron/guildsnap/internal/logging"
	"github.com/lherron/guildsnap/internal/render"
	"github.com/spf13/cobra"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration
	Config *config.Config

	Logger   *slog.Logger
	Renderer *render.Renderer

	// DB and Journal are nil unless NeedsJournal is set.
	DB      *db.DB
	Journal *journal.Journal
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
		a.Journal = nil
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsJournal opens and migrates the run journal.
	NeedsJournal bool
}

// DefaultOptions returns default options (no journal).
func DefaultOptions() Options {
	return Options{}
}

// WithJournal returns options that open the journal.
func WithJournal() Options {
	return Options{NeedsJournal: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The journal is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app := &App{Config: cfg}

	// Flags override configuration
	if v := flagString(cmd, "db"); v != "" {
		cfg.DBPath = v
	}
	if v := flagString(cmd, "backups"); v != "" {
		cfg.BackupDir = v
	}
	if v := flagString(cmd, "output"); v != "" {
		cfg.Output = v
	}
	if flagString(cmd, "verbose") == "true" {
		cfg.LogLevel = "debug"
	}

	format, err := render.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}
	app.Renderer = render.NewRenderer(cmd.OutOrStdout(), format)
	app.Logger = logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})

	if opts.NeedsJournal {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		applied, err := database.MigrateWithInfo()
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate journal at %s: %w", cfg.DBPath, err)
		}
		for _, m := range applied {
			app.Logger.Debug("journal migration applied", "version", m, "db", cfg.DBPath)
		}
		app.DB = database
		app.Journal = journal.New(database)
	}

	return app, nil
}

func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil && f.Changed {
		return f.Value.String()
	}
	return ""
}
