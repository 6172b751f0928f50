package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lherron/guildsnap/internal/config"
	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/gateway/discord"
)

var rootCmd = &cobra.Command{
	Use:   "guildsnap",
	Short: "Merge server backup chains and restore them onto a live server",
	Long: `guildsnap works with snapshot files captured from a chat server.
It discovers full and incremental backups, merges chains into complete
snapshots, previews what a restore would change and converges a target
server toward a snapshot, replaying archived messages.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// newGateway builds the platform client for restore and preview.
var newGateway = func(cfg *config.Config, logger *slog.Logger) (gateway.Gateway, error) {
	return discord.New(discord.Config{
		Token:             cfg.Token,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger)
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to journal database (overrides GUILDSNAP_DB_PATH)")
	rootCmd.PersistentFlags().String("backups", "", "Backup directory (overrides GUILDSNAP_BACKUP_DIR)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format: table, json, yaml, tsv")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}
