package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/guildsnap/internal/chain"
	"github.com/lherron/guildsnap/internal/cli/appctx"
	"github.com/lherron/guildsnap/internal/render"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List backup chains in the backup directory",
	Long: `Scans the backup directory for snapshot files and groups them into
chains: one full backup followed by the incrementals taken after it.
Incrementals with no preceding full backup are listed as orphans.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runChains),
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}

// chainsReport is the structured form of the chains listing.
type chainsReport struct {
	Chains  []chain.Info `json:"chains" yaml:"chains"`
	Orphans []string     `json:"orphans" yaml:"orphans"`
}

func runChains(app *appctx.App, cmd *cobra.Command, args []string) error {
	report, err := listChains(cmd.Context(), app)
	if err != nil {
		return err
	}

	switch app.Renderer.Format() {
	case render.FormatJSON, render.FormatYAML:
		return app.Renderer.Render(report, nil, nil)
	}

	if len(report.Chains) == 0 && len(report.Orphans) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "no backups found in %s\n", app.Config.BackupDir)
		return nil
	}

	headers := []string{"KEY", "SERVER", "BACKUPS", "MESSAGES", "MEDIA", "FROM", "TO"}
	rows := make([][]string, 0, len(report.Chains))
	for _, c := range report.Chains {
		rows = append(rows, []string{
			c.Key,
			c.ServerName,
			render.Count(c.TotalBackups),
			render.Count(c.TotalMessages),
			render.Count(c.TotalMediaFiles),
			orDash(c.Start),
			orDash(c.End),
		})
	}
	if err := app.Renderer.Render(nil, headers, rows); err != nil {
		return err
	}
	for _, o := range report.Orphans {
		fmt.Fprintf(cmd.ErrOrStderr(), "orphan incremental (no full backup before it): %s\n", o)
	}
	return nil
}

func listChains(ctx context.Context, app *appctx.App) (chainsReport, error) {
	ix, err := chain.Discover(ctx, app.Config.BackupDir, app.Logger)
	if err != nil {
		return chainsReport{}, err
	}
	report := chainsReport{Chains: []chain.Info{}, Orphans: []string{}}
	for _, key := range ix.Keys() {
		report.Chains = append(report.Chains, chain.Describe(ix.Chains[key]))
	}
	for _, o := range ix.Orphans {
		report.Orphans = append(report.Orphans, o.Path)
	}
	return report, nil
}
