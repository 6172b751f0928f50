package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/guildsnap/internal/cli/appctx"
	"github.com/lherron/guildsnap/internal/journal"
	"github.com/lherron/guildsnap/internal/render"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past restore runs",
	Long: `Lists restore runs recorded in the journal, newest first. With a run id,
shows that run's summary and the channel and role ids it mapped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: appctx.WithApp(appctx.WithJournal(), runHistory),
}

var (
	historyGuild string
	historyLimit int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyGuild, "guild", "", "Only runs against this server id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list (0 = all)")
}

func runHistory(app *appctx.App, cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showRun(app, cmd, args[0])
	}

	runs, err := app.Journal.Runs(cmd.Context(), historyGuild, historyLimit)
	if err != nil {
		return err
	}
	if app.Renderer.Format() == render.FormatJSON || app.Renderer.Format() == render.FormatYAML {
		if runs == nil {
			runs = []journal.Run{}
		}
		return app.Renderer.Render(runs, nil, nil)
	}

	headers := []string{"RUN", "GUILD", "STATUS", "STARTED", "SNAPSHOT"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{r.ID, r.GuildID, r.Status, startedAgo(r.StartedAt), r.SnapshotPath})
	}
	return app.Renderer.Render(nil, headers, rows)
}

func showRun(app *appctx.App, cmd *cobra.Command, runID string) error {
	ctx := cmd.Context()
	run, err := app.Journal.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	channels, err := app.Journal.Mappings(ctx, runID, journal.KindChannel)
	if err != nil {
		return err
	}
	roles, err := app.Journal.Mappings(ctx, runID, journal.KindRole)
	if err != nil {
		return err
	}

	detail := struct {
		journal.Run `yaml:",inline"`
		Channels    map[string]string `json:"channel_mappings" yaml:"channel_mappings"`
		Roles       map[string]string `json:"role_mappings" yaml:"role_mappings"`
	}{run, channels, roles}

	switch app.Renderer.Format() {
	case render.FormatJSON, render.FormatYAML:
		return app.Renderer.Render(detail, nil, nil)
	}

	pairs := [][2]string{
		{"run", run.ID},
		{"guild", run.GuildID},
		{"status", run.Status},
		{"snapshot", run.SnapshotPath},
		{"rev", run.SnapshotRev},
		{"started", run.StartedAt},
		{"finished", orDash(run.FinishedAt)},
		{"channels mapped", fmt.Sprint(len(channels))},
		{"roles mapped", fmt.Sprint(len(roles))},
	}
	if run.Error != "" {
		pairs = append(pairs, [2]string{"error", run.Error})
	}
	if err := app.Renderer.KeyValues(pairs); err != nil {
		return err
	}
	if len(run.Summary) > 0 && string(run.Summary) != "null" {
		var summary map[string]any
		if err := json.Unmarshal(run.Summary, &summary); err == nil {
			fmt.Fprintln(cmd.OutOrStdout())
			return app.Renderer.RenderYAML(summary)
		}
	}
	return nil
}

func startedAgo(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return render.Ago(t)
}
