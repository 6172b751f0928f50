package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/guildsnap/internal/cli/appctx"
	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/reconcile"
	"github.com/lherron/guildsnap/internal/render"
)

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Show what restoring a snapshot would change",
	Long: `Reads the target server and prints the plan a restore would apply:
channels and roles to remove and create, emojis and stickers to upload
and a server rename. Nothing on the target is changed.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runPreview),
}

var (
	previewGuild     string
	previewDiff      bool
	previewAutoMerge bool
)

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().StringVar(&previewGuild, "guild", "", "Target server id (required)")
	previewCmd.Flags().BoolVar(&previewDiff, "diff", false, "Print a unified diff of the structure before and after")
	previewCmd.Flags().BoolVar(&previewAutoMerge, "auto-merge", false, "Merge the file's backup chain before planning")
	_ = previewCmd.MarkFlagRequired("guild")
}

func runPreview(app *appctx.App, cmd *cobra.Command, args []string) error {
	gw, err := newGateway(app.Config, app.Logger)
	if err != nil {
		return err
	}
	p, err := previewSnapshot(cmd.Context(), app, gw, args[0], previewGuild, previewAutoMerge)
	if err != nil {
		return err
	}

	switch app.Renderer.Format() {
	case render.FormatJSON, render.FormatYAML:
		return app.Renderer.Render(p, nil, nil)
	}
	out := cmd.OutOrStdout()
	writePreview(out, p)
	if previewDiff {
		diff, err := p.StructureDiff()
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, diff)
	}
	return nil
}

func previewSnapshot(ctx context.Context, app *appctx.App, gw gateway.Gateway, path, guildID string, autoMerge bool) (*reconcile.Preview, error) {
	snap, err := loadSnapshot(ctx, app, path, autoMerge)
	if err != nil {
		return nil, err
	}
	engine := reconcile.New(gw, nil, nil, reconcile.Options{}, app.Logger)
	return engine.Preview(ctx, guildID, snap)
}

func writePreview(w io.Writer, p *reconcile.Preview) {
	if p.Empty() {
		fmt.Fprintf(w, "server %s already matches the snapshot structure\n", p.GuildID)
	}
	section := func(title string, names []string) {
		if len(names) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(names))
		for _, n := range names {
			fmt.Fprintf(w, "  %s\n", n)
		}
	}
	section("channels to remove", p.ChannelsToRemove)
	section("roles to remove", p.RolesToRemove)
	section("roles to create", p.RolesToCreate)
	section("channels to create", p.ChannelsToCreate)
	section("channels skipped", p.ChannelsSkipped)
	section("emojis to upload", p.EmojisToUpload)
	section("stickers to upload", p.StickersToUpload)
	if p.Rename != nil {
		fmt.Fprintf(w, "rename server: %q -> %q\n", p.Rename.From, p.Rename.To)
	}
	if len(p.Warnings) > 0 {
		fmt.Fprintf(w, "warnings:\n  %s\n", strings.Join(p.Warnings, "\n  "))
	}
}
