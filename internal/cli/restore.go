package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lherron/guildsnap/internal/cli/appctx"
	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/journal"
	"github.com/lherron/guildsnap/internal/media"
	"github.com/lherron/guildsnap/internal/notify"
	"github.com/lherron/guildsnap/internal/pace"
	"github.com/lherron/guildsnap/internal/reconcile"
	"github.com/lherron/guildsnap/internal/render"
	"github.com/lherron/guildsnap/internal/replay"
	"github.com/lherron/guildsnap/internal/snapshot"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore a snapshot onto a target server",
	Long: `Converges the target server toward the snapshot. Channels and roles
not in the snapshot are removed, missing roles, channels, emojis and
stickers are created, server settings are applied and the most recent
archived messages of each text channel are replayed.

Each run is recorded in the journal. Messages already replayed into a
channel by an earlier run are not posted again.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.WithJournal(), runRestore),
}

type restoreOptions struct {
	GuildID            string
	AutoMerge          bool
	SkipMedia          bool
	NoMessages         bool
	MaxMessages        int
	IgnoreEmojiLimit   bool
	IgnoreStickerLimit bool
}

var restoreOpts restoreOptions

func init() {
	rootCmd.AddCommand(restoreCmd)
	f := restoreCmd.Flags()
	f.StringVar(&restoreOpts.GuildID, "guild", "", "Target server id (required)")
	f.BoolVar(&restoreOpts.AutoMerge, "auto-merge", false, "Merge the file's backup chain before restoring")
	f.BoolVar(&restoreOpts.SkipMedia, "skip-media", false, "Do not upload emojis and stickers")
	f.BoolVar(&restoreOpts.NoMessages, "no-messages", false, "Do not replay messages")
	f.IntVar(&restoreOpts.MaxMessages, "max-messages", -1, "Messages to replay per channel (0 = all, default from config)")
	f.BoolVar(&restoreOpts.IgnoreEmojiLimit, "ignore-emoji-limit", false, "Keep uploading emojis past the server limit")
	f.BoolVar(&restoreOpts.IgnoreStickerLimit, "ignore-sticker-limit", false, "Keep uploading stickers past the server limit")
	_ = restoreCmd.MarkFlagRequired("guild")
}

// restoreReport pairs a run id with its result.
type restoreReport struct {
	RunID  string            `json:"run_id" yaml:"run_id"`
	Result *reconcile.Result `json:"result" yaml:"result"`
	Errors []string          `json:"errors" yaml:"errors"`
}

func runRestore(app *appctx.App, cmd *cobra.Command, args []string) error {
	gw, err := newGateway(app.Config, app.Logger)
	if err != nil {
		return err
	}
	report, runErr := restoreSnapshot(cmd.Context(), app, gw, args[0], restoreOpts)
	if report.Result == nil {
		return runErr
	}

	switch app.Renderer.Format() {
	case render.FormatJSON, render.FormatYAML:
		if err := app.Renderer.Render(report, nil, nil); err != nil {
			return err
		}
	default:
		writeRestoreSummary(cmd.OutOrStdout(), report)
	}
	return runErr
}

// restoreSnapshot runs one journaled restore. The report carries the
// partial result even when an error stops the run.
func restoreSnapshot(ctx context.Context, app *appctx.App, gw gateway.Gateway, path string, opts restoreOptions) (restoreReport, error) {
	snap, err := loadSnapshot(ctx, app, path, opts.AutoMerge)
	if err != nil {
		return restoreReport{}, err
	}
	rev, err := snapshot.Rev(snap)
	if err != nil {
		return restoreReport{}, err
	}

	policy := app.Config.Policy()
	maxMessages := policy.MaxMessages
	if opts.MaxMessages >= 0 {
		maxMessages = opts.MaxMessages
	}
	engineOpts := reconcile.Options{
		SkipMedia:     policy.SkipMedia || opts.SkipMedia,
		SkipMessages:  opts.NoMessages,
		EmojiPolicy:   reconcile.PolicyFor(policy.EmojiAdvisory || opts.IgnoreEmojiLimit),
		StickerPolicy: reconcile.PolicyFor(policy.StickerAdvisory || opts.IgnoreStickerLimit),
		Replay: replay.Options{
			MaxMessages:           maxMessages,
			RestoreMedia:          policy.RestoreMedia,
			AttachmentsPerMessage: policy.AttachmentsPerMessage,
		},
	}

	runID, err := app.Journal.BeginRun(ctx, opts.GuildID, path, rev)
	if err != nil {
		return restoreReport{}, err
	}
	logger := app.Logger.With("run", runID, "guild", opts.GuildID)
	logger.Info("restore started", "snapshot", path, "rev", rev)

	engine := reconcile.New(gw, media.NewCache(filepath.Dir(path)), pace.New(policy.Delay), engineOpts, logger).
		WithLedger(app.Journal.Ledger(runID))
	res, runErr := engine.Run(ctx, opts.GuildID, snap)

	// The journal is written even when ctx was cancelled.
	saveCtx := context.WithoutCancel(ctx)
	var errs []error
	if res != nil {
		errs = append(errs,
			app.Journal.SaveMappings(saveCtx, runID, journal.KindRole, res.Mapping.Roles),
			app.Journal.SaveMappings(saveCtx, runID, journal.KindChannel, res.Mapping.Channels))
	}
	errs = append(errs, app.Journal.FinishRun(saveCtx, runID, res, runErr))
	if err := errors.Join(errs...); err != nil {
		logger.Error("failed to record run in journal", "error", err)
	}

	report := restoreReport{RunID: runID, Result: res, Errors: []string{}}
	if res != nil {
		report.Errors = res.ErrorStrings()
	}

	if n := notify.New(app.Config.NotifyURLs, logger); n.Enabled() && res != nil {
		n.Send(saveCtx, runPayload(runID, path, rev, res, runErr))
	}
	return report, runErr
}

func runPayload(runID, path, rev string, res *reconcile.Result, runErr error) notify.Payload {
	p := notify.Payload{
		RunID:            runID,
		GuildID:          res.GuildID,
		SnapshotPath:     path,
		SnapshotRev:      rev,
		Status:           journal.StatusCompleted,
		Phase:            res.Phase.String(),
		ChannelsCreated:  res.ChannelsCreated,
		ChannelsRemoved:  res.ChannelsRemoved,
		RolesCreated:     res.RolesCreated,
		RolesRemoved:     res.RolesRemoved,
		MessagesRestored: res.Messages.Restored,
		Errors:           len(res.Errors),
	}
	if runErr != nil {
		p.Status = journal.StatusFailed
		p.Error = runErr.Error()
	}
	return p
}

func writeRestoreSummary(w io.Writer, report restoreReport) {
	res := report.Result
	fmt.Fprintf(w, "run %s: %s\n", report.RunID, res.Phase)
	fmt.Fprintf(w, "  channels: %d created, %d removed, %d existing, %d skipped\n",
		res.ChannelsCreated, res.ChannelsRemoved, res.ChannelsExisting, res.ChannelsSkipped)
	fmt.Fprintf(w, "  roles:    %d created, %d removed, %d existing\n",
		res.RolesCreated, res.RolesRemoved, res.RolesExisting)
	fmt.Fprintf(w, "  emojis:   %d created, %d skipped\n", res.EmojisCreated, res.EmojisSkipped)
	fmt.Fprintf(w, "  stickers: %d created, %d skipped\n", res.StickersCreated, res.StickersSkipped)
	fmt.Fprintf(w, "  messages: %s restored, %d skipped, %d failed, %d already replayed\n",
		render.Count(res.Messages.Restored), res.Messages.Skipped, res.Messages.Failed, res.Messages.Resumed)
	if res.ServerRenamed {
		fmt.Fprintln(w, "  server renamed")
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}
