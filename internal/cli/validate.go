package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/guildsnap/internal/cli/appctx"
	"github.com/lherron/guildsnap/internal/render"
	"github.com/lherron/guildsnap/internal/snapshot"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a snapshot file and print its revision",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runValidate),
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

type validateReport struct {
	Path        string   `json:"path" yaml:"path"`
	Rev         string   `json:"rev" yaml:"rev"`
	Server      string   `json:"server" yaml:"server"`
	Timestamp   string   `json:"timestamp" yaml:"timestamp"`
	Incremental bool     `json:"incremental" yaml:"incremental"`
	Channels    int      `json:"channels" yaml:"channels"`
	Roles       int      `json:"roles" yaml:"roles"`
	Messages    int      `json:"messages" yaml:"messages"`
	Emojis      int      `json:"emojis" yaml:"emojis"`
	Stickers    int      `json:"stickers" yaml:"stickers"`
	Warnings    []string `json:"warnings" yaml:"warnings"`
}

func runValidate(app *appctx.App, cmd *cobra.Command, args []string) error {
	report, err := validateFile(args[0])
	if err != nil {
		return err
	}

	switch app.Renderer.Format() {
	case render.FormatJSON, render.FormatYAML:
		return app.Renderer.Render(report, nil, nil)
	}
	if err := app.Renderer.KeyValues([][2]string{
		{"path", report.Path},
		{"rev", report.Rev},
		{"server", report.Server},
		{"timestamp", report.Timestamp},
		{"incremental", fmt.Sprint(report.Incremental)},
		{"channels", render.Count(report.Channels)},
		{"roles", render.Count(report.Roles)},
		{"messages", render.Count(report.Messages)},
		{"emojis", render.Count(report.Emojis)},
		{"stickers", render.Count(report.Stickers)},
	}); err != nil {
		return err
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return nil
}

func validateFile(path string) (validateReport, error) {
	snap, err := snapshot.Load(path)
	if err != nil {
		return validateReport{}, err
	}
	warnings, err := snapshot.Validate(snap)
	if err != nil {
		return validateReport{}, err
	}
	rev, err := snapshot.Rev(snap)
	if err != nil {
		return validateReport{}, err
	}

	messages := 0
	for _, c := range snap.Channels {
		messages += len(c.Messages)
	}
	if warnings == nil {
		warnings = []string{}
	}
	return validateReport{
		Path:        path,
		Rev:         rev,
		Server:      snap.ServerInfo.Name,
		Timestamp:   snap.BackupInfo.Timestamp,
		Incremental: snap.BackupInfo.Incremental,
		Channels:    len(snap.Channels),
		Roles:       len(snap.Roles),
		Messages:    messages,
		Emojis:      len(snap.Emojis),
		Stickers:    len(snap.Stickers),
		Warnings:    warnings,
	}, nil
}
