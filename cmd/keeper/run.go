package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/entrhq/keeper/pkg/config"
	"github.com/entrhq/keeper/pkg/executor/headless"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var outputDir, sessionID string

	cmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Send a scripted list of prompts without a terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if sessionID != "" {
				cfg.App.SessionID = sessionID
			}
			script, err := headless.LoadScript(args[0])
			if err != nil {
				return err
			}
			if outputDir != "" {
				script.Artifacts.OutputDir = outputDir
			}
			return runScript(cmd.Context(), cfg, script, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Artifact directory (overrides artifacts.output_dir)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (overrides app.session_id)")
	return cmd
}

func runScript(ctx context.Context, cfg *config.Config, script *headless.Script, out io.Writer) error {
	conv, closeFn, err := buildConversation(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := conv.Open(ctx); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	executor, err := headless.NewExecutor(conv, script, headless.WithSessionLabel(conv.ID().String()))
	if err != nil {
		return err
	}
	summary, err := executor.Run(ctx)
	fmt.Fprintf(out, "Run %s: %d/%d turns answered, %d compactions\n",
		summary.Status, summary.Metrics.Succeeded, summary.Metrics.Turns, summary.Metrics.Compactions)
	return err
}
