// Package main provides the keeper command: a chat assistant whose memory is
// compacted every few turns, plus deduplication of the outreach record file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/keeper/pkg/config"
	"github.com/entrhq/keeper/pkg/logging"
)

const version = "0.1.0"

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "keeper",
		Short:         "keeper - an assistant with bounded conversational memory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Path to a dotenv file")

	root.AddCommand(
		newChatCmd(flags),
		newDedupeCmd(flags),
		newScheduleCmd(flags),
		newRunCmd(flags),
	)
	return root
}

// loadConfig loads configuration and installs the log sink.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: flags.configPath,
		EnvFile:    flags.envFile,
	})
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if _, err := logging.Configure(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	_ = logging.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
