package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/keeper/pkg/config"
	"github.com/entrhq/keeper/pkg/records"
)

// dedupeFlags override the records section of the configuration.
type dedupeFlags struct {
	file            string
	backupDir       string
	dryRun          bool
	requireNonEmpty bool
	keepBackups     int
}

func (f *dedupeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Record file (overrides records.path)")
	cmd.Flags().StringVar(&f.backupDir, "backup-dir", "", "Backup directory (defaults to the record file's directory)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Report duplicates without writing")
	cmd.Flags().BoolVar(&f.requireNonEmpty, "require-non-empty", false, "Fail on an empty collection")
	cmd.Flags().IntVar(&f.keepBackups, "keep-backups", -1, "Keep only the newest N backups (overrides records.keep_backups)")
}

func (f *dedupeFlags) apply(cmd *cobra.Command, rc *config.RecordsConfig) records.DedupeOptions {
	if f.file != "" {
		rc.Path = f.file
	}
	if f.backupDir != "" {
		rc.BackupDir = f.backupDir
	}
	if cmd.Flags().Changed("require-non-empty") {
		rc.RequireNonEmpty = f.requireNonEmpty
	}
	if f.keepBackups >= 0 {
		rc.KeepBackups = f.keepBackups
	}
	return records.DedupeOptions{
		DryRun:          f.dryRun,
		RequireNonEmpty: rc.RequireNonEmpty,
		KeepBackups:     rc.KeepBackups,
	}
}

func newDeduplicator(rc config.RecordsConfig) *records.Deduplicator {
	var opts []records.FileStoreOption
	if rc.BackupDir != "" {
		opts = append(opts, records.WithBackupDir(rc.BackupDir))
	}
	return records.NewDeduplicator(records.NewFileStore(rc.Path, opts...))
}

func newDedupeCmd(flags *globalFlags) *cobra.Command {
	df := &dedupeFlags{}
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Merge duplicate outreach records by recipient email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			opts := df.apply(cmd, &cfg.Records)

			report, err := newDeduplicator(cfg.Records).Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), cfg.Records.Path, report)
			return nil
		},
	}
	df.register(cmd)
	return cmd
}

func newScheduleCmd(flags *globalFlags) *cobra.Command {
	df := &dedupeFlags{}
	var spec string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run deduplication on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			opts := df.apply(cmd, &cfg.Records)
			if spec != "" {
				cfg.Records.Schedule = spec
			}
			return runSchedule(cmd.Context(), cfg.Records, opts, cmd.OutOrStdout())
		},
	}
	df.register(cmd)
	cmd.Flags().StringVar(&spec, "cron", "", "Cron spec (overrides records.schedule), e.g. \"@every 1h\"")
	return cmd
}

func runSchedule(ctx context.Context, rc config.RecordsConfig, opts records.DedupeOptions, w io.Writer) error {
	// passes report from cron goroutines
	out := &syncWriter{w: w}
	scheduler, err := records.NewScheduler(newDeduplicator(rc), rc.Schedule, opts,
		records.WithPassTimeout(rc.PassTimeout),
		records.WithResultHandler(func(report *records.Report, err error) {
			if err != nil {
				fmt.Fprintf(out, "Deduplication failed: %v\n", err)
				return
			}
			printReport(out, rc.Path, report)
		}),
	)
	if err != nil {
		return err
	}

	scheduler.Start()
	fmt.Fprintf(out, "Deduplicating %s on %q, next run at %s\n", rc.Path, rc.Schedule, scheduler.Next().Format(time.RFC3339))

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), rc.PassTimeout+time.Second)
	defer cancel()
	scheduler.Stop(stopCtx)

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func printReport(out io.Writer, path string, report *records.Report) {
	switch {
	case report.Removed() == 0:
		fmt.Fprintf(out, "No duplicates found in %s (%d records).\n", path, report.Original)
		return
	case report.DryRun:
		fmt.Fprintf(out, "Dry run: %d records would become %d.\n", report.Original, report.Final)
	default:
		fmt.Fprintf(out, "Original count: %d\n", report.Original)
		fmt.Fprintf(out, "New count: %d\n", report.Final)
		if report.BackupPath != "" {
			fmt.Fprintf(out, "Backup written to %s\n", report.BackupPath)
		}
		for _, p := range report.Pruned {
			fmt.Fprintf(out, "Pruned old backup %s\n", p)
		}
	}
	for _, g := range report.Groups {
		fmt.Fprintf(out, "  %s: %d entries merged (date sent %s, %d follow-ups)\n", g.Key, g.Members, g.DateSent, g.FollowUps)
	}
}

type syncWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
