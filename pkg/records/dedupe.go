package records

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/keeper/pkg/logging"
)

var debugLog = logging.NewLogger("records")

// DedupeOptions controls a deduplication pass.
type DedupeOptions struct {
	// DryRun computes the merge without writing anything.
	DryRun bool

	// RequireNonEmpty fails the pass on an empty collection.
	RequireNonEmpty bool

	// KeepBackups prunes older backups down to this many. Zero keeps all.
	KeepBackups int
}

// Report describes a finished deduplication pass.
type Report struct {
	StartedAt  time.Time
	BackupPath string
	Pruned     []string
	Groups     []GroupReport
	Original   int
	Final      int
	Duration   time.Duration
	DryRun     bool
}

// Removed returns the number of duplicate records removed.
func (r *Report) Removed() int {
	return r.Original - r.Final
}

// Deduplicator runs merge passes against a Store.
type Deduplicator struct {
	store Store
}

// NewDeduplicator creates a deduplicator over store.
func NewDeduplicator(store Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// Run loads the collection, merges duplicates and persists the result.
//
// Nothing is written unless the whole merge succeeds. The full pre-merge
// document is backed up before it is overwritten. When no duplicates are
// found the document is left untouched and no backup is made.
func (d *Deduplicator) Run(ctx context.Context, opts DedupeOptions) (*Report, error) {
	report := &Report{StartedAt: time.Now(), DryRun: opts.DryRun}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	doc, err := d.store.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load records: %w", err)
	}

	merged, mr, err := Merge(doc.Emails, MergeOptions{RequireNonEmpty: opts.RequireNonEmpty})
	if err != nil {
		debugLog.Errorf("Merge aborted, nothing written: %v", err)
		return report, err
	}
	report.Original = mr.Input
	report.Final = mr.Output
	report.Groups = mr.Groups

	for _, g := range mr.Groups {
		debugLog.Infof("Merged %d entries for %s (id %s, date sent %q, %d follow-ups)",
			g.Members, g.Key, string(g.CanonicalID), g.DateSent, g.FollowUps)
	}

	if opts.DryRun || mr.Removed() == 0 {
		debugLog.Debugf("No write: dry run=%v, removed=%d", opts.DryRun, mr.Removed())
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	backupPath, err := d.store.Backup(ctx, doc)
	if err != nil {
		return report, fmt.Errorf("backup records: %w", err)
	}
	report.BackupPath = backupPath
	debugLog.Infof("Backup created: %s", backupPath)

	out := doc.Clone()
	out.Emails = merged
	if err := d.store.Save(ctx, out); err != nil {
		return report, fmt.Errorf("save records: %w", err)
	}

	if pruner, ok := d.store.(BackupPruner); ok && opts.KeepBackups > 0 {
		pruned, err := pruner.PruneBackups(ctx, opts.KeepBackups)
		report.Pruned = pruned
		if err != nil {
			// The merge itself is persisted; stale backups are not fatal
			debugLog.Warnf("Failed to prune backups: %v", err)
		}
	}

	debugLog.Infof("Cleanup complete: original=%d removed=%d final=%d",
		report.Original, report.Removed(), report.Final)
	return report, nil
}
