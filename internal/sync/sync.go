package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/bucketsyncd/internal/config"
	"github.com/schaermu/bucketsyncd/internal/metrics"
	"github.com/schaermu/bucketsyncd/internal/store"
)

// Engine orchestrates the sync process
type Engine struct {
	cfg    *config.Config
	store  store.Client
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, client store.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  client,
		logger: logger,
		dryRun: dryRun,
	}
}

// Cycle is one integration cycle. Changes are detected at most once and the
// same list is handed to Apply.
type Cycle struct {
	engine *Engine
	plan   *Plan
}

// NewCycle starts a new integration cycle.
func (e *Engine) NewCycle() *Cycle {
	return &Cycle{engine: e}
}

// Plan returns the cycle's plan, detecting it on first use.
func (c *Cycle) Plan(ctx context.Context) (*Plan, error) {
	if c.plan != nil {
		return c.plan, nil
	}
	plan, err := c.engine.Detect(ctx)
	if err != nil {
		return nil, err
	}
	c.plan = plan
	return plan, nil
}

// Modifications returns the cycle's changes: created, then updated, then deleted.
func (c *Cycle) Modifications(ctx context.Context) ([]Change, error) {
	plan, err := c.Plan(ctx)
	if err != nil {
		return nil, err
	}
	return plan.Changes(), nil
}

// Apply applies the cycle's changes to the working directory.
func (c *Cycle) Apply(ctx context.Context) (*ApplyResult, error) {
	changes, err := c.Modifications(ctx)
	if err != nil {
		return nil, err
	}
	e := c.engine
	return Apply(ctx, e.store, e.cfg.Store.Bucket, e.cfg.Paths.WorkDir, changes, e.logger)
}

// Detect lists both sides and reconciles them into a plan.
func (e *Engine) Detect(ctx context.Context) (*Plan, error) {
	remote, err := ListRemote(ctx, e.store, e.cfg.Store.Bucket, e.cfg.Store.Prefix, e.cfg.Sync.IgnoreMissingRoot, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote objects: %w", err)
	}

	local, err := ListLocal(e.cfg.Paths.WorkDir, e.cfg.Store.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list working directory: %w", err)
	}

	e.logger.Info("listed entries", "remote", len(remote), "local", len(local))
	metrics.SetListedEntries(len(remote), len(local))

	plan, err := Reconcile(remote, local, e.cfg.Paths.WorkDir, e.cfg.Store.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile listings: %w", err)
	}
	metrics.RecordChanges(len(plan.Created), len(plan.Updated), len(plan.Deleted))

	return plan, nil
}

// Run executes one complete integration cycle.
func (e *Engine) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCycle(time.Since(start), err == nil)
	}()

	e.logger.Info("starting sync",
		"bucket", e.cfg.Store.Bucket,
		"prefix", e.cfg.Store.Prefix,
		"work_dir", e.cfg.Paths.WorkDir,
		"dry_run", e.dryRun)

	cycle := e.NewCycle()
	plan, err := cycle.Plan(ctx)
	if err != nil {
		return err
	}

	// Log plan
	e.logger.Info("sync plan",
		"created", len(plan.Created),
		"updated", len(plan.Updated),
		"deleted", len(plan.Deleted))

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(plan, "[dry-run] would apply")
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	if !e.cfg.Sync.AutoGetSource {
		e.logPlanDetails(plan, "detected change")
		e.logger.Info("auto_get_source disabled, changes reported only")
		return nil
	}

	if plan.Empty() {
		e.logger.Info("working directory is up to date")
		return nil
	}

	result, err := cycle.Apply(ctx)
	if result != nil {
		metrics.RecordApply(result.FilesWritten, result.FilesDeleted, result.DirsRemoved, result.BytesDownloaded)
	}
	if err != nil {
		return fmt.Errorf("failed to apply sync plan: %w", err)
	}

	e.logger.Info("sync completed successfully",
		"files_written", result.FilesWritten,
		"files_deleted", result.FilesDeleted,
		"dirs_removed", result.DirsRemoved,
		"bytes_downloaded", result.BytesDownloaded)
	return nil
}

// logPlanDetails logs every change of the plan
func (e *Engine) logPlanDetails(plan *Plan, msg string) {
	for _, change := range plan.Changes() {
		e.logger.Info(msg,
			"kind", change.Kind,
			"path", change.DisplayPath(),
			"key", change.RemoteKey,
			"timestamp", change.Timestamp.Format(LastModifiedKeyLayout))
	}
}
