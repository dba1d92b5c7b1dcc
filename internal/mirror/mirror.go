package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/replicad/replicad/internal/config"
	"github.com/replicad/replicad/internal/snapshot"
)

// Engine orchestrates one complete sync pass: snapshot both trees, diff
// them into a plan, apply the plan action by action, summarize the
// outcome. An action failure never stops the remaining actions; only a
// failed snapshot build aborts a pass, and it does so before the replica
// is touched.
type Engine struct {
	cfg     *config.Config
	builder *snapshot.Builder
	applier *Applier
	logger  *slog.Logger
	dryRun  bool
}

// NewEngine creates a sync engine operating through the given filesystem
func NewEngine(cfg *config.Config, fsys afero.Fs, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:     cfg,
		builder: snapshot.NewBuilder(fsys, logger),
		applier: NewApplier(fsys, cfg.Paths.Source, cfg.Paths.Replica,
			cfg.Sync.MaxAttempts, cfg.Sync.RetryDelay.Std(), logger),
		logger: logger,
		dryRun: dryRun,
	}
}

// RunPass executes one complete sync pass. Cancellation is pass-granular:
// the scheduler checks its stop signal between passes, so a pass that has
// started always runs to completion (ctx is accepted for call-site
// symmetry with other blocking operations).
func (e *Engine) RunPass(_ context.Context) (*PassResult, error) {
	e.logger.Info("starting sync pass",
		"source", e.cfg.Paths.Source,
		"replica", e.cfg.Paths.Replica,
		"dry_run", e.dryRun)

	sourceSnap, err := e.builder.Build(e.cfg.Paths.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot source: %w", err)
	}

	replicaSnap, err := e.builder.Build(e.cfg.Paths.Replica)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot replica: %w", err)
	}

	plan := Diff(sourceSnap, replicaSnap)
	e.logger.Info("sync plan", "actions", len(plan))

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return &PassResult{}, nil
	}

	result := &PassResult{}
	for _, action := range plan {
		if applyErr := e.applier.Apply(action); applyErr != nil {
			result.Failed = append(result.Failed, *applyErr)
			continue
		}

		switch action.Kind {
		case ActionCreateDir:
			result.Created++
		case ActionCopyFile:
			if action.Update {
				result.Updated++
			} else {
				result.Created++
			}
		case ActionDeleteFile, ActionDeleteDir:
			result.Deleted++
		}
	}

	if !result.Changed() {
		e.logger.Info("sync pass completed, no changes")
	} else {
		e.logger.Info("sync pass completed",
			"created", result.Created,
			"updated", result.Updated,
			"deleted", result.Deleted,
			"failed", len(result.Failed))
	}

	return result, nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan Plan) {
	for _, action := range plan {
		switch action.Kind {
		case ActionCreateDir:
			e.logger.Info("[dry-run] would create directory", "path", action.Path)
		case ActionCopyFile:
			if action.Update {
				e.logger.Info("[dry-run] would update file", "path", action.Path)
			} else {
				e.logger.Info("[dry-run] would create file", "path", action.Path)
			}
		case ActionDeleteFile:
			e.logger.Info("[dry-run] would delete file", "path", action.Path)
		case ActionDeleteDir:
			e.logger.Info("[dry-run] would delete directory", "path", action.Path)
		}
	}
}
