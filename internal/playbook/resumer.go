package playbook

import (
	"context"
	"log/slog"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

// Resumer is the recovery loop for suspended executions: it re-runs waiting
// executions whose resume time passed, picks up running executions orphaned
// by a restart, and auto-approves expired approval timeouts.
type Resumer struct {
	store    *store.Store
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

func NewResumer(sqlStore *store.Store, engine *Engine, interval time.Duration, logger *slog.Logger) *Resumer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Resumer{store: sqlStore, engine: engine, interval: interval, logger: logger}
}

func (r *Resumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("execution resumer started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("execution resumer stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one resumer pass. Exported so the runtime can trigger an
// immediate pass on startup.
func (r *Resumer) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := r.store.ListExpiredApprovals(ctx, now, 20)
	if err != nil {
		r.logger.Error("list expired approvals", slog.String("error", err.Error()))
	}
	for _, execution := range expired {
		if _, err := r.engine.Approve(ctx, execution.ID); err != nil {
			r.logger.Error("auto-approve execution", slog.String("execution_id", execution.ID), slog.String("error", err.Error()))
			continue
		}
		r.logger.Info("execution auto-approved after timeout", slog.String("execution_id", execution.ID))
		go r.runExecution(ctx, execution.ID)
	}

	// Running rows untouched for 10 minutes are treated as orphaned.
	staleCutoff := now.Add(-10 * time.Minute)
	resumable, err := r.store.ListResumableExecutions(ctx, now, staleCutoff, 20)
	if err != nil {
		r.logger.Error("list resumable executions", slog.String("error", err.Error()))
		return
	}
	for _, execution := range resumable {
		r.logger.Info("resuming execution",
			slog.String("execution_id", execution.ID),
			slog.String("status", execution.Status))
		go r.runExecution(ctx, execution.ID)
	}
}

func (r *Resumer) runExecution(ctx context.Context, executionID string) {
	if err := r.engine.Run(ctx, executionID); err != nil && ctx.Err() == nil {
		r.logger.Error("resumed execution failed", slog.String("execution_id", executionID), slog.String("error", err.Error()))
	}
}
