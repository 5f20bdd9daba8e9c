// Package jobruns correlates START/COMPLETE heartbeat signals into job runs,
// computes duration statistics, and raises duration alerts for jobs that run
// too long or never report completion.
package jobruns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

const (
	DefaultMinRuns = 5
	DefaultMaxRuns = 100
)

// Duration alert kinds.
const (
	AlertTypeStale    = "stale"
	AlertTypeExceeded = "exceeded"
)

type DurationAlert struct {
	ServiceID  string
	RunID      string
	AlertType  string
	DurationMS int64
	LimitMS    int64
}

// AlertFunc receives duration alerts; the monitor wires this to the alert
// router.
type AlertFunc func(ctx context.Context, alert DurationAlert)

type Tracker struct {
	store   *store.Store
	logger  *slog.Logger
	onAlert AlertFunc
}

func NewTracker(sqlStore *store.Store, logger *slog.Logger, onAlert AlertFunc) *Tracker {
	if onAlert == nil {
		onAlert = func(context.Context, DurationAlert) {}
	}
	return &Tracker{store: sqlStore, logger: logger, onAlert: onAlert}
}

// RecordJobStart inserts a STARTED row. A duplicate (service_id, run_id) is
// a silent no-op so retried start signals are harmless.
func (t *Tracker) RecordJobStart(ctx context.Context, serviceID, runID string, startedAt time.Time) error {
	err := t.store.InsertJobStart(ctx, serviceID, runID, startedAt)
	if errors.Is(err, store.ErrJobRunExists) {
		return nil
	}
	return err
}

// RecordJobCompletion closes the matching STARTED row, or inserts a
// completion-only row with zero duration when no start was seen. Emits an
// exceeded alert when the run overran the service's max duration.
func (t *Tracker) RecordJobCompletion(ctx context.Context, service store.Service, runID, status string, completedAt time.Time) error {
	switch status {
	case store.JobRunStatusCompleted, store.JobRunStatusFailed:
	default:
		return fmt.Errorf("unsupported completion status %q", status)
	}
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	run, err := t.store.GetJobRun(ctx, service.ID, runID)
	switch {
	case errors.Is(err, store.ErrJobRunNotFound):
		if err := t.store.InsertCompletionOnlyRun(ctx, service.ID, runID, status, completedAt); err != nil {
			return err
		}
		return nil
	case err != nil:
		return err
	}

	durationMS := completedAt.Sub(run.StartedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	if err := t.store.CompleteJobRun(ctx, service.ID, runID, status, completedAt, durationMS); err != nil {
		return err
	}

	if service.MaxDurationMS > 0 && durationMS > service.MaxDurationMS {
		t.logger.Warn("job run exceeded duration limit",
			slog.String("service_id", service.ID),
			slog.String("run_id", runID),
			slog.Int64("duration_ms", durationMS),
			slog.Int64("limit_ms", service.MaxDurationMS))
		t.onAlert(ctx, DurationAlert{
			ServiceID:  service.ID,
			RunID:      runID,
			AlertType:  AlertTypeExceeded,
			DurationMS: durationMS,
			LimitMS:    service.MaxDurationMS,
		})
	}
	return nil
}

type DurationStats struct {
	Count  int
	MeanMS float64
	MinMS  int64
	MaxMS  int64
	P50MS  float64
	P95MS  float64
	P99MS  float64
}

// GetDurationStatistics summarizes up to maxRuns recent completed runs.
// Fewer than minRuns completed runs yields zero-valued stats.
func (t *Tracker) GetDurationStatistics(ctx context.Context, serviceID string, minRuns, maxRuns int) (DurationStats, error) {
	if minRuns < 1 {
		minRuns = DefaultMinRuns
	}
	if maxRuns < 1 {
		maxRuns = DefaultMaxRuns
	}
	durations, err := t.store.ListCompletedDurations(ctx, serviceID, maxRuns)
	if err != nil {
		return DurationStats{}, err
	}
	if len(durations) < minRuns {
		return DurationStats{}, nil
	}

	sorted := append([]int64{}, durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, d := range sorted {
		sum += d
	}
	return DurationStats{
		Count:  len(sorted),
		MeanMS: float64(sum) / float64(len(sorted)),
		MinMS:  sorted[0],
		MaxMS:  sorted[len(sorted)-1],
		P50MS:  percentile(sorted, 50),
		P95MS:  percentile(sorted, 95),
		P99MS:  percentile(sorted, 99),
	}, nil
}

// percentile computes the given percentile over sorted values with linear
// interpolation between ranks.
func percentile(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return float64(sorted[0])
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return float64(sorted[lower])
	}
	fraction := rank - float64(lower)
	return float64(sorted[lower]) + fraction*float64(sorted[upper]-sorted[lower])
}

// SweepStaleRuns finds STARTED rows that overran their service's max
// duration, emits a stale alert once per run, and marks the row so the alert
// never repeats.
func (t *Tracker) SweepStaleRuns(ctx context.Context, now time.Time) error {
	open, err := t.store.ListOpenRunsStartedBefore(ctx, now)
	if err != nil {
		return err
	}
	for _, run := range open {
		service, err := t.store.GetServiceByID(ctx, run.ServiceID)
		if err != nil {
			t.logger.Error("load service for stale check",
				slog.String("service_id", run.ServiceID),
				slog.String("error", err.Error()))
			continue
		}
		if service.MaxDurationMS <= 0 {
			continue
		}
		elapsedMS := now.Sub(run.StartedAt).Milliseconds()
		if elapsedMS <= service.MaxDurationMS {
			continue
		}
		if err := t.store.MarkJobRunStaleAlerted(ctx, run.ID); err != nil {
			// Lost the race with another sweep; skip the alert.
			continue
		}
		t.logger.Warn("job run is stale",
			slog.String("service_id", run.ServiceID),
			slog.String("run_id", run.RunID),
			slog.Int64("elapsed_ms", elapsedMS))
		t.onAlert(ctx, DurationAlert{
			ServiceID:  run.ServiceID,
			RunID:      run.RunID,
			AlertType:  AlertTypeStale,
			DurationMS: elapsedMS,
			LimitMS:    service.MaxDurationMS,
		})
	}
	return nil
}

// RunStaleSweeper ticks SweepStaleRuns until the context ends.
func (t *Tracker) RunStaleSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	t.logger.Info("stale job sweeper started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stale job sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := t.SweepStaleRuns(ctx, time.Now().UTC()); err != nil {
				t.logger.Error("stale job sweep", slog.String("error", err.Error()))
			}
		}
	}
}
