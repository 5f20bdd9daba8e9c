package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobRunStartAndComplete(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "batch")

	startedAt := time.Now().UTC().Add(-90 * time.Second)
	if err := sqlStore.InsertJobStart(ctx, service.ID, "run-1", startedAt); err != nil {
		t.Fatalf("insert job start: %v", err)
	}
	if err := sqlStore.InsertJobStart(ctx, service.ID, "run-1", startedAt); !errors.Is(err, ErrJobRunExists) {
		t.Fatalf("expected ErrJobRunExists on duplicate start, got %v", err)
	}

	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(startedAt).Milliseconds()
	if err := sqlStore.CompleteJobRun(ctx, service.ID, "run-1", JobRunStatusCompleted, completedAt, durationMS); err != nil {
		t.Fatalf("complete job run: %v", err)
	}

	run, err := sqlStore.GetJobRun(ctx, service.ID, "run-1")
	if err != nil {
		t.Fatalf("get job run: %v", err)
	}
	if run.Status != JobRunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}
	if run.DurationMS != durationMS {
		t.Fatalf("expected duration %d, got %d", durationMS, run.DurationMS)
	}
}

func TestCompletionOnlyRunStoresZeroDuration(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "batch")

	completedAt := time.Now().UTC()
	if err := sqlStore.InsertCompletionOnlyRun(ctx, service.ID, "run-orphan", JobRunStatusFailed, completedAt); err != nil {
		t.Fatalf("insert completion-only run: %v", err)
	}
	run, err := sqlStore.GetJobRun(ctx, service.ID, "run-orphan")
	if err != nil {
		t.Fatalf("get job run: %v", err)
	}
	if !run.HasDuration || run.DurationMS != 0 {
		t.Fatalf("expected duration 0, got has=%v value=%d", run.HasDuration, run.DurationMS)
	}
	if !run.StartedAt.Equal(run.CompletedAt) {
		t.Fatalf("expected started_at == completed_at, got %v / %v", run.StartedAt, run.CompletedAt)
	}
}

func TestStaleAlertedTransitionIsOneShot(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "batch")

	startedAt := time.Now().UTC().Add(-time.Hour)
	if err := sqlStore.InsertJobStart(ctx, service.ID, "run-stuck", startedAt); err != nil {
		t.Fatalf("insert job start: %v", err)
	}

	open, err := sqlStore.ListOpenRunsStartedBefore(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("list open runs: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open run, got %d", len(open))
	}

	if err := sqlStore.MarkJobRunStaleAlerted(ctx, open[0].ID); err != nil {
		t.Fatalf("mark stale alerted: %v", err)
	}
	if err := sqlStore.MarkJobRunStaleAlerted(ctx, open[0].ID); !errors.Is(err, ErrJobRunNotFound) {
		t.Fatalf("expected ErrJobRunNotFound on second mark, got %v", err)
	}

	open, err = sqlStore.ListOpenRunsStartedBefore(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("list open runs: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected stale-alerted run excluded, got %d rows", len(open))
	}
}
