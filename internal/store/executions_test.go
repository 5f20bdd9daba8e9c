package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func seedPlaybook(t *testing.T, sqlStore *Store, name string) Playbook {
	t.Helper()
	playbook, err := sqlStore.UpsertPlaybook(context.Background(), name, "", "name: "+name+"\nsteps: []\n")
	if err != nil {
		t.Fatalf("upsert playbook: %v", err)
	}
	return playbook
}

func TestExecutionStatePersistsBetweenSteps(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "worker")
	playbook := seedPlaybook(t, sqlStore, "restart-worker")

	execution, err := sqlStore.CreateExecution(ctx, CreateExecutionInput{
		PlaybookID: playbook.ID,
		ServiceID:  service.ID,
		Status:     ExecutionStatusRunning,
		Context:    map[string]string{"SERVICE_NAME": "worker"},
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if execution.CurrentStep != 0 {
		t.Fatalf("expected current_step=0, got %d", execution.CurrentStep)
	}

	execution.Context["STEP_ONE_OUTPUT"] = "ok"
	if err := sqlStore.AdvanceExecutionStep(ctx, execution.ID, 1, execution.Context); err != nil {
		t.Fatalf("advance step: %v", err)
	}

	reloaded, err := sqlStore.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if reloaded.CurrentStep != 1 {
		t.Fatalf("expected current_step=1 after step, got %d", reloaded.CurrentStep)
	}
	if reloaded.Context["STEP_ONE_OUTPUT"] != "ok" {
		t.Fatalf("expected persisted context, got %v", reloaded.Context)
	}
}

func TestExecutionGuardedTransitions(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	playbook := seedPlaybook(t, sqlStore, "guarded")

	execution, err := sqlStore.CreateExecution(ctx, CreateExecutionInput{
		PlaybookID: playbook.ID,
		Status:     ExecutionStatusPendingApproval,
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	// Completed is not reachable from pending_approval.
	_, applied, err := sqlStore.UpdateExecutionStatus(ctx, execution.ID, ExecutionStatusCompleted, ExecutionStatusRunning)
	if err != nil {
		t.Fatalf("guarded transition: %v", err)
	}
	if applied {
		t.Fatal("expected guarded transition to be rejected")
	}

	updated, applied, err := sqlStore.UpdateExecutionStatus(ctx, execution.ID, ExecutionStatusRunning, ExecutionStatusPendingApproval)
	if err != nil {
		t.Fatalf("approve transition: %v", err)
	}
	if !applied || updated.Status != ExecutionStatusRunning {
		t.Fatalf("expected running execution, got applied=%v status=%s", applied, updated.Status)
	}

	cancelled, applied, err := sqlStore.UpdateExecutionStatus(ctx, execution.ID, ExecutionStatusCancelled,
		ExecutionStatusPendingApproval, ExecutionStatusRunning, ExecutionStatusWaiting)
	if err != nil {
		t.Fatalf("cancel transition: %v", err)
	}
	if !applied || !cancelled.Terminal() || cancelled.FinishedAt.IsZero() {
		t.Fatalf("expected terminal cancelled execution, got %+v", cancelled)
	}
}

func TestResumableExecutionsQuery(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	playbook := seedPlaybook(t, sqlStore, "resume")

	waiting, err := sqlStore.CreateExecution(ctx, CreateExecutionInput{
		PlaybookID: playbook.ID,
		Status:     ExecutionStatusRunning,
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if err := sqlStore.MarkExecutionWaiting(ctx, waiting.ID, time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("mark waiting: %v", err)
	}

	future, err := sqlStore.CreateExecution(ctx, CreateExecutionInput{
		PlaybookID: playbook.ID,
		Status:     ExecutionStatusRunning,
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if err := sqlStore.MarkExecutionWaiting(ctx, future.ID, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("mark waiting: %v", err)
	}

	resumable, err := sqlStore.ListResumableExecutions(ctx, time.Now().UTC(), time.Now().UTC().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("list resumable: %v", err)
	}
	if len(resumable) != 1 || resumable[0].ID != waiting.ID {
		t.Fatalf("expected only the due execution, got %d rows", len(resumable))
	}
}

func TestStepOutputTruncation(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	playbook := seedPlaybook(t, sqlStore, "truncate")
	execution, err := sqlStore.CreateExecution(ctx, CreateExecutionInput{
		PlaybookID: playbook.ID,
		Status:     ExecutionStatusRunning,
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	id, err := sqlStore.InsertStepResult(ctx, StepResult{
		ExecutionID: execution.ID,
		StepName:    "noisy",
		StepIndex:   0,
		Status:      StepStatusRunning,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert step result: %v", err)
	}
	if err := sqlStore.FinishStepResult(ctx, id, StepStatusCompleted, strings.Repeat("x", 5000), "", time.Now().UTC()); err != nil {
		t.Fatalf("finish step result: %v", err)
	}

	results, err := sqlStore.ListStepResults(ctx, execution.ID)
	if err != nil {
		t.Fatalf("list step results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one step result, got %d", len(results))
	}
	if !strings.HasSuffix(results[0].Output, "...[truncated]") {
		t.Fatal("expected truncated output suffix")
	}
	if len(results[0].Output) != 4096+len("...[truncated]") {
		t.Fatalf("unexpected truncated length %d", len(results[0].Output))
	}
}

func TestCircuitBreakerCountWindow(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "worker")
	playbook := seedPlaybook(t, sqlStore, "count")

	for range 3 {
		if _, err := sqlStore.CreateExecution(ctx, CreateExecutionInput{
			PlaybookID: playbook.ID,
			ServiceID:  service.ID,
			Status:     ExecutionStatusRunning,
		}); err != nil {
			t.Fatalf("create execution: %v", err)
		}
	}

	count, err := sqlStore.CountExecutionsSince(ctx, service.ID, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count executions: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 executions in window, got %d", count)
	}

	count, err = sqlStore.CountExecutionsSince(ctx, service.ID, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("count executions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 executions for future window, got %d", count)
	}
}
