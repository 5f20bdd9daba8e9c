package playbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/medic-ops/medic/internal/secrets"
	"github.com/medic-ops/medic/internal/store"
)

var ErrNotApprovable = errors.New("execution is not pending approval")

type urlValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

type EngineConfig struct {
	WebhookTimeout       time.Duration
	ScriptWorkDir        string
	ScriptMemoryLimitMB  int
	DefaultScriptTimeout time.Duration
	ConditionPoll        time.Duration
	ConditionTimeout     time.Duration
	AdditionalScriptEnv  []string
}

func (c *EngineConfig) applyDefaults() {
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = 30 * time.Second
	}
	if c.ScriptMemoryLimitMB <= 0 {
		c.ScriptMemoryLimitMB = 256
	}
	if c.DefaultScriptTimeout <= 0 {
		c.DefaultScriptTimeout = 30 * time.Second
	}
	if c.ConditionPoll <= 0 {
		c.ConditionPoll = 5 * time.Second
	}
	if c.ConditionTimeout <= 0 {
		c.ConditionTimeout = 300 * time.Second
	}
}

// Engine drives playbook executions through their state machine. State is
// persisted after every step so a restart can resume any active execution.
type Engine struct {
	store      *store.Store
	secrets    *secrets.Service
	validator  urlValidator
	httpClient *http.Client
	logger     *slog.Logger
	cfg        EngineConfig
	now        func() time.Time
}

func NewEngine(sqlStore *store.Store, secretsService *secrets.Service, validator urlValidator, logger *slog.Logger, cfg EngineConfig) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:      sqlStore,
		secrets:    secretsService,
		validator:  validator,
		httpClient: &http.Client{Timeout: cfg.WebhookTimeout},
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

type StartInput struct {
	Playbook     store.Playbook
	ServiceID    string
	Context      map[string]string
	SkipApproval bool
}

// Start creates an execution in its initial state. Approval-gated playbooks
// start in pending_approval; everything else starts running. The caller is
// responsible for invoking Run on a running execution.
func (e *Engine) Start(ctx context.Context, input StartInput) (store.PlaybookExecution, error) {
	parsed, err := Parse(input.Playbook.YAMLContent)
	if err != nil {
		return store.PlaybookExecution{}, err
	}

	status := store.ExecutionStatusPendingApproval
	var approvalDeadline time.Time
	switch {
	case input.SkipApproval || parsed.Approval.Mode == ApprovalNone:
		status = store.ExecutionStatusRunning
	case parsed.Approval.Mode == ApprovalTimeout:
		approvalDeadline = e.now().UTC().Add(parsed.Approval.Timeout)
	}

	execution, err := e.store.CreateExecution(ctx, store.CreateExecutionInput{
		PlaybookID:       input.Playbook.ID,
		ServiceID:        input.ServiceID,
		Status:           status,
		Context:          input.Context,
		ApprovalDeadline: approvalDeadline,
	})
	if err != nil {
		return store.PlaybookExecution{}, err
	}

	// The execution id becomes available to steps as a context binding.
	execution.Context["EXECUTION_ID"] = execution.ID
	execution.Context["PLAYBOOK_ID"] = input.Playbook.ID
	execution.Context["PLAYBOOK_NAME"] = input.Playbook.Name
	if input.ServiceID != "" {
		execution.Context["SERVICE_ID"] = input.ServiceID
	}
	if err := e.store.AdvanceExecutionStep(ctx, execution.ID, 0, execution.Context); err != nil {
		return store.PlaybookExecution{}, err
	}

	e.logger.Info("playbook execution created",
		slog.String("execution_id", execution.ID),
		slog.String("playbook", input.Playbook.Name),
		slog.String("status", status))
	return execution, nil
}

// Approve transitions a pending execution to running. The caller should then
// invoke Run.
func (e *Engine) Approve(ctx context.Context, executionID string) (store.PlaybookExecution, error) {
	execution, applied, err := e.store.UpdateExecutionStatus(ctx, executionID, store.ExecutionStatusRunning, store.ExecutionStatusPendingApproval)
	if err != nil {
		return store.PlaybookExecution{}, err
	}
	if !applied {
		return execution, ErrNotApprovable
	}
	e.logger.Info("playbook execution approved", slog.String("execution_id", executionID))
	return execution, nil
}

// Cancel moves any active execution to cancelled. Running steps notice at
// their next suspension point.
func (e *Engine) Cancel(ctx context.Context, executionID string) (store.PlaybookExecution, error) {
	execution, applied, err := e.store.UpdateExecutionStatus(ctx, executionID, store.ExecutionStatusCancelled,
		store.ExecutionStatusPendingApproval, store.ExecutionStatusRunning, store.ExecutionStatusWaiting)
	if err != nil {
		return store.PlaybookExecution{}, err
	}
	if !applied {
		return execution, fmt.Errorf("execution %s is not active", executionID)
	}
	e.logger.Info("playbook execution cancelled", slog.String("execution_id", executionID))
	return execution, nil
}

// Run drives the execution until it reaches a terminal state or suspends.
// Safe to call again on a resumed execution; it continues at current_step.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	execution, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	playbookRow, err := e.store.GetPlaybook(ctx, execution.PlaybookID)
	if err != nil {
		return err
	}
	parsed, err := Parse(playbookRow.YAMLContent)
	if err != nil {
		e.failExecution(ctx, execution.ID, store.ExecutionStatusRunning, store.ExecutionStatusWaiting)
		return err
	}

	if execution.Status != store.ExecutionStatusRunning && execution.Status != store.ExecutionStatusWaiting {
		return nil
	}

	substituter := e.secrets.NewSubstituter()
	for execution.CurrentStep < len(parsed.Steps) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		step := parsed.Steps[execution.CurrentStep]
		outcome := e.runStep(ctx, &execution, playbookRow, parsed, step, substituter)
		if outcome.cancelled {
			return nil
		}
		if outcome.status == store.StepStatusFailed && step.OnFailure != OnFailureContinue {
			e.failExecution(ctx, execution.ID, store.ExecutionStatusRunning)
			e.logger.Warn("playbook execution failed",
				slog.String("execution_id", execution.ID),
				slog.String("step", step.Name),
				slog.String("error", outcome.errorMessage))
			return nil
		}

		execution.CurrentStep++
		if err := e.store.AdvanceExecutionStep(ctx, execution.ID, execution.CurrentStep, execution.Context); err != nil {
			return err
		}

		// Pick up cancellations requested while the step ran.
		reloaded, err := e.store.GetExecution(ctx, execution.ID)
		if err != nil {
			return err
		}
		if reloaded.Terminal() {
			return nil
		}
		execution.Status = reloaded.Status
	}

	if _, _, err := e.store.UpdateExecutionStatus(ctx, execution.ID, store.ExecutionStatusCompleted, store.ExecutionStatusRunning); err != nil {
		return err
	}
	e.logger.Info("playbook execution completed", slog.String("execution_id", execution.ID))
	return nil
}

func (e *Engine) failExecution(ctx context.Context, executionID string, from ...string) {
	if _, _, err := e.store.UpdateExecutionStatus(ctx, executionID, store.ExecutionStatusFailed, from...); err != nil {
		e.logger.Error("mark execution failed", slog.String("execution_id", executionID), slog.String("error", err.Error()))
	}
}

type stepOutcome struct {
	status       string
	output       string
	errorMessage string
	cancelled    bool
}

func (e *Engine) runStep(ctx context.Context, execution *store.PlaybookExecution, playbookRow store.Playbook, parsed Playbook, step Step, substituter *secrets.Substituter) stepOutcome {
	startedAt := e.now().UTC()
	resultID, err := e.store.InsertStepResult(ctx, store.StepResult{
		ExecutionID: execution.ID,
		StepName:    step.Name,
		StepIndex:   execution.CurrentStep,
		Status:      store.StepStatusRunning,
		StartedAt:   startedAt,
	})
	if err != nil {
		return stepOutcome{status: store.StepStatusFailed, errorMessage: err.Error()}
	}

	vars := e.stepVariables(execution, playbookRow, parsed)
	var outcome stepOutcome
	switch step.Type {
	case StepTypeWebhook:
		outcome = e.runWebhookStep(ctx, step.Webhook, vars, substituter)
	case StepTypeScript:
		outcome = e.runScriptStep(ctx, execution, step.Script, vars, substituter)
	case StepTypeWait:
		outcome = e.runWaitStep(ctx, execution, step.Wait)
	case StepTypeCondition:
		outcome = e.runConditionStep(ctx, execution, step)
	default:
		outcome = stepOutcome{status: store.StepStatusFailed, errorMessage: fmt.Sprintf("unsupported step type %q", step.Type)}
	}

	if outcome.cancelled {
		outcome.status = store.StepStatusSkipped
		outcome.errorMessage = "execution cancelled"
	}
	if err := e.store.FinishStepResult(ctx, resultID, outcome.status, outcome.output, outcome.errorMessage, e.now().UTC()); err != nil {
		e.logger.Error("persist step result", slog.String("execution_id", execution.ID), slog.String("error", err.Error()))
	}
	return outcome
}

// stepVariables merges playbook parameters, the persisted execution context,
// and the standard bindings. Context wins over parameters.
func (e *Engine) stepVariables(execution *store.PlaybookExecution, playbookRow store.Playbook, parsed Playbook) map[string]string {
	vars := map[string]string{}
	for name, value := range parsed.Parameters {
		vars[name] = value
	}
	for name, value := range execution.Context {
		vars[name] = value
	}
	vars["EXECUTION_ID"] = execution.ID
	vars["PLAYBOOK_ID"] = playbookRow.ID
	vars["PLAYBOOK_NAME"] = playbookRow.Name
	if execution.ServiceID != "" {
		vars["SERVICE_ID"] = execution.ServiceID
	}
	return vars
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
