package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

// Trigger evaluation outcomes.
const (
	TriggerOutcomeNoMatch            = "no_match"
	TriggerOutcomeStarted            = "started"
	TriggerOutcomePendingApproval    = "pending_approval"
	TriggerOutcomeCircuitBreakerOpen = "circuit_breaker_open"
)

type TriggerResult struct {
	Outcome     string
	TriggerID   string
	PlaybookID  string
	ExecutionID string
}

type TriggerConfig struct {
	CircuitWindow  time.Duration
	CircuitMaxRuns int
}

// TriggerEvaluator matches alerting services to playbook triggers and starts
// executions, guarded by the per-service circuit breaker.
type TriggerEvaluator struct {
	store  *store.Store
	engine *Engine
	cfg    TriggerConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewTriggerEvaluator(sqlStore *store.Store, engine *Engine, cfg TriggerConfig, logger *slog.Logger) *TriggerEvaluator {
	if cfg.CircuitWindow <= 0 {
		cfg.CircuitWindow = time.Hour
	}
	if cfg.CircuitMaxRuns <= 0 {
		cfg.CircuitMaxRuns = 5
	}
	return &TriggerEvaluator{
		store:  sqlStore,
		engine: engine,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate picks the most specific matching trigger for the alerting service
// and starts its playbook unless the circuit breaker is open. alertContext is
// copied into the execution context.
func (t *TriggerEvaluator) Evaluate(ctx context.Context, service store.Service, alertCycle int, alertID string) (TriggerResult, error) {
	return t.evaluate(ctx, service, alertCycle, alertID, false)
}

// EvaluateNewlyCrossed considers only triggers whose failure threshold equals
// the current cycle. Continuing alerts call this every sweep, so each trigger
// fires exactly once: at the cycle that crosses its threshold.
func (t *TriggerEvaluator) EvaluateNewlyCrossed(ctx context.Context, service store.Service, alertCycle int, alertID string) (TriggerResult, error) {
	return t.evaluate(ctx, service, alertCycle, alertID, true)
}

func (t *TriggerEvaluator) evaluate(ctx context.Context, service store.Service, alertCycle int, alertID string, exactOnly bool) (TriggerResult, error) {
	triggers, err := t.store.ListTriggers(ctx)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("list triggers: %w", err)
	}

	var selected *store.PlaybookTrigger
	for i := range triggers {
		trigger := &triggers[i]
		if trigger.ConsecutiveFailures > alertCycle {
			continue
		}
		if exactOnly && trigger.ConsecutiveFailures != alertCycle {
			continue
		}
		if !patternMatches(trigger.ServicePattern, service.ServiceName) {
			continue
		}
		// Most specific wins: highest failure threshold, then lowest id.
		if selected == nil ||
			trigger.ConsecutiveFailures > selected.ConsecutiveFailures ||
			(trigger.ConsecutiveFailures == selected.ConsecutiveFailures && trigger.ID < selected.ID) {
			selected = trigger
		}
	}
	if selected == nil {
		return TriggerResult{Outcome: TriggerOutcomeNoMatch}, nil
	}

	count, err := t.store.CountExecutionsSince(ctx, service.ID, t.now().UTC().Add(-t.cfg.CircuitWindow))
	if err != nil {
		return TriggerResult{}, fmt.Errorf("circuit breaker count: %w", err)
	}
	if count >= t.cfg.CircuitMaxRuns {
		t.logger.Warn("circuit breaker open, skipping playbook",
			slog.String("service_id", service.ID),
			slog.String("trigger_id", selected.ID),
			slog.Int("executions_in_window", count))
		return TriggerResult{
			Outcome:    TriggerOutcomeCircuitBreakerOpen,
			TriggerID:  selected.ID,
			PlaybookID: selected.PlaybookID,
		}, nil
	}

	playbookRow, err := t.store.GetPlaybook(ctx, selected.PlaybookID)
	if err != nil {
		return TriggerResult{}, err
	}
	parsed, err := Parse(playbookRow.YAMLContent)
	if err != nil {
		return TriggerResult{}, err
	}

	execution, err := t.engine.Start(ctx, StartInput{
		Playbook:  playbookRow,
		ServiceID: service.ID,
		Context: map[string]string{
			"SERVICE_NAME":         service.ServiceName,
			"SERVICE_ID":           service.ID,
			"ALERT_ID":             alertID,
			"PLAYBOOK_NAME":        playbookRow.Name,
			"CONSECUTIVE_FAILURES": strconv.Itoa(alertCycle),
			"TRIGGER_ID":           selected.ID,
		},
		SkipApproval: parsed.Approval.Mode == ApprovalNone,
	})
	if err != nil {
		return TriggerResult{}, err
	}

	result := TriggerResult{
		TriggerID:   selected.ID,
		PlaybookID:  selected.PlaybookID,
		ExecutionID: execution.ID,
	}
	if execution.Status == store.ExecutionStatusRunning {
		result.Outcome = TriggerOutcomeStarted
	} else {
		result.Outcome = TriggerOutcomePendingApproval
	}
	t.logger.Info("playbook trigger fired",
		slog.String("service_id", service.ID),
		slog.String("trigger_id", selected.ID),
		slog.String("execution_id", execution.ID),
		slog.String("outcome", result.Outcome))
	return result, nil
}

// patternMatches tries the pattern first as a glob, then as an anchored
// regular expression.
func patternMatches(pattern, name string) bool {
	if matched, err := path.Match(pattern, name); err == nil && matched {
		return true
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return false
	}
	return re.MatchString(name)
}
