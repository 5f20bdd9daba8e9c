// Package monitor runs the heartbeat sweep: every interval it inspects each
// active service, opens or advances alerts for services that missed their
// heartbeat window, and closes alerts on recovery.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/medic-ops/medic/internal/alerting"
	"github.com/medic-ops/medic/internal/delivery"
	"github.com/medic-ops/medic/internal/events"
	"github.com/medic-ops/medic/internal/playbook"
	"github.com/medic-ops/medic/internal/store"
)

const (
	DefaultInterval    = 15 * time.Second
	DefaultConcurrency = 8

	// Synthetic service used by end-to-end probes; never alerted on.
	probeServiceName = "fakeservice"
)

// cyclesPerDay drives the 24-hour mute expiry check.
const cyclesPerDay = 1440 / 15

type alertRouter interface {
	RouteWithSchedule(ctx context.Context, serviceID string, payload alerting.Payload, mode string) ([]alerting.Result, error)
	Route(ctx context.Context, serviceID string, payload alerting.Payload, mode string) ([]alerting.Result, error)
	RouteFallback(ctx context.Context, teamID string, payload alerting.Payload) error
}

type pagerDutyResolver interface {
	Configured() bool
	Resolve(ctx context.Context, routingKey, dedupKey string) error
}

type maintenanceChecker interface {
	InMaintenance(ctx context.Context, serviceID string, t time.Time) (bool, error)
}

type triggerEvaluator interface {
	Evaluate(ctx context.Context, service store.Service, alertCycle int, alertID string) (playbook.TriggerResult, error)
	EvaluateNewlyCrossed(ctx context.Context, service store.Service, alertCycle int, alertID string) (playbook.TriggerResult, error)
}

type executionRunner interface {
	Run(ctx context.Context, executionID string) error
}

type webhookDeliverer interface {
	DeliverToAll(ctx context.Context, serviceID, payload string) ([]delivery.Result, error)
}

type Config struct {
	Interval    time.Duration
	Concurrency int
}

// Deps are the monitor's collaborators. Webhooks is optional.
type Deps struct {
	Store       *store.Store
	Maintenance maintenanceChecker
	Router      alertRouter
	PagerDuty   pagerDutyResolver
	Triggers    triggerEvaluator
	Runner      executionRunner
	Webhooks    webhookDeliverer
	Hub         *events.Hub
	Logger      *slog.Logger
}

type Monitor struct {
	store       *store.Store
	maintenance maintenanceChecker
	router      alertRouter
	pagerduty   pagerDutyResolver
	triggers    triggerEvaluator
	runner      executionRunner
	webhooks    webhookDeliverer
	hub         *events.Hub
	logger      *slog.Logger
	cfg         Config

	sem *semaphore.Weighted
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(deps Deps, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Monitor{
		store:       deps.Store,
		maintenance: deps.Maintenance,
		router:      deps.Router,
		pagerduty:   deps.PagerDuty,
		triggers:    deps.Triggers,
		runner:      deps.Runner,
		webhooks:    deps.Webhooks,
		hub:         deps.Hub,
		logger:      deps.Logger,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:         time.Now,
		locks:       map[string]*sync.Mutex{},
	}
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.logger.Info("monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("concurrency", m.cfg.Concurrency))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("monitor sweep", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one monitor iteration over every active service. Per-service
// failures are logged and do not stop the sweep.
func (m *Monitor) Sweep(ctx context.Context) error {
	services, err := m.store.ListServices(ctx, store.ListServicesInput{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	now := m.now().UTC()

	var wg sync.WaitGroup
	for _, service := range services {
		if strings.EqualFold(service.ServiceName, probeServiceName) {
			continue
		}
		if err := m.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(service store.Service) {
			defer wg.Done()
			defer m.sem.Release(1)
			lock := m.serviceLock(service.ID)
			lock.Lock()
			defer lock.Unlock()
			if err := m.checkService(ctx, service, now); err != nil {
				m.logger.Error("service check failed",
					slog.String("service_id", service.ID),
					slog.String("service_name", service.ServiceName),
					slog.String("error", err.Error()))
			}
		}(service)
	}
	wg.Wait()
	return nil
}

// serviceLock keeps at most one worker on a service at a time across
// overlapping sweeps.
func (m *Monitor) serviceLock(serviceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[serviceID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[serviceID] = lock
	}
	return lock
}

func (m *Monitor) checkService(ctx context.Context, service store.Service, now time.Time) error {
	lastSeen, err := m.store.LatestHeartbeatTime(ctx, service.ID)
	if err != nil {
		return err
	}
	window := time.Duration(service.AlertInterval) * time.Minute

	// Grace gate comes before everything else, including maintenance.
	if service.GracePeriodSeconds > 0 && !lastSeen.IsZero() {
		graceWindow := window + time.Duration(service.GracePeriodSeconds)*time.Second
		if now.Sub(lastSeen) < graceWindow {
			m.logger.Debug("within grace period, skipping",
				slog.String("service_id", service.ID),
				slog.Time("last_seen", lastSeen))
			return nil
		}
	}

	count, err := m.store.CountHeartbeatsSince(ctx, service.ID, now.Add(-window))
	if err != nil {
		return err
	}

	switch {
	case count < service.Threshold:
		return m.openOrContinueAlert(ctx, service, lastSeen, now)
	case service.Down:
		return m.closeAlert(ctx, service, now)
	default:
		return nil
	}
}

func (m *Monitor) openOrContinueAlert(ctx context.Context, service store.Service, lastSeen, now time.Time) error {
	if err := m.store.SetServiceDown(ctx, service.ID, true); err != nil {
		return err
	}
	inMaintenance, err := m.maintenance.InMaintenance(ctx, service.ID, now)
	if err != nil {
		m.logger.Error("maintenance check failed, treating as not in maintenance",
			slog.String("service_id", service.ID),
			slog.String("error", err.Error()))
		inMaintenance = false
	}

	alert, err := m.store.ActiveAlert(ctx, service.ID)
	switch {
	case errors.Is(err, store.ErrAlertNotFound):
		return m.openAlert(ctx, service, lastSeen, now, inMaintenance)
	case err != nil:
		return err
	}
	return m.continueAlert(ctx, service, alert, lastSeen, inMaintenance)
}

func (m *Monitor) openAlert(ctx context.Context, service store.Service, lastSeen, now time.Time, inMaintenance bool) error {
	alert, err := m.store.CreateAlert(ctx, service.ID, now)
	if err != nil {
		return err
	}
	m.logger.Warn("alert opened",
		slog.String("service_id", service.ID),
		slog.String("service_name", service.ServiceName),
		slog.String("alert_id", alert.ID),
		slog.Time("last_seen", lastSeen))
	m.hub.Publish(events.Event{
		Type:      events.TypeAlertOpened,
		ServiceID: service.ID,
		Details:   map[string]string{"alert_id": alert.ID, "service_name": service.ServiceName},
	})
	m.fanOutWebhooks(ctx, service, "service_down", alert.ID)

	if !service.Muted && !inMaintenance {
		m.notifyDown(ctx, service, alert, lastSeen)
	} else if inMaintenance {
		m.logger.Info("alert notifications suppressed by maintenance window",
			slog.String("service_id", service.ID),
			slog.String("alert_id", alert.ID))
	}

	result, err := m.triggers.Evaluate(ctx, service, alert.AlertCycle, alert.ID)
	if err != nil {
		m.logger.Error("trigger evaluation failed",
			slog.String("service_id", service.ID),
			slog.String("error", err.Error()))
		return nil
	}
	m.dispatchTriggerResult(ctx, service, result)
	return nil
}

// dispatchTriggerResult publishes trigger outcomes and runs started
// executions in the background.
func (m *Monitor) dispatchTriggerResult(ctx context.Context, service store.Service, result playbook.TriggerResult) {
	switch result.Outcome {
	case playbook.TriggerOutcomeStarted:
		m.hub.Publish(events.Event{
			Type:      events.TypeExecutionStarted,
			ServiceID: service.ID,
			Details:   map[string]string{"execution_id": result.ExecutionID, "playbook_id": result.PlaybookID},
		})
		executionID := result.ExecutionID
		go func() {
			if err := m.runner.Run(context.WithoutCancel(ctx), executionID); err != nil {
				m.logger.Error("playbook execution failed",
					slog.String("execution_id", executionID),
					slog.String("error", err.Error()))
			}
		}()
	case playbook.TriggerOutcomeCircuitBreakerOpen:
		m.hub.Publish(events.Event{
			Type:      events.TypeCircuitBreakerTrip,
			ServiceID: service.ID,
			Details:   map[string]string{"trigger_id": result.TriggerID, "playbook_id": result.PlaybookID},
		})
	}
}

func (m *Monitor) continueAlert(ctx context.Context, service store.Service, alert store.Alert, lastSeen time.Time, inMaintenance bool) error {
	cycle, err := m.store.IncrementAlertCycle(ctx, alert.ID)
	if err != nil {
		return err
	}

	cyclesPerInterval := service.AlertInterval * 60 / 15
	if cyclesPerInterval < 1 {
		cyclesPerInterval = 1
	}
	if !service.Muted && !inMaintenance && cycle%cyclesPerInterval == 0 {
		m.notifyDown(ctx, service, alert, lastSeen)
		m.hub.Publish(events.Event{
			Type:      events.TypeAlertRenotified,
			ServiceID: service.ID,
			Details:   map[string]string{"alert_id": alert.ID, "alert_cycle": fmt.Sprint(cycle)},
		})
	}

	if service.Muted && cycle%cyclesPerDay == 0 {
		m.logger.Info("mute expired, unmuting service",
			slog.String("service_id", service.ID),
			slog.Int("alert_cycle", cycle))
		if err := m.store.SetServiceMuted(ctx, service.ID, false); err != nil {
			return err
		}
	}

	// Higher-threshold triggers fire on the cycle that crosses them.
	result, err := m.triggers.EvaluateNewlyCrossed(ctx, service, cycle, alert.ID)
	if err != nil {
		m.logger.Error("trigger evaluation failed",
			slog.String("service_id", service.ID),
			slog.String("error", err.Error()))
		return nil
	}
	m.dispatchTriggerResult(ctx, service, result)
	return nil
}

func (m *Monitor) closeAlert(ctx context.Context, service store.Service, now time.Time) error {
	if err := m.store.MarkServiceRecovered(ctx, service.ID); err != nil {
		return err
	}

	alert, err := m.store.ActiveAlert(ctx, service.ID)
	if errors.Is(err, store.ErrAlertNotFound) {
		// Down flag without an alert row; nothing more to close.
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.store.CloseAlert(ctx, alert.ID, now); err != nil && !errors.Is(err, store.ErrAlertNotFound) {
		return err
	}
	m.logger.Info("alert closed",
		slog.String("service_id", service.ID),
		slog.String("service_name", service.ServiceName),
		slog.String("alert_id", alert.ID))
	m.hub.Publish(events.Event{
		Type:      events.TypeAlertClosed,
		ServiceID: service.ID,
		Details:   map[string]string{"alert_id": alert.ID},
	})
	m.fanOutWebhooks(ctx, service, "service_recovered", alert.ID)

	// Recovery notifications are never suppressed by maintenance.
	payload := alerting.Payload{
		ServiceID:   service.ID,
		ServiceName: service.ServiceName,
		AlertID:     alert.ID,
		Summary:     fmt.Sprintf(":green_heart: %s recovered", service.ServiceName),
		Severity:    severityForPriority(service.Priority),
		DedupKey:    alert.ID,
	}
	results, err := m.router.Route(ctx, service.ID, payload, alerting.ModeNotifyAll)
	if err != nil {
		m.logger.Error("recovery notification failed",
			slog.String("service_id", service.ID),
			slog.String("error", err.Error()))
	} else if len(results) == 0 {
		if err := m.router.RouteFallback(ctx, service.TeamID, payload); err != nil {
			m.logger.Warn("recovery fallback notification failed",
				slog.String("service_id", service.ID),
				slog.String("error", err.Error()))
		}
	}

	if alert.ExternalReferenceID != "" && m.pagerduty.Configured() {
		if err := m.pagerduty.Resolve(ctx, "", alert.ExternalReferenceID); err != nil {
			m.logger.Warn("pagerduty resolve failed",
				slog.String("alert_id", alert.ID),
				slog.String("dedup_key", alert.ExternalReferenceID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// notifyDown routes the down notification for an alert, falling back to the
// team or default Slack channel when the service has no targets, and persists
// the PagerDuty dedup key on the first successful pagerduty delivery.
func (m *Monitor) notifyDown(ctx context.Context, service store.Service, alert store.Alert, lastSeen time.Time) {
	payload := alerting.Payload{
		ServiceID:   service.ID,
		ServiceName: service.ServiceName,
		AlertID:     alert.ID,
		Summary:     downSummary(service, lastSeen),
		Severity:    severityForPriority(service.Priority),
		DedupKey:    alert.ID,
	}
	results, err := m.router.RouteWithSchedule(ctx, service.ID, payload, alerting.ModeNotifyAll)
	if err != nil {
		m.logger.Error("alert notification failed",
			slog.String("service_id", service.ID),
			slog.String("alert_id", alert.ID),
			slog.String("error", err.Error()))
		return
	}
	if len(results) == 0 {
		if err := m.router.RouteFallback(ctx, service.TeamID, payload); err != nil {
			m.logger.Warn("fallback notification failed",
				slog.String("service_id", service.ID),
				slog.String("error", err.Error()))
		}
		return
	}
	for _, result := range results {
		if result.Type == store.TargetTypePagerDuty && result.Success && alert.ExternalReferenceID == "" {
			if err := m.store.SetAlertExternalReference(ctx, alert.ID, payload.DedupKey); err != nil {
				m.logger.Error("persist pagerduty dedup key",
					slog.String("alert_id", alert.ID),
					slog.String("error", err.Error()))
			}
			break
		}
	}
}

// fanOutWebhooks posts the alert lifecycle event to every configured webhook
// in the background.
func (m *Monitor) fanOutWebhooks(ctx context.Context, service store.Service, event, alertID string) {
	if m.webhooks == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"event":        event,
		"service_id":   service.ID,
		"service_name": service.ServiceName,
		"alert_id":     alertID,
		"at":           m.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	deliveryCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := m.webhooks.DeliverToAll(deliveryCtx, service.ID, string(payload)); err != nil {
			m.logger.Warn("webhook fan-out failed",
				slog.String("service_id", service.ID),
				slog.String("error", err.Error()))
		}
	}()
}

func downSummary(service store.Service, lastSeen time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":broken_heart: %s missed its heartbeat", service.ServiceName)
	if lastSeen.IsZero() {
		b.WriteString(" (never seen)")
	} else {
		fmt.Fprintf(&b, " (last seen %s)", lastSeen.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, " [%s]", strings.ToUpper(service.Priority))
	if service.Runbook != "" {
		fmt.Fprintf(&b, " runbook: %s", service.Runbook)
	}
	return b.String()
}

func severityForPriority(priority string) string {
	switch strings.ToLower(priority) {
	case "p1":
		return "critical"
	case "p2":
		return "error"
	case "p3":
		return "warning"
	default:
		return "info"
	}
}
