// Package app wires every component together and owns the process lifecycle:
// one Runtime holds the store, the heartbeat monitor, the playbook machinery
// and the HTTP server, and runs them under a single errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medic-ops/medic/internal/alerting"
	"github.com/medic-ops/medic/internal/config"
	"github.com/medic-ops/medic/internal/delivery"
	"github.com/medic-ops/medic/internal/events"
	"github.com/medic-ops/medic/internal/httpapi"
	"github.com/medic-ops/medic/internal/jobruns"
	"github.com/medic-ops/medic/internal/maintenance"
	"github.com/medic-ops/medic/internal/metrics"
	"github.com/medic-ops/medic/internal/monitor"
	"github.com/medic-ops/medic/internal/notify"
	"github.com/medic-ops/medic/internal/playbook"
	"github.com/medic-ops/medic/internal/ratelimit"
	"github.com/medic-ops/medic/internal/secrets"
	"github.com/medic-ops/medic/internal/store"
	"github.com/medic-ops/medic/internal/urlcheck"
	"github.com/medic-ops/medic/internal/watcher"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	hub        *events.Hub
	metrics    *metrics.Metrics
	monitor    *monitor.Monitor
	resumer    *playbook.Resumer
	tracker    *jobruns.Tracker
	watcher    *watcher.Service
	httpServer *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	hub := events.NewHub()
	registry := metrics.New()

	secretsService, err := secrets.NewService(cfg.SecretsKey, sqlStore)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	if !secretsService.Enabled() {
		logger.Warn("MEDIC_SECRETS_KEY not set, secret storage disabled")
	}

	validator := urlcheck.New(urlcheck.WithAllowedHosts(cfg.AllowedWebhookHosts))

	hours, err := alerting.NewWorkingHours(cfg.WorkingHoursStart, cfg.WorkingHoursEnd, cfg.WorkingHoursTimezone)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	slackNotifier := notify.NewSlackNotifier(cfg.SlackAPIToken)
	pagerduty := notify.NewPagerDutyClient(cfg.PagerDutyEventsURL, cfg.PagerDutyRoutingKey)
	sender := alerting.NewDefaultSender(slackNotifier, pagerduty, validator,
		time.Duration(cfg.WebhookTimeoutSec)*time.Second)
	router := alerting.NewRouter(alerting.RouterConfig{
		Store:          sqlStore,
		Sender:         sender,
		FallbackSlack:  slackNotifier,
		DefaultChannel: cfg.SlackChannelID,
		Hours:          hours,
		Logger:         logger.With("component", "alerting"),
	})

	engine := playbook.NewEngine(sqlStore, secretsService, validator,
		logger.With("component", "playbook"), playbook.EngineConfig{
			WebhookTimeout:       time.Duration(cfg.WebhookTimeoutSec) * time.Second,
			ScriptWorkDir:        cfg.ScriptWorkDir,
			ScriptMemoryLimitMB:  cfg.ScriptMemoryLimitMB,
			DefaultScriptTimeout: time.Duration(cfg.DefaultScriptTimeout) * time.Second,
			ConditionPoll:        time.Duration(cfg.ConditionPollSec) * time.Second,
			ConditionTimeout:     time.Duration(cfg.ConditionTimeoutSec) * time.Second,
			AdditionalScriptEnv:  splitCSV(cfg.AdditionalScriptEnv),
		})
	resumer := playbook.NewResumer(sqlStore, engine,
		time.Duration(cfg.ResumerIntervalSec)*time.Second, logger.With("component", "resumer"))
	triggers := playbook.NewTriggerEvaluator(sqlStore, engine, playbook.TriggerConfig{
		CircuitWindow:  time.Duration(cfg.CircuitWindowSec) * time.Second,
		CircuitMaxRuns: cfg.CircuitMaxExecutions,
	}, logger.With("component", "triggers"))

	tracker := jobruns.NewTracker(sqlStore, logger.With("component", "jobruns"),
		durationAlertFunc(sqlStore, router, hub, logger))

	deliverer := delivery.New(delivery.Config{
		Store:         sqlStore,
		Validator:     validator,
		Timeout:       time.Duration(cfg.WebhookTimeoutSec) * time.Second,
		MaxAttempts:   cfg.DeliveryMaxAttempts,
		SigningSecret: cfg.WebhookSigningSecret,
		Logger:        logger.With("component", "delivery"),
	})

	heartbeatMonitor := monitor.New(monitor.Deps{
		Store:       sqlStore,
		Maintenance: maintenance.NewEvaluator(sqlStore),
		Router:      router,
		PagerDuty:   pagerduty,
		Triggers:    triggers,
		Runner:      engine,
		Webhooks:    deliverer,
		Hub:         hub,
		Logger:      logger.With("component", "monitor"),
	}, monitor.Config{
		Interval:    time.Duration(cfg.MonitorIntervalSec) * time.Second,
		Concurrency: cfg.MonitorConcurrency,
	})

	limiter := ratelimit.New(ratelimit.Config{
		HeartbeatLimit:  cfg.RateLimitHeartbeat,
		ManagementLimit: cfg.RateLimitManagement,
		Window:          time.Duration(cfg.RateLimitWindowSec) * time.Second,
	})

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:    cfg,
		Store:     sqlStore,
		Engine:    engine,
		Secrets:   secretsService,
		Tracker:   tracker,
		Deliverer: deliverer,
		Validator: validator,
		Hub:       hub,
		Metrics:   registry,
		Limiter:   limiter,
		Logger:    logger.With("component", "api"),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var watchService *watcher.Service
	if cfg.PlaybookWatchEnabled && strings.TrimSpace(cfg.PlaybookDir) != "" {
		if err := os.MkdirAll(cfg.PlaybookDir, 0o755); err != nil {
			sqlStore.Close()
			return nil, fmt.Errorf("create playbook directory: %w", err)
		}
		watchService, err = watcher.New(cfg.PlaybookDir, sqlStore, logger.With("component", "watcher"))
		if err != nil {
			sqlStore.Close()
			return nil, err
		}
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      sqlStore,
		hub:        hub,
		metrics:    registry,
		monitor:    heartbeatMonitor,
		resumer:    resumer,
		tracker:    tracker,
		watcher:    watchService,
		httpServer: httpServer,
	}, nil
}

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("medic starting",
		"addr", r.cfg.HTTPAddr,
		"db", r.cfg.DBPath,
		"environment", r.cfg.Environment)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreCancel(r.monitor.Run(groupCtx))
	})
	group.Go(func() error {
		return ignoreCancel(r.resumer.Run(groupCtx))
	})
	group.Go(func() error {
		return ignoreCancel(r.tracker.RunStaleSweeper(groupCtx,
			time.Duration(r.cfg.StaleJobIntervalSec)*time.Second))
	})
	if r.watcher != nil {
		group.Go(func() error {
			return ignoreCancel(r.watcher.Start(groupCtx))
		})
	}
	group.Go(func() error {
		r.metrics.ConsumeEvents(groupCtx, r.hub)
		return nil
	})
	group.Go(func() error {
		r.metrics.SampleServicesDown(groupCtx, 30*time.Second, r.store.CountServicesDown)
		return nil
	})
	group.Go(func() error {
		err := r.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// durationAlertFunc routes slow and fast job-run alerts through the standard
// notification path and publishes them on the event hub.
func durationAlertFunc(sqlStore *store.Store, router *alerting.Router, hub *events.Hub, logger *slog.Logger) jobruns.AlertFunc {
	return func(ctx context.Context, alert jobruns.DurationAlert) {
		hub.Publish(events.Event{
			Type:      events.TypeDurationAlert,
			ServiceID: alert.ServiceID,
			Details: map[string]string{
				"alert_type":  alert.AlertType,
				"run_id":      alert.RunID,
				"duration_ms": fmt.Sprintf("%d", alert.DurationMS),
				"limit_ms":    fmt.Sprintf("%d", alert.LimitMS),
			},
		})

		service, err := sqlStore.GetServiceByID(ctx, alert.ServiceID)
		if err != nil {
			logger.Error("duration alert service lookup", "service_id", alert.ServiceID, "error", err)
			return
		}
		if service.Muted {
			return
		}
		payload := alerting.Payload{
			ServiceID:   service.ID,
			ServiceName: service.ServiceName,
			Summary: fmt.Sprintf(":stopwatch: %s run %s flagged %s: took %dms (limit %dms)",
				service.ServiceName, alert.RunID, alert.AlertType, alert.DurationMS, alert.LimitMS),
			Severity: "warning",
		}
		if _, err := router.Route(ctx, service.ID, payload, alerting.ModeNotifyAll); err != nil {
			logger.Error("duration alert notify", "service_id", service.ID, "error", err)
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func splitCSV(input string) []string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			result = append(result, value)
		}
	}
	return result
}
