// Package alerting fans alert notifications out to a service's notification
// targets, honoring priority order, schedule filters, and the configured
// execution mode.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

// Execution modes.
const (
	ModeNotifyAll          = "notify_all"
	ModeNotifyUntilSuccess = "notify_until_success"
)

// Payload is what a sender delivers for one alert event.
type Payload struct {
	ServiceID   string
	ServiceName string
	AlertID     string
	Summary     string
	Severity    string
	DedupKey    string
}

// Result records the outcome for one target.
type Result struct {
	TargetID     string
	Type         string
	Success      bool
	ErrorMessage string
}

func AllSucceeded(results []Result) bool {
	for _, result := range results {
		if !result.Success {
			return false
		}
	}
	return len(results) > 0
}

func AnySucceeded(results []Result) bool {
	for _, result := range results {
		if result.Success {
			return true
		}
	}
	return false
}

// Partition splits results into successful and failed slices.
func Partition(results []Result) (succeeded, failed []Result) {
	for _, result := range results {
		if result.Success {
			succeeded = append(succeeded, result)
		} else {
			failed = append(failed, result)
		}
	}
	return succeeded, failed
}

// Sender delivers a payload to one target. Implementations return an error
// to mark the target as failed; the router never lets one target's failure
// stop notify_all fan-out.
type Sender interface {
	Send(ctx context.Context, target store.NotificationTarget, payload Payload) error
}

type targetStore interface {
	ListTargetsForService(ctx context.Context, serviceID string) ([]store.NotificationTarget, error)
	GetTeam(ctx context.Context, id string) (store.Team, error)
}

type Router struct {
	store          targetStore
	sender         Sender
	fallbackSlack  slackSender
	defaultChannel string
	hours          WorkingHours
	logger         *slog.Logger
	now            func() time.Time
}

type slackSender interface {
	Send(ctx context.Context, channelID, text string) error
}

type RouterConfig struct {
	Store          targetStore
	Sender         Sender
	FallbackSlack  slackSender
	DefaultChannel string
	Hours          WorkingHours
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		store:          cfg.Store,
		sender:         cfg.Sender,
		fallbackSlack:  cfg.FallbackSlack,
		defaultChannel: cfg.DefaultChannel,
		hours:          cfg.Hours,
		logger:         cfg.Logger,
		now:            time.Now,
	}
}

// Route fans out to all enabled targets for the service, ignoring schedule
// periods.
func (r *Router) Route(ctx context.Context, serviceID string, payload Payload, mode string) ([]Result, error) {
	return r.route(ctx, serviceID, payload, mode, false)
}

// RouteWithSchedule is Route with the period filter applied: targets whose
// period is always, plus targets matching the current working-hours
// classification.
func (r *Router) RouteWithSchedule(ctx context.Context, serviceID string, payload Payload, mode string) ([]Result, error) {
	return r.route(ctx, serviceID, payload, mode, true)
}

func (r *Router) route(ctx context.Context, serviceID string, payload Payload, mode string, withSchedule bool) ([]Result, error) {
	if mode == "" {
		mode = ModeNotifyAll
	}
	targets, err := r.store.ListTargetsForService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load notification targets: %w", err)
	}

	currentPeriod := r.hours.Classify(r.now())
	selected := targets[:0]
	for _, target := range targets {
		if !target.Enabled {
			continue
		}
		if withSchedule && target.Period != store.TargetPeriodAlways && target.Period != currentPeriod {
			continue
		}
		selected = append(selected, target)
	}
	if len(selected) == 0 {
		return nil, nil
	}

	results := []Result{}
	for _, target := range selected {
		result := r.deliver(ctx, target, payload)
		results = append(results, result)
		if mode == ModeNotifyUntilSuccess && result.Success {
			break
		}
	}
	return results, nil
}

func (r *Router) deliver(ctx context.Context, target store.NotificationTarget, payload Payload) Result {
	result := Result{TargetID: target.ID, Type: target.Type}
	if err := r.sender.Send(ctx, target, payload); err != nil {
		result.ErrorMessage = err.Error()
		r.logger.Warn("notification target failed",
			slog.String("target_id", target.ID),
			slog.String("type", target.Type),
			slog.String("service_id", payload.ServiceID),
			slog.String("error", err.Error()))
		return result
	}
	result.Success = true
	return result
}

// RouteFallback implements the legacy path for services without notification
// targets: the team's Slack channel when the service belongs to a team,
// otherwise the environment default channel.
func (r *Router) RouteFallback(ctx context.Context, teamID string, payload Payload) error {
	channelID := r.defaultChannel
	if teamID != "" {
		team, err := r.store.GetTeam(ctx, teamID)
		if err == nil && strings.TrimSpace(team.SlackChannelID) != "" {
			channelID = team.SlackChannelID
		}
	}
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("no fallback slack channel configured")
	}
	return r.fallbackSlack.Send(ctx, channelID, payload.Summary)
}
