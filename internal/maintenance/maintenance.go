// Package maintenance evaluates maintenance windows. A window suppresses
// alerting for the services it covers; recurring windows are cron
// expressions evaluated in the window's own timezone so DST shifts keep
// wall-clock semantics.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/medic-ops/medic/internal/store"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateRecurrence rejects malformed cron expressions at creation time.
func ValidateRecurrence(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid recurrence expression: %w", err)
	}
	return nil
}

type windowStore interface {
	ListMaintenanceWindows(ctx context.Context) ([]store.MaintenanceWindow, error)
}

type Evaluator struct {
	store windowStore
}

func NewEvaluator(windowStore windowStore) *Evaluator {
	return &Evaluator{store: windowStore}
}

// InMaintenance reports whether any window covering serviceID is active at t.
func (e *Evaluator) InMaintenance(ctx context.Context, serviceID string, t time.Time) (bool, error) {
	windows, err := e.store.ListMaintenanceWindows(ctx)
	if err != nil {
		return false, err
	}
	for _, window := range windows {
		if !window.AppliesTo(serviceID) {
			continue
		}
		active, err := WindowActive(window, t)
		if err != nil {
			return false, err
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// WindowActive reports whether a single window is active at t. One-time
// windows are a plain start <= t < end check; recurring windows fire a cron
// occurrence lasting the configured duration.
func WindowActive(window store.MaintenanceWindow, t time.Time) (bool, error) {
	if window.Recurrence == "" {
		return !t.Before(window.StartTime) && t.Before(window.EndTime), nil
	}

	schedule, err := cronParser.Parse(window.Recurrence)
	if err != nil {
		return false, fmt.Errorf("parse recurrence for window %s: %w", window.ID, err)
	}
	location, err := time.LoadLocation(window.Timezone)
	if err != nil {
		return false, fmt.Errorf("load timezone for window %s: %w", window.ID, err)
	}
	duration := window.EndTime.Sub(window.StartTime)
	if duration <= 0 {
		return false, nil
	}

	// The cron library only walks forward, so start just before the earliest
	// occurrence that could still cover t and scan up to t.
	local := t.In(location)
	cursor := local.Add(-duration - time.Minute)
	for range 1000 {
		occurrence := schedule.Next(cursor)
		if occurrence.After(local) {
			return false, nil
		}
		if !local.Before(occurrence) && local.Before(occurrence.Add(duration)) {
			return true, nil
		}
		cursor = occurrence
	}
	return false, nil
}
