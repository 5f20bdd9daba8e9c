package alerting

import (
	"fmt"
	"time"
)

// Working-hours classification for schedule-aware routing.
const (
	PeriodDuringHours = "during_hours"
	PeriodAfterHours  = "after_hours"
)

// WorkingHours classifies an instant as inside or outside business hours.
// Weekends always count as after hours.
type WorkingHours struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

func NewWorkingHours(startHour, endHour int, timezone string) (WorkingHours, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("load working-hours timezone: %w", err)
	}
	if startHour < 0 || startHour > 23 || endHour < 1 || endHour > 24 || startHour >= endHour {
		return WorkingHours{}, fmt.Errorf("invalid working hours %d-%d", startHour, endHour)
	}
	return WorkingHours{StartHour: startHour, EndHour: endHour, Location: location}, nil
}

func (h WorkingHours) Classify(t time.Time) string {
	local := t.In(h.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return PeriodAfterHours
	}
	if hour := local.Hour(); hour >= h.StartHour && hour < h.EndHour {
		return PeriodDuringHours
	}
	return PeriodAfterHours
}
