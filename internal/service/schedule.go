package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression. Descriptors such as "@daily"
// and an optional leading seconds field are accepted.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: schedule expression is required", ErrInvalidTask)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schedule expression %q: %v", ErrInvalidTask, expr, err)
	}
	return schedule, nil
}

// NextRuns returns the next n fire times of expr after from, evaluated in
// loc and returned in UTC.
func NextRuns(expr string, from time.Time, loc *time.Location, n int) ([]time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = schedule.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t.UTC())
	}
	return out, nil
}

func NextRun(expr string, from time.Time, loc *time.Location) (time.Time, error) {
	runs, err := NextRuns(expr, from, loc, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(runs) == 0 {
		return time.Time{}, fmt.Errorf("%w: schedule %q never fires", ErrInvalidTask, expr)
	}
	return runs[0], nil
}

// LoadLocation resolves a timezone name, falling back to UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	return loc, nil
}
