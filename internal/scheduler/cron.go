package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Five-field expressions: minute, hour, day-of-month, month, day-of-week.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func ValidateExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun evaluates expr in the given IANA timezone and returns the first
// firing strictly after from. A schedule that fires exactly at a tick must
// not fire twice, so equality with from is never returned.
func NextRun(expr, timezone string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q has no future firing", expr)
	}
	return next, nil
}

// NextRuns previews the next n firings after from.
func NextRuns(expr, timezone string, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	cursor := from
	for i := 0; i < n; i++ {
		next, err := NextRun(expr, timezone, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}
