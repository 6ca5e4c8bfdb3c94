package scheduler

import (
	"testing"
	"time"
)

func TestNextRunStrictlyAfter(t *testing.T) {
	// Exactly on a tick: the next firing must be the following tick, never
	// the same instant.
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := NextRun("0 12 * * *", "UTC", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if !next.After(from) {
		t.Fatalf("next %v is not strictly after %v", next, from)
	}
	want := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunEveryNMinutes(t *testing.T) {
	from := time.Date(2025, 6, 1, 12, 3, 30, 0, time.UTC)
	next, err := NextRun("*/5 * * * *", "UTC", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunRangeAndList(t *testing.T) {
	from := time.Date(2025, 6, 1, 9, 50, 0, 0, time.UTC) // a Sunday
	// Weekdays at 10:00 and 14:00.
	next, err := NextRun("0 10,14 * * 1-5", "UTC", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) // Monday
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunHonorsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 09:00 New York is 13:00 UTC in June (EDT).
	from := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * *", "America/New_York", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunAcrossSpringForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 2025-03-09 02:00-03:00 does not exist in New York. A daily 12:00
	// schedule must still fire exactly once on that date.
	from := time.Date(2025, 3, 8, 13, 0, 0, 0, loc)
	next, err := NextRun("0 12 * * *", "America/New_York", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2025, 3, 9, 12, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRunsPreview(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 30, 0, time.UTC)
	runs, err := NextRuns("*/15 * * * *", "UTC", from, 4)
	if err != nil {
		t.Fatalf("NextRuns: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("expected 4 previews, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if !runs[i].After(runs[i-1]) {
			t.Fatalf("previews must be strictly increasing: %v then %v", runs[i-1], runs[i])
		}
		if runs[i].Sub(runs[i-1]) != 15*time.Minute {
			t.Fatalf("expected 15m spacing, got %v", runs[i].Sub(runs[i-1]))
		}
	}
}

func TestValidateExpr(t *testing.T) {
	if err := ValidateExpr("*/5 * * * *"); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
	if err := ValidateExpr("61 * * * *"); err == nil {
		t.Fatalf("expected error for out-of-range minute")
	}
	if err := ValidateExpr("* * *"); err == nil {
		t.Fatalf("expected error for wrong field count")
	}
}

func TestNextRunRejectsUnknownTimezone(t *testing.T) {
	if _, err := NextRun("0 12 * * *", "Mars/Olympus_Mons", time.Now()); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}
