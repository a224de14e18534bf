package storage

import (
	"testing"
	"time"

	"github.com/insideout-learning/insideout/services/availability-service/internal/slots"
)

func TestBuildSnapshot(t *testing.T) {
	start := 1
	end := 6
	cfg := Config{
		MonthStart: &start,
		MonthEnd:   &end,
		Days: []DayConfig{
			{DayOfWeek: 1, Ranges: []slots.TimeRange{{StartMinute: 540, EndMinute: 720}}},
			{DayOfWeek: 1, Ranges: []slots.TimeRange{{StartMinute: 780, EndMinute: 900}}},
		},
		UnavailableDates: []time.Time{time.Date(2026, time.February, 14, 0, 0, 0, 0, time.UTC)},
	}
	booked := []BookedRange{
		{Date: time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC), StartMinute: 540, EndMinute: 600},
	}

	snap := BuildSnapshot(cfg, booked)

	// Duplicate weekday rows merge into one template entry.
	if got := len(snap.Template[1]); got != 2 {
		t.Fatalf("expected 2 merged ranges for Monday, got %d", got)
	}
	if _, ok := snap.Unavailable["2026-02-14"]; !ok {
		t.Fatal("expected unavailable date keyed by YYYY-MM-DD")
	}
	if got := snap.Booked["2026-01-26"]; len(got) != 1 || got[0].StartMinute != 540 {
		t.Fatalf("unexpected booked ranges: %+v", got)
	}
	if snap.MonthWindow.Start == nil || *snap.MonthWindow.Start != 1 {
		t.Fatal("expected month window start carried over")
	}
}
