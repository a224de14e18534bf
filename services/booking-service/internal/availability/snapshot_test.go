package availability

import (
	"testing"
	"time"
)

func testSnapshot() Snapshot {
	return Snapshot{
		TutorID:    "tutor-1",
		MonthStart: 1,
		MonthEnd:   6,
		Days: map[int][]MinuteRange{
			1: {{StartMinute: 540, EndMinute: 720}}, // Monday 09:00-12:00
		},
		UnavailableDates: map[string]struct{}{},
		Booked:           map[string][]MinuteRange{},
	}
}

var today = time.Date(2026, time.January, 25, 10, 0, 0, 0, time.UTC) // Sunday

func TestSlotAllowedInsideTemplate(t *testing.T) {
	snap := testSnapshot()
	monday := time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC)

	if !snap.SlotAllowed(monday, 540, 600, today) {
		t.Fatal("slot inside template range should be allowed")
	}
	if snap.SlotAllowed(monday, 500, 560, today) {
		t.Fatal("slot starting before template range should be rejected")
	}
	if snap.SlotAllowed(monday, 690, 750, today) {
		t.Fatal("slot extending past template range should be rejected")
	}
}

func TestSlotAllowedHorizon(t *testing.T) {
	snap := testSnapshot()

	if snap.SlotAllowed(today, 540, 600, today) {
		t.Fatal("today should never be bookable")
	}
	farMonday := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if snap.SlotAllowed(farMonday, 540, 600, today) {
		t.Fatal("dates past the horizon should be rejected")
	}
}

func TestSlotAllowedUnavailableDate(t *testing.T) {
	snap := testSnapshot()
	snap.UnavailableDates["2026-01-26"] = struct{}{}
	monday := time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC)

	if snap.SlotAllowed(monday, 540, 600, today) {
		t.Fatal("struck-out date should be rejected")
	}
}

func TestSlotAllowedBookedOverlap(t *testing.T) {
	snap := testSnapshot()
	snap.Booked["2026-01-26"] = []MinuteRange{{StartMinute: 570, EndMinute: 630}}
	monday := time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC)

	if snap.SlotAllowed(monday, 540, 600, today) {
		t.Fatal("overlapping booking should be rejected")
	}
	// Half-open: a slot ending exactly when the booking starts is fine.
	if !snap.SlotAllowed(monday, 630, 690, today) {
		t.Fatal("slot starting at booking end should be allowed")
	}
}
