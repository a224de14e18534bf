package handlers

import (
	"testing"
	"time"
)

func TestParseScheduleItems(t *testing.T) {
	enrollmentID, items, msg := parseScheduleItems([]scheduleItemRequest{
		{EnrollmentID: 7, Date: "2026-01-26", StartTime: "09:00", EndTime: "10:00"},
		{EnrollmentID: 7, Date: "2026-02-02", StartTime: "10:30:00", EndTime: "11:30"},
	})
	if msg != "" {
		t.Fatalf("unexpected validation error: %s", msg)
	}
	if enrollmentID != 7 {
		t.Fatalf("expected enrollment 7, got %d", enrollmentID)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[1].StartMinute != 630 || items[1].EndMinute != 690 {
		t.Fatalf("seconds should be discarded in clock values: %+v", items[1])
	}
}

func TestParseScheduleItemsRejections(t *testing.T) {
	cases := []struct {
		name  string
		items []scheduleItemRequest
	}{
		{"empty", nil},
		{"missing enrollment", []scheduleItemRequest{{Date: "2026-01-26", StartTime: "09:00", EndTime: "10:00"}}},
		{"mixed enrollments", []scheduleItemRequest{
			{EnrollmentID: 1, Date: "2026-01-26", StartTime: "09:00", EndTime: "10:00"},
			{EnrollmentID: 2, Date: "2026-01-27", StartTime: "09:00", EndTime: "10:00"},
		}},
		{"bad date", []scheduleItemRequest{{EnrollmentID: 1, Date: "26-01-2026", StartTime: "09:00", EndTime: "10:00"}}},
		{"bad clock", []scheduleItemRequest{{EnrollmentID: 1, Date: "2026-01-26", StartTime: "25:00", EndTime: "26:00"}}},
		{"not one hour", []scheduleItemRequest{{EnrollmentID: 1, Date: "2026-01-26", StartTime: "09:00", EndTime: "09:30"}}},
		{"inverted", []scheduleItemRequest{{EnrollmentID: 1, Date: "2026-01-26", StartTime: "10:00", EndTime: "09:00"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, msg := parseScheduleItems(tc.items); msg == "" {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestEnrollmentStatus(t *testing.T) {
	today := time.Date(2026, time.January, 25, 10, 0, 0, 0, time.UTC)

	if got := enrollmentStatus(time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC), today); got != "active" {
		t.Fatalf("future sessions should keep the enrollment active, got %q", got)
	}
	if got := enrollmentStatus(today, today); got != "active" {
		t.Fatalf("a session today should keep the enrollment active, got %q", got)
	}
	if got := enrollmentStatus(time.Date(2026, time.January, 24, 0, 0, 0, 0, time.UTC), today); got != "completed" {
		t.Fatalf("past sessions should complete the enrollment, got %q", got)
	}
}

func TestFormatClock(t *testing.T) {
	if got := formatClock(630); got != "10:30" {
		t.Fatalf("expected 10:30, got %s", got)
	}
	if got := formatClock(540); got != "09:00" {
		t.Fatalf("expected 09:00, got %s", got)
	}
}
