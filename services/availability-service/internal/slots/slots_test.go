package slots

import (
	"reflect"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustClock(t *testing.T, v string) int {
	t.Helper()
	m, err := ParseClock(v)
	if err != nil {
		t.Fatalf("ParseClock(%q) failed: %v", v, err)
	}
	return m
}

func rangeOf(t *testing.T, start, end string) TimeRange {
	t.Helper()
	return TimeRange{StartMinute: mustClock(t, start), EndMinute: mustClock(t, end)}
}

func mondayTemplate(t *testing.T, start, end string) Template {
	t.Helper()
	tpl := Template{}
	tpl.Add(1, rangeOf(t, start, end))
	return tpl
}

func starts(slots []Slot) []string {
	var out []string
	for _, s := range slots {
		out = append(out, FormatClock(s.StartMinute))
	}
	return out
}

func TestDateSelectable_Horizon(t *testing.T) {
	snap := Snapshot{Template: mondayTemplate(t, "09:00", "12:00")}
	today := date(2026, time.January, 25) // Sunday

	if DateSelectable(snap, today, today) {
		t.Fatal("same-day booking must not be selectable")
	}
	if DateSelectable(snap, date(2026, time.January, 19), today) {
		t.Fatal("past date must not be selectable")
	}
	if !DateSelectable(snap, date(2026, time.January, 26), today) {
		t.Fatal("next-day Monday inside the horizon should be selectable")
	}
	// 2026-03-02 is a Monday but beyond today+30 (2026-02-24).
	if DateSelectable(snap, date(2026, time.March, 2), today) {
		t.Fatal("date beyond the 30-day horizon must not be selectable")
	}
}

func TestDateSelectable_MonthWindow(t *testing.T) {
	start, end := 3, 5
	snap := Snapshot{
		Template:    mondayTemplate(t, "09:00", "12:00"),
		MonthWindow: MonthWindow{Start: &start, End: &end},
	}

	// 2026-04-06 is a Monday inside [March, May].
	if !DateSelectable(snap, date(2026, time.April, 6), date(2026, time.April, 1)) {
		t.Fatal("April Monday inside the month window should be selectable")
	}
	// 2026-06-08 is a Monday but June is outside the window.
	if DateSelectable(snap, date(2026, time.June, 8), date(2026, time.June, 1)) {
		t.Fatal("June date outside the month window must not be selectable")
	}

	// A nil bound disables month filtering entirely.
	snap.MonthWindow = MonthWindow{Start: &start}
	if !DateSelectable(snap, date(2026, time.June, 8), date(2026, time.June, 1)) {
		t.Fatal("month filtering must be skipped when a bound is nil")
	}
}

func TestDateSelectable_NoTemplateEntry(t *testing.T) {
	snap := Snapshot{Template: mondayTemplate(t, "09:00", "12:00")}
	// 2026-01-27 is a Tuesday; the template only covers Monday.
	if DateSelectable(snap, date(2026, time.January, 27), date(2026, time.January, 25)) {
		t.Fatal("weekday without a template entry must not be selectable")
	}
}

func TestDateSelectable_UnavailableOverride(t *testing.T) {
	snap := Snapshot{
		Template: mondayTemplate(t, "09:00", "12:00"),
		Unavailable: map[string]struct{}{
			"2026-01-26": {},
		},
	}
	if DateSelectable(snap, date(2026, time.January, 26), date(2026, time.January, 25)) {
		t.Fatal("unavailable date must override an open weekday template")
	}
}

func TestDateSelectable_FullyBookedDay(t *testing.T) {
	snap := Snapshot{
		Template: mondayTemplate(t, "09:00", "11:00"),
		Booked: map[string][]TimeRange{
			"2026-01-26": {rangeOf(t, "09:30", "10:30")},
		},
	}
	// One 09:30-10:30 booking conflicts with every 60-minute candidate
	// inside 09:00-11:00, so the whole day closes.
	if DateSelectable(snap, date(2026, time.January, 26), date(2026, time.January, 25)) {
		t.Fatal("day with no surviving candidates must not be selectable")
	}
}

func TestAvailableSlots_DurationFloor(t *testing.T) {
	tpl := mondayTemplate(t, "09:00", "09:45")
	if got := AvailableSlots(tpl, nil, date(2026, time.January, 26)); len(got) != 0 {
		t.Fatalf("45-minute range must yield no 60-minute candidates, got %v", starts(got))
	}
}

func TestAvailableSlots_Stepping(t *testing.T) {
	tpl := mondayTemplate(t, "09:00", "11:00")
	got := AvailableSlots(tpl, nil, date(2026, time.January, 26))
	want := []string{"09:00", "09:30", "10:00"}
	if !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected candidates %v, got %v", want, starts(got))
	}
	if got[0].EndMinute != mustClock(t, "10:00") {
		t.Fatalf("candidate end must be start+60m, got %s", FormatClock(got[0].EndMinute))
	}
}

func TestAvailableSlots_BookingExcludesAllCandidates(t *testing.T) {
	tpl := mondayTemplate(t, "09:00", "11:00")
	booked := map[string][]TimeRange{
		"2026-01-26": {rangeOf(t, "09:30", "10:30")},
	}
	// 09:00-10:00, 09:30-10:30, and 10:00-11:00 all intersect [09:30,10:30).
	if got := AvailableSlots(tpl, booked, date(2026, time.January, 26)); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", starts(got))
	}
}

func TestAvailableSlots_HalfOpenTouchDoesNotConflict(t *testing.T) {
	tpl := mondayTemplate(t, "09:00", "11:00")
	booked := map[string][]TimeRange{
		"2026-01-26": {rangeOf(t, "09:00", "10:00")},
	}
	got := AvailableSlots(tpl, booked, date(2026, time.January, 26))
	// A booking ending at 10:00 leaves the 10:00 candidate open.
	want := []string{"10:00"}
	if !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected candidates %v, got %v", want, starts(got))
	}
}

func TestAvailableSlots_BookingOnOtherDateIgnored(t *testing.T) {
	tpl := mondayTemplate(t, "09:00", "11:00")
	booked := map[string][]TimeRange{
		"2026-02-02": {rangeOf(t, "09:00", "11:00")},
	}
	if got := AvailableSlots(tpl, booked, date(2026, time.January, 26)); len(got) != 3 {
		t.Fatalf("bookings on other dates must not block candidates, got %v", starts(got))
	}
}

func TestAvailableSlots_DedupAcrossOverlappingRanges(t *testing.T) {
	tpl := Template{}
	tpl.Add(1, rangeOf(t, "09:00", "10:30"), rangeOf(t, "09:30", "11:00"))
	got := AvailableSlots(tpl, nil, date(2026, time.January, 26))
	want := []string{"09:00", "09:30", "10:00"}
	if !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected deduplicated candidates %v, got %v", want, starts(got))
	}
}

func TestAvailableSlots_MalformedRangeYieldsNothing(t *testing.T) {
	tpl := Template{}
	tpl.Add(1, TimeRange{StartMinute: mustClock(t, "12:00"), EndMinute: mustClock(t, "09:00")})
	if got := AvailableSlots(tpl, nil, date(2026, time.January, 26)); len(got) != 0 {
		t.Fatalf("inverted range must degrade to zero candidates, got %v", starts(got))
	}
}

func TestAvailableSlots_Idempotent(t *testing.T) {
	tpl := mondayTemplate(t, "09:00", "12:00")
	booked := map[string][]TimeRange{
		"2026-01-26": {rangeOf(t, "10:00", "11:00")},
	}
	day := date(2026, time.January, 26)

	first := AvailableSlots(tpl, booked, day)
	second := AvailableSlots(tpl, booked, day)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs must yield identical output: %v vs %v", first, second)
	}
}

func TestSnapshot_SlotsForRespectsOverride(t *testing.T) {
	snap := Snapshot{
		Template: mondayTemplate(t, "09:00", "12:00"),
		Unavailable: map[string]struct{}{
			"2026-01-26": {},
		},
	}
	if got := snap.SlotsFor(date(2026, time.January, 26)); len(got) != 0 {
		t.Fatalf("overridden date must yield no slots, got %v", starts(got))
	}
}

func TestEndToEndScenario(t *testing.T) {
	start, end := 1, 12
	snap := Snapshot{
		Template:    mondayTemplate(t, "09:00", "12:00"),
		MonthWindow: MonthWindow{Start: &start, End: &end},
	}
	today := date(2026, time.January, 25) // Sunday
	monday := date(2026, time.January, 26)

	if !DateSelectable(snap, monday, today) {
		t.Fatal("expected the following Monday to be selectable")
	}
	got := AvailableSlots(snap.Template, snap.Booked, monday)
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00"}
	if !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected slots %v, got %v", want, starts(got))
	}
	if FormatClock(got[len(got)-1].EndMinute) != "12:00" {
		t.Fatalf("last slot must end at 12:00, got %s", FormatClock(got[len(got)-1].EndMinute))
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"09:00:00", 540, false},
		{"23:59", 1439, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"09:60", 0, true},
		{"0900", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParseClock(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseClock(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestWeekdayNumber(t *testing.T) {
	if got := WeekdayNumber(date(2026, time.January, 26)); got != 1 {
		t.Fatalf("Monday must map to 1, got %d", got)
	}
	if got := WeekdayNumber(date(2026, time.January, 31)); got != 6 {
		t.Fatalf("Saturday must map to 6, got %d", got)
	}
	if got := WeekdayNumber(date(2026, time.January, 25)); got != 7 {
		t.Fatalf("Sunday must map to 7, got %d", got)
	}
}
