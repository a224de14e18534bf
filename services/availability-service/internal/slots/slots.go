// Package slots computes bookable session start times from a tutor's weekly
// availability template, calendar-date overrides, and already-booked ranges.
// Everything here is a pure function of its inputs: no I/O, no clocks, no
// mutation, so it is safe to call from any number of requests at once.
package slots

import (
	"sort"
	"time"
)

const (
	// SessionMinutes is the fixed onboarding session length.
	SessionMinutes = 60
	// StepMinutes is the granularity of candidate start times.
	StepMinutes = 30
	// HorizonDays bounds booking to (today, today+HorizonDays].
	HorizonDays = 30
)

// TimeRange is a half-open wall-clock interval [StartMinute, EndMinute) in
// minutes since midnight. Ranges with StartMinute >= EndMinute are tolerated
// and simply produce no candidates.
type TimeRange struct {
	StartMinute int
	EndMinute   int
}

// Slot is one bookable candidate session.
type Slot struct {
	StartMinute int
	EndMinute   int
}

// Template maps weekday numbers (1=Monday..7=Sunday) to that day's open
// ranges. Duplicate weekday entries from a provider are merged by appending;
// output dedup makes the merge safe even when ranges overlap.
type Template map[int][]TimeRange

func (t Template) Add(weekday int, ranges ...TimeRange) {
	t[weekday] = append(t[weekday], ranges...)
}

// MonthWindow restricts eligible calendar months to [Start, End] (1..12).
// A nil bound means unrestricted; filtering applies only when both bounds
// are present.
type MonthWindow struct {
	Start *int
	End   *int
}

func (w MonthWindow) allows(date time.Time) bool {
	if w.Start == nil || w.End == nil {
		return true
	}
	month := int(date.Month())
	return month >= *w.Start && month <= *w.End
}

// Snapshot is the read-only availability state the resolver works from,
// fetched fresh per page view.
type Snapshot struct {
	Template    Template
	MonthWindow MonthWindow
	// Unavailable holds fully-closed dates keyed by DateKey.
	Unavailable map[string]struct{}
	// Booked holds committed session ranges keyed by DateKey.
	Booked map[string][]TimeRange
}

// AvailableSlots returns the bookable start times on date, in ascending
// order. Candidates step through each template range in StepMinutes
// increments; a candidate survives unless its [start, start+SessionMinutes)
// interval overlaps a booking on the same calendar date. Start times emitted
// by more than one template range are deduplicated, first writer wins.
func AvailableSlots(tpl Template, booked map[string][]TimeRange, date time.Time) []Slot {
	ranges := tpl[WeekdayNumber(date)]
	if len(ranges) == 0 {
		return nil
	}
	bookedRanges := booked[DateKey(date)]

	seen := make(map[int]struct{})
	var out []Slot
	for _, r := range ranges {
		for start := r.StartMinute; start+SessionMinutes <= r.EndMinute; start += StepMinutes {
			end := start + SessionMinutes
			if overlapsAny(start, end, bookedRanges) {
				continue
			}
			if _, ok := seen[start]; ok {
				continue
			}
			seen[start] = struct{}{}
			out = append(out, Slot{StartMinute: start, EndMinute: end})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out
}

// SlotsFor applies the unavailable-date override before computing candidates.
func (s Snapshot) SlotsFor(date time.Time) []Slot {
	if _, closed := s.Unavailable[DateKey(date)]; closed {
		return nil
	}
	return AvailableSlots(s.Template, s.Booked, date)
}

// DateSelectable reports whether date should be offered on the booking
// calendar. Checks run cheapest-first and short-circuit:
// horizon, month window, weekday template, date override, then a non-empty
// candidate set.
func DateSelectable(s Snapshot, date, today time.Time) bool {
	d := truncateToDate(date)
	t := truncateToDate(today)

	if !d.After(t) {
		return false
	}
	if d.After(t.AddDate(0, 0, HorizonDays)) {
		return false
	}
	if !s.MonthWindow.allows(d) {
		return false
	}
	if len(s.Template[WeekdayNumber(d)]) == 0 {
		return false
	}
	if _, closed := s.Unavailable[DateKey(d)]; closed {
		return false
	}
	return len(AvailableSlots(s.Template, s.Booked, d)) > 0
}

// overlapsAny uses the half-open intersection rule: [a1,a2) and [b1,b2)
// overlap iff a1 < b2 && a2 > b1, so a booking ending exactly when a
// candidate starts does not conflict.
func overlapsAny(start, end int, booked []TimeRange) bool {
	for _, b := range booked {
		if start < b.EndMinute && end > b.StartMinute {
			return true
		}
	}
	return false
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
