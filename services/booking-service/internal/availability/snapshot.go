package availability

import "time"

// Snapshot is the booking-side view of a tutor's availability, fetched from
// availability-service for server-side revalidation of a requested slot.
type Snapshot struct {
	TutorID          string
	MonthStart       int
	MonthEnd         int
	Days             map[int][]MinuteRange // weekday 1=Monday..7=Sunday
	UnavailableDates map[string]struct{}   // YYYY-MM-DD
	Booked           map[string][]MinuteRange
	GeneratedAt      time.Time
}

type MinuteRange struct {
	StartMinute int
	EndMinute   int
}

const horizonDays = 30

// SlotAllowed re-applies the public booking rules to one requested slot:
// the date must be inside the horizon and month window, not struck out, the
// slot must sit inside a template range of that weekday, and it must not
// overlap an already-booked range.
func (s Snapshot) SlotAllowed(date time.Time, startMinute, endMinute int, today time.Time) bool {
	if endMinute <= startMinute {
		return false
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	base := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if !day.After(base) || day.After(base.AddDate(0, 0, horizonDays)) {
		return false
	}
	if s.MonthStart > 0 && s.MonthEnd > 0 {
		m := int(day.Month())
		if m < s.MonthStart || m > s.MonthEnd {
			return false
		}
	}

	key := day.Format("2006-01-02")
	if _, blocked := s.UnavailableDates[key]; blocked {
		return false
	}

	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	inTemplate := false
	for _, r := range s.Days[weekday] {
		if startMinute >= r.StartMinute && endMinute <= r.EndMinute {
			inTemplate = true
			break
		}
	}
	if !inTemplate {
		return false
	}

	for _, b := range s.Booked[key] {
		if startMinute < b.EndMinute && endMinute > b.StartMinute {
			return false
		}
	}
	return true
}
