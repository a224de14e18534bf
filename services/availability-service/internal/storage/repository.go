package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/insideout-learning/insideout/libs/db"
	"github.com/insideout-learning/insideout/services/availability-service/internal/slots"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// DayConfig is one weekday of the recurring template. Ranges are stored as
// minutes since midnight; wall-clock strings are parsed at the HTTP boundary.
type DayConfig struct {
	DayOfWeek int
	Ranges    []slots.TimeRange
}

// Config is the full availability configuration of one tutor.
type Config struct {
	MonthStart       *int
	MonthEnd         *int
	Days             []DayConfig
	UnavailableDates []time.Time
}

// BookedRange is a committed session mirrored from booking events.
type BookedRange struct {
	Date        time.Time
	StartMinute int
	EndMinute   int
}

func (r *Repository) GetConfig(ctx context.Context, tutorID string) (Config, error) {
	var cfg Config

	rows, err := r.pool.Query(ctx, `
		SELECT d.day_of_week, d.month_start, d.month_end, s.start_minute, s.end_minute
		FROM availability_days d
		JOIN availability_time_slots s
			ON s.tutor_id = d.tutor_id AND s.day_of_week = d.day_of_week
		WHERE d.tutor_id = $1
		ORDER BY d.day_of_week, s.start_minute
	`, tutorID)
	if err != nil {
		return Config{}, err
	}
	defer rows.Close()

	byDay := map[int]int{} // day_of_week -> index into cfg.Days
	for rows.Next() {
		var day, startMin, endMin int
		var monthStart, monthEnd *int
		if err := rows.Scan(&day, &monthStart, &monthEnd, &startMin, &endMin); err != nil {
			return Config{}, err
		}
		// All day rows carry the same month window; last writer wins.
		cfg.MonthStart = monthStart
		cfg.MonthEnd = monthEnd

		idx, ok := byDay[day]
		if !ok {
			idx = len(cfg.Days)
			cfg.Days = append(cfg.Days, DayConfig{DayOfWeek: day})
			byDay[day] = idx
		}
		cfg.Days[idx].Ranges = append(cfg.Days[idx].Ranges, slots.TimeRange{
			StartMinute: startMin,
			EndMinute:   endMin,
		})
	}
	if rows.Err() != nil {
		return Config{}, rows.Err()
	}

	dateRows, err := r.pool.Query(ctx, `
		SELECT unavailable_date
		FROM availability_unavailable_dates
		WHERE tutor_id = $1
		ORDER BY unavailable_date
	`, tutorID)
	if err != nil {
		return Config{}, err
	}
	defer dateRows.Close()

	for dateRows.Next() {
		var d time.Time
		if err := dateRows.Scan(&d); err != nil {
			return Config{}, err
		}
		cfg.UnavailableDates = append(cfg.UnavailableDates, d)
	}
	if dateRows.Err() != nil {
		return Config{}, dateRows.Err()
	}

	return cfg, nil
}

// ReplaceConfig applies the admin upsert with diff semantics: weekdays absent
// from the payload are deleted, present ones get their slot list replaced,
// and unavailable dates are diffed against the stored set. Everything runs in
// one transaction so the configuration never goes half-updated.
func (r *Repository) ReplaceConfig(ctx context.Context, tutorID string, cfg Config) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	days := make([]int, 0, len(cfg.Days))
	for _, d := range cfg.Days {
		days = append(days, d.DayOfWeek)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_days
		WHERE tutor_id = $1 AND day_of_week <> ALL($2)
	`, tutorID, days); err != nil {
		return err
	}

	for _, d := range cfg.Days {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_days (tutor_id, day_of_week, month_start, month_end)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tutor_id, day_of_week) DO UPDATE
			SET month_start = EXCLUDED.month_start,
				month_end = EXCLUDED.month_end,
				updated_at = now()
		`, tutorID, d.DayOfWeek, cfg.MonthStart, cfg.MonthEnd); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM availability_time_slots
			WHERE tutor_id = $1 AND day_of_week = $2
		`, tutorID, d.DayOfWeek); err != nil {
			return err
		}
		for _, rng := range d.Ranges {
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_time_slots (tutor_id, day_of_week, start_minute, end_minute)
				VALUES ($1, $2, $3, $4)
			`, tutorID, d.DayOfWeek, rng.StartMinute, rng.EndMinute); err != nil {
				return err
			}
		}
	}

	dates := make([]time.Time, 0, len(cfg.UnavailableDates))
	dates = append(dates, cfg.UnavailableDates...)
	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_unavailable_dates
		WHERE tutor_id = $1 AND unavailable_date <> ALL($2)
	`, tutorID, dates); err != nil {
		return err
	}
	for _, d := range dates {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_unavailable_dates (tutor_id, unavailable_date)
			VALUES ($1, $2)
			ON CONFLICT (tutor_id, unavailable_date) DO NOTHING
		`, tutorID, d); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repository) ListBookedRanges(ctx context.Context, tutorID string, from, to time.Time) ([]BookedRange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_date, start_minute, end_minute
		FROM availability_booked_slots
		WHERE tutor_id = $1
			AND session_date >= $2
			AND session_date <= $3
		ORDER BY session_date, start_minute
	`, tutorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BookedRange
	for rows.Next() {
		var b BookedRange
		if err := rows.Scan(&b.Date, &b.StartMinute, &b.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RecordBookedRange mirrors a schedule-created event into the local booked
// cache. Replayed events land on the schedule_id conflict and are ignored.
// Runs in the consumer's transaction alongside the inbox record.
func (r *Repository) RecordBookedRange(ctx context.Context, tx pgx.Tx, tutorID string, scheduleID int64, b BookedRange) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO availability_booked_slots (tutor_id, schedule_id, session_date, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schedule_id) DO NOTHING
	`, tutorID, scheduleID, b.Date, b.StartMinute, b.EndMinute)
	return err
}

// Snapshot assembles the resolver input for one tutor. Booked ranges are
// loaded for the horizon window only; the resolver never looks further out.
func (r *Repository) Snapshot(ctx context.Context, tutorID string, from, to time.Time) (slots.Snapshot, error) {
	cfg, err := r.GetConfig(ctx, tutorID)
	if err != nil {
		return slots.Snapshot{}, err
	}
	booked, err := r.ListBookedRanges(ctx, tutorID, from, to)
	if err != nil {
		return slots.Snapshot{}, err
	}
	return BuildSnapshot(cfg, booked), nil
}

// BuildSnapshot converts storage rows into the pure resolver's input.
func BuildSnapshot(cfg Config, booked []BookedRange) slots.Snapshot {
	snap := slots.Snapshot{
		Template:    slots.Template{},
		MonthWindow: slots.MonthWindow{Start: cfg.MonthStart, End: cfg.MonthEnd},
		Unavailable: map[string]struct{}{},
		Booked:      map[string][]slots.TimeRange{},
	}
	for _, d := range cfg.Days {
		snap.Template.Add(d.DayOfWeek, d.Ranges...)
	}
	for _, d := range cfg.UnavailableDates {
		snap.Unavailable[slots.DateKey(d)] = struct{}{}
	}
	for _, b := range booked {
		key := slots.DateKey(b.Date)
		snap.Booked[key] = append(snap.Booked[key], slots.TimeRange{
			StartMinute: b.StartMinute,
			EndMinute:   b.EndMinute,
		})
	}
	return snap
}
