package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/insideout-learning/insideout/libs/db"
	"github.com/insideout-learning/insideout/services/booking-service/internal/model"
)

type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *ScheduleRepository) GetEnrollmentForUpdate(ctx context.Context, tx pgx.Tx, enrollmentID int64) (model.Enrollment, error) {
	var e model.Enrollment
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, course_id, tutor_id, start_date, end_date, status, created_at
		FROM enrollments
		WHERE id = $1
		FOR UPDATE
	`, enrollmentID).Scan(
		&e.ID,
		&e.UserID,
		&e.CourseID,
		&e.TutorID,
		&e.StartDate,
		&e.EndDate,
		&e.Status,
		&e.CreatedAt,
	)
	if err != nil {
		return model.Enrollment{}, err
	}
	return e, nil
}

// CountOverlapping is the SQL side of the half-open overlap rule. The
// exclusion constraint on schedules is the backstop for races that slip
// between this check and the insert.
func (r *ScheduleRepository) CountOverlapping(ctx context.Context, tx pgx.Tx, tutorID string, date time.Time, startMinute, endMinute int) (int, error) {
	var cnt int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM schedules
		WHERE tutor_id = $1
			AND session_date = $2
			AND start_minute < $4
			AND end_minute > $3
	`, tutorID, date, startMinute, endMinute).Scan(&cnt)
	return cnt, err
}

func (r *ScheduleRepository) CreateSchedule(ctx context.Context, tx pgx.Tx, s *model.Schedule) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO schedules (enrollment_id, user_id, tutor_id, session_date, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, s.EnrollmentID, s.UserID, s.TutorID, s.Date, s.StartMinute, s.EndMinute).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *ScheduleRepository) UpdateEnrollmentAfterScheduling(ctx context.Context, tx pgx.Tx, enrollmentID int64, endDate time.Time, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE enrollments
		SET end_date = GREATEST(COALESCE(end_date, $2::date), $2::date),
			status = $3,
			updated_at = now()
		WHERE id = $1
	`, enrollmentID, endDate, status)
	return err
}

func (r *ScheduleRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]model.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, enrollment_id, user_id, tutor_id, session_date, start_minute, end_minute, created_at
		FROM schedules
		WHERE user_id = $1
		ORDER BY session_date, start_minute
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		var s model.Schedule
		if err := rows.Scan(&s.ID, &s.EnrollmentID, &s.UserID, &s.TutorID, &s.Date, &s.StartMinute, &s.EndMinute, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, scheduleID int64) (model.Schedule, error) {
	var s model.Schedule
	err := r.pool.QueryRow(ctx, `
		SELECT id, enrollment_id, user_id, tutor_id, session_date, start_minute, end_minute, created_at
		FROM schedules
		WHERE id = $1
	`, scheduleID).Scan(&s.ID, &s.EnrollmentID, &s.UserID, &s.TutorID, &s.Date, &s.StartMinute, &s.EndMinute, &s.CreatedAt)
	if err != nil {
		return model.Schedule{}, err
	}
	return s, nil
}

type IdempotencyRecord struct {
	UserID          int64
	IdempotencyKey  string
	StatusCode      int
	ResponsePayload []byte
}

func (r *ScheduleRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, userID int64, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (user_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, userID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *ScheduleRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, userID int64, key string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key, statusCode, response)
	return err
}

func (r *ScheduleRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, userID int64, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT user_id,
			idempotency_key,
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, userID, key).Scan(
		&rec.UserID,
		&rec.IdempotencyKey,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
