package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	otelx "github.com/insideout-learning/insideout/libs/otel"
)

// Job is one scheduled session reminder. One job per schedule; replayed
// reminder events collapse on the schedule_id conflict.
type Job struct {
	ID           int64
	ScheduleID   int64
	EnrollmentID int64
	UserID       int64
	RemindAt     time.Time
	SessionStart time.Time
	Traceparent  string
	Tracestate   string
	Attempts     int
	MaxAttempts  int
	NextRunAt    time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO reminder_jobs (schedule_id, enrollment_id, user_id, remind_at, session_start, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $4, $6, $7)
		ON CONFLICT (schedule_id) DO NOTHING
	`, job.ScheduleID, job.EnrollmentID, job.UserID, job.RemindAt, job.SessionStart, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, schedule_id, enrollment_id, user_id, remind_at, session_start, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.ScheduleID, &j.EnrollmentID, &j.UserID, &j.RemindAt, &j.SessionStart, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
