package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/insideout-learning/insideout/libs/db"
	otelx "github.com/insideout-learning/insideout/libs/otel"
	"github.com/insideout-learning/insideout/services/notification-service/internal/email"
	"github.com/insideout-learning/insideout/services/notification-service/internal/outbox"
	"github.com/insideout-learning/insideout/services/notification-service/internal/storage"
)

// Worker polls due reminder jobs and delivers them over email. Each batch
// runs in one transaction so a crashed worker leaves the jobs pending for
// the next poll (or another replica, via SKIP LOCKED).
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	store     *storage.Repository
	outbox    *outbox.Repository
	sender    email.Sender
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, store *storage.Repository, outboxRepo *outbox.Repository, sender email.Sender, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		store:     store,
		outbox:    outboxRepo,
		sender:    sender,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var processed []int64
	var failed []failedJob
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.deliver(jobCtx, tx, job); err != nil {
			w.logger.Error("reminder delivery failed", "err", err, "schedule_id", job.ScheduleID)
			failed = append(failed, failedJob{job: job, reason: err.Error()})
			continue
		}
		processed = append(processed, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, processed); err != nil {
		return err
	}

	for _, f := range failed {
		jobCtx := otelx.ContextWithTraceContext(ctx, f.job.Traceparent, f.job.Tracestate)
		attempts := f.job.Attempts + 1
		nextRunAt := time.Now().UTC().Add(w.backoff)
		if err := w.repo.MarkFailed(ctx, tx, f.job.ID, attempts, f.job.MaxAttempts, nextRunAt, f.reason); err != nil {
			return err
		}
		if attempts >= f.job.MaxAttempts {
			if err := w.enqueueDLQ(jobCtx, tx, f.job, f.reason); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

type failedJob struct {
	job    Job
	reason string
}

func (w *Worker) deliver(ctx context.Context, tx pgx.Tx, job Job) error {
	recipient, err := w.store.GetUserEmail(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	subject := "Your tutoring session is coming up"
	body := fmt.Sprintf(
		"Hi,\n\nThis is a reminder that your tutoring session starts at %s.\n\nSee you there!",
		job.SessionStart.UTC().Format("Monday, 2 Jan 2006 15:04 MST"),
	)
	sendErr := w.sender.Send(recipient, subject, body)

	status := "sent"
	errText := ""
	if sendErr != nil {
		status = "failed"
		errText = sendErr.Error()
	}
	if err := w.store.Insert(ctx, tx, storage.Notification{
		EnrollmentID: job.EnrollmentID,
		UserID:       job.UserID,
		Kind:         "session_reminder",
		Recipient:    recipient,
		Subject:      subject,
		Status:       status,
		Error:        errText,
	}); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	if sendErr != nil {
		return sendErr
	}

	payload, err := json.Marshal(map[string]any{
		"schedule_id":   job.ScheduleID,
		"enrollment_id": job.EnrollmentID,
		"user_id":       job.UserID,
		"kind":          "session_reminder",
		"sent_at":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   strconv.FormatInt(job.ScheduleID, 10),
		EventType:     "notification.sent.v1",
		Payload:       payload,
	})
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, job Job, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"schedule_id":   job.ScheduleID,
		"enrollment_id": job.EnrollmentID,
		"user_id":       job.UserID,
		"remind_at":     job.RemindAt.UTC().Format(time.RFC3339),
		"session_start": job.SessionStart.UTC().Format(time.RFC3339),
		"error_reason":  reason,
		"failed_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   strconv.FormatInt(job.ScheduleID, 10),
		EventType:     "notification.reminder.dlq.v1",
		Payload:       payload,
	})
}
