package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/insideout-learning/insideout/libs/config"
	"github.com/insideout-learning/insideout/libs/db"
	"github.com/insideout-learning/insideout/libs/httpx"
	"github.com/insideout-learning/insideout/libs/kafkax"
	otelx "github.com/insideout-learning/insideout/libs/otel"
	"github.com/insideout-learning/insideout/libs/runtime"
	"github.com/insideout-learning/insideout/services/notification-service/internal/consumer"
	"github.com/insideout-learning/insideout/services/notification-service/internal/email"
	"github.com/insideout-learning/insideout/services/notification-service/internal/inbox"
	"github.com/insideout-learning/insideout/services/notification-service/internal/jobs"
	"github.com/insideout-learning/insideout/services/notification-service/internal/outbox"
	"github.com/insideout-learning/insideout/services/notification-service/internal/storage"
)

type reminderRequestedPayload struct {
	ScheduleID   int64  `json:"schedule_id"`
	EnrollmentID int64  `json:"enrollment_id"`
	UserID       int64  `json:"user_id"`
	RemindAt     string `json:"remind_at"`
	SessionStart string `json:"session_start"`
}

type checkoutCompletedPayload struct {
	EnrollmentID int64 `json:"enrollment_id"`
	UserID       int64 `json:"user_id"`
	CourseID     int64 `json:"course_id"`
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository()
	store := storage.NewRepository(pool)
	jobsRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	go outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers: brokers,
	}).Run(ctx)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@insideout.local"),
	)

	worker := jobs.NewWorker(pool, jobsRepo, store, outboxRepo, emailSender, logger, jobs.WorkerConfig{
		Interval:  time.Duration(config.Int("REMINDER_POLL_SECONDS", 2)) * time.Second,
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   time.Duration(config.Int("REMINDER_BACKOFF_SECONDS", 60)) * time.Second,
	})
	go worker.Run(ctx)

	groupID := config.String("KAFKA_GROUP_ID", "notification-service")

	reminderConsumer := consumer.New(logger, pool, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("REMINDER_REQUESTED_TOPIC", "booking.reminder.requested.v1"),
	}, func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		var payload reminderRequestedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		if payload.ScheduleID == 0 || payload.UserID == 0 {
			logger.Error("missing reminder fields", "schedule_id", payload.ScheduleID)
			return nil
		}
		remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
		if err != nil {
			logger.Error("invalid remind_at", "err", err)
			return nil
		}
		sessionStart, err := time.Parse(time.RFC3339, payload.SessionStart)
		if err != nil {
			logger.Error("invalid session_start", "err", err)
			return nil
		}

		if err := jobsRepo.Insert(ctx, tx, jobs.Job{
			ScheduleID:   payload.ScheduleID,
			EnrollmentID: payload.EnrollmentID,
			UserID:       payload.UserID,
			RemindAt:     remindAt,
			SessionStart: sessionStart,
		}); err != nil {
			return err
		}
		logger.Info("reminder job scheduled", "schedule_id", payload.ScheduleID, "remind_at", payload.RemindAt)
		return nil
	})
	go reminderConsumer.Run(ctx)

	// Payment confirmations skip the jobs table: they are due immediately.
	checkoutConsumer := consumer.New(logger, pool, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("CHECKOUT_COMPLETED_TOPIC", "payment.checkout.completed.v1"),
	}, func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		var payload checkoutCompletedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid checkout payload", "err", err)
			return nil
		}
		if payload.UserID == 0 || payload.EnrollmentID == 0 {
			logger.Error("missing checkout fields", "enrollment_id", payload.EnrollmentID)
			return nil
		}

		recipient, err := store.GetUserEmail(ctx, payload.UserID)
		if err != nil {
			logger.Error("recipient lookup failed", "err", err, "user_id", payload.UserID)
			return err
		}

		subject := "Enrollment confirmed"
		body := fmt.Sprintf(
			"Hi,\n\nYour payment went through and your enrollment (#%d) is active.\nUse the booking link from the checkout page to pick your session times.\n",
			payload.EnrollmentID,
		)
		status := "sent"
		errText := ""
		if err := emailSender.Send(recipient, subject, body); err != nil {
			status = "failed"
			errText = err.Error()
			logger.Error("confirmation email failed", "err", err, "recipient", recipient)
		}
		return store.Insert(ctx, tx, storage.Notification{
			EnrollmentID: payload.EnrollmentID,
			UserID:       payload.UserID,
			Kind:         "payment_confirmation",
			Recipient:    recipient,
			Subject:      subject,
			Status:       status,
			Error:        errText,
		})
	})
	go checkoutConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
