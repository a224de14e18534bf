package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/insideout-learning/insideout/libs/kafkax"
	"github.com/insideout-learning/insideout/services/availability-service/internal/inbox"
	"github.com/insideout-learning/insideout/services/availability-service/internal/slots"
	"github.com/insideout-learning/insideout/services/availability-service/internal/storage"
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Consumer mirrors created schedules into the local booked-slots cache so
// the resolver can exclude them without a cross-service call per request.
// The inbox row and the mirror write share one transaction, and the Kafka
// offset is committed only after that transaction commits: a transient
// write failure rolls everything back and the event is redelivered.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
	pool   txBeginner
	inbox  *inbox.Repository
	repo   *storage.Repository
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, pool txBeginner, inboxRepo *inbox.Repository, repo *storage.Repository, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader: reader,
		logger: logger,
		pool:   pool,
		inbox:  inboxRepo,
		repo:   repo,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}
		if err := c.process(ctx, msg); err != nil {
			// Offset stays uncommitted so the event is retried.
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("offset commit failed", "err", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ctx = kafkax.ExtractTraceContext(ctx, msg)
	ctx, span := otel.Tracer("kafka").Start(ctx, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)

	// Malformed payloads are permanent; log and skip rather than retry.
	booked, tutorID, scheduleID, err := parseScheduleCreated(msg.Value)
	if err != nil {
		c.logger.Error("schedule event rejected", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		c.logger.Error("begin tx failed", "err", err)
		span.RecordError(err)
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := c.inbox.Record(ctx, tx, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return err
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.repo.RecordBookedRange(ctx, tx, tutorID, scheduleID, booked); err != nil {
		c.logger.Error("booked range write failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		c.logger.Error("commit failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return err
	}
	return nil
}

type scheduleCreatedPayload struct {
	ScheduleID int64  `json:"schedule_id"`
	TutorID    string `json:"tutor_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

func parseScheduleCreated(value []byte) (storage.BookedRange, string, int64, error) {
	var p scheduleCreatedPayload
	if err := json.Unmarshal(value, &p); err != nil {
		return storage.BookedRange{}, "", 0, fmt.Errorf("decode schedule event: %w", err)
	}
	if p.ScheduleID == 0 || p.TutorID == "" {
		return storage.BookedRange{}, "", 0, fmt.Errorf("schedule event missing schedule_id or tutor_id")
	}

	date, err := time.Parse("2006-01-02", p.Date)
	if err != nil {
		return storage.BookedRange{}, "", 0, fmt.Errorf("schedule event date: %w", err)
	}
	start, err := slots.ParseClock(p.StartTime)
	if err != nil {
		return storage.BookedRange{}, "", 0, fmt.Errorf("schedule event start_time: %w", err)
	}
	end, err := slots.ParseClock(p.EndTime)
	if err != nil {
		return storage.BookedRange{}, "", 0, fmt.Errorf("schedule event end_time: %w", err)
	}

	return storage.BookedRange{
		Date:        date,
		StartMinute: start,
		EndMinute:   end,
	}, p.TutorID, p.ScheduleID, nil
}
