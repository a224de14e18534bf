package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/insideout-learning/insideout/libs/kafkax"
	"github.com/insideout-learning/insideout/services/notification-service/internal/inbox"
)

// Handler processes one deduplicated message. Its database writes must go
// through tx: the inbox row commits or rolls back together with them, so a
// failed handler leaves the event unseen and redelivery retries it. Poison
// messages (unparseable payloads) should be logged and swallowed with a nil
// return; returning an error means "transient, retry me".
type Handler func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Consumer reads one topic and hands deduplicated messages to its handler.
// The service runs one Consumer per subscribed topic. Offsets are committed
// only after the handler's transaction commits.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	pool    txBeginner
	inbox   *inbox.Repository
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, pool txBeginner, inboxRepo *inbox.Repository, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger,
		pool:    pool,
		inbox:   inboxRepo,
		handler: handler,
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
			c.logger.Error("kafka read error", "err", err, "topic", c.reader.Config().Topic)
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

	if err := c.handler(ctx, tx, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
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
