package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/insideout-learning/insideout/libs/db"
	"github.com/insideout-learning/insideout/libs/kafkax"
	otelx "github.com/insideout-learning/insideout/libs/otel"
)

// Publisher drains unpublished outbox rows to Kafka. Fetching and marking
// happen inside one transaction with SKIP LOCKED row locks, so multiple
// replicas can run the loop without double publishing.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	p := &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
	if p.pollEvery <= 0 {
		p.pollEvery = 2 * time.Second
	}
	if p.batchSize <= 0 {
		p.batchSize = 50
	}
	return p
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(p.brokers...),
		Balancer: &kafka.Hash{},
	}
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer *kafka.Writer) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	published := make([]int64, 0, len(records))
	for _, rec := range records {
		if err := writer.WriteMessages(ctx, toMessage(ctx, rec)); err != nil {
			return err
		}
		published = append(published, rec.ID)
	}
	if err := p.repo.MarkPublished(ctx, tx, published); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// toMessage rebuilds the Kafka message from a stored row; the persisted
// trace context is injected so the consumer continues the original trace.
func toMessage(ctx context.Context, rec Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	msg := kafka.Message{
		Topic: rec.EventType,
		Key:   []byte(rec.AggregateID),
		Value: rec.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(rec.EventID)},
			{Key: "event_type", Value: []byte(rec.EventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
