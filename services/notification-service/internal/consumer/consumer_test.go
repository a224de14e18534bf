package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"

	"github.com/insideout-learning/insideout/services/notification-service/internal/inbox"
)

type fakeTx struct {
	pgx.Tx
	execErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, t.execErr
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.tx, nil
}

func newTestConsumer(pool *fakePool, handler Handler) *Consumer {
	return &Consumer{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		pool:    pool,
		inbox:   inbox.NewRepository(),
		handler: handler,
	}
}

func testMessage(eventID string) kafka.Message {
	return kafka.Message{
		Topic: "booking.reminder.requested.v1",
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte("booking.reminder.requested.v1")},
		},
		Value: []byte(`{"schedule_id":1}`),
	}
}

func TestProcessCommitsAfterHandler(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	called := false
	c := newTestConsumer(pool, func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		called = true
		return nil
	})

	if err := c.process(context.Background(), testMessage("evt-1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !called {
		t.Fatal("handler was not invoked")
	}
	if !pool.tx.committed {
		t.Fatal("transaction was not committed")
	}
}

func TestProcessRollsBackOnHandlerFailureSoEventIsRetried(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	c := newTestConsumer(pool, func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		return errors.New("smtp timeout")
	})

	if err := c.process(context.Background(), testMessage("evt-2")); err == nil {
		t.Fatal("expected error so the offset stays uncommitted")
	}
	if pool.tx.committed {
		t.Fatal("transaction must not commit when the handler fails")
	}
	if !pool.tx.rolledBack {
		t.Fatal("transaction was not rolled back, inbox row would survive and drop the redelivery")
	}
}

func TestProcessSkipsHandlerForDuplicateEvents(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{execErr: &pgconn.PgError{Code: "23505"}}}
	called := false
	c := newTestConsumer(pool, func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		called = true
		return nil
	})

	if err := c.process(context.Background(), testMessage("evt-3")); err != nil {
		t.Fatalf("duplicates should be acknowledged, not retried: %v", err)
	}
	if called {
		t.Fatal("handler must not run for an already-recorded event")
	}
}
