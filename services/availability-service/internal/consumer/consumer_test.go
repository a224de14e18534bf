package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"

	"github.com/insideout-learning/insideout/services/availability-service/internal/inbox"
	"github.com/insideout-learning/insideout/services/availability-service/internal/storage"
)

// fakeTx records what the consumer did with the transaction. The embedded
// pgx.Tx is never called for anything but the overridden methods.
type fakeTx struct {
	pgx.Tx
	execSQL    []string
	execErr    func(sql string) error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	if t.execErr != nil {
		if err := t.execErr(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
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
	tx    *fakeTx
	begun bool
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	p.begun = true
	return p.tx, nil
}

func newTestConsumer(pool *fakePool) *Consumer {
	return &Consumer{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		pool:   pool,
		inbox:  inbox.NewRepository(),
		repo:   storage.NewRepository(nil),
	}
}

func scheduleMessage(eventID string) kafka.Message {
	return kafka.Message{
		Topic: "booking.schedule.created.v1",
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte("booking.schedule.created.v1")},
		},
		Value: []byte(`{"schedule_id":7,"tutor_id":"tutor-1","date":"2026-09-03","start_time":"10:00","end_time":"11:00"}`),
	}
}

func TestProcessCommitsInboxAndBookedRangeTogether(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	c := newTestConsumer(pool)

	if err := c.process(context.Background(), scheduleMessage("evt-1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !pool.tx.committed {
		t.Fatal("transaction was not committed")
	}
	if len(pool.tx.execSQL) != 2 {
		t.Fatalf("expected inbox insert and booked range insert, got %d statements", len(pool.tx.execSQL))
	}
	if !strings.Contains(pool.tx.execSQL[0], "availability_inbox_events") {
		t.Fatalf("first statement should record the inbox row, got: %s", pool.tx.execSQL[0])
	}
	if !strings.Contains(pool.tx.execSQL[1], "booked_slots") {
		t.Fatalf("second statement should mirror the booked range, got: %s", pool.tx.execSQL[1])
	}
}

func TestProcessRollsBackOnWriteFailureSoEventIsRetried(t *testing.T) {
	tx := &fakeTx{
		execErr: func(sql string) error {
			if strings.Contains(sql, "booked_slots") {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	pool := &fakePool{tx: tx}
	c := newTestConsumer(pool)

	if err := c.process(context.Background(), scheduleMessage("evt-2")); err == nil {
		t.Fatal("expected error so the offset stays uncommitted")
	}
	if tx.committed {
		t.Fatal("transaction must not commit when the mirror write fails")
	}
	if !tx.rolledBack {
		t.Fatal("transaction was not rolled back, inbox row would survive and drop the redelivery")
	}
}

func TestProcessSkipsDuplicateEvents(t *testing.T) {
	tx := &fakeTx{
		execErr: func(sql string) error {
			if strings.Contains(sql, "availability_inbox_events") {
				return &pgconn.PgError{Code: "23505"}
			}
			return nil
		},
	}
	pool := &fakePool{tx: tx}
	c := newTestConsumer(pool)

	if err := c.process(context.Background(), scheduleMessage("evt-3")); err != nil {
		t.Fatalf("duplicates should be acknowledged, not retried: %v", err)
	}
	for _, sql := range tx.execSQL {
		if strings.Contains(sql, "booked_slots") {
			t.Fatal("duplicate event must not write a second booked range")
		}
	}
}

func TestProcessSkipsMalformedPayloadWithoutTransaction(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	c := newTestConsumer(pool)

	msg := scheduleMessage("evt-4")
	msg.Value = []byte(`{"schedule_id":7`)
	if err := c.process(context.Background(), msg); err != nil {
		t.Fatalf("malformed payloads are permanent and must not be retried: %v", err)
	}
	if pool.begun {
		t.Fatal("no transaction should start for an unparseable event")
	}
}

func TestParseScheduleCreatedValidation(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"missing tutor", `{"schedule_id":7,"date":"2026-09-03","start_time":"10:00","end_time":"11:00"}`},
		{"missing schedule id", `{"tutor_id":"tutor-1","date":"2026-09-03","start_time":"10:00","end_time":"11:00"}`},
		{"bad date", `{"schedule_id":7,"tutor_id":"tutor-1","date":"03/09/2026","start_time":"10:00","end_time":"11:00"}`},
		{"bad clock", `{"schedule_id":7,"tutor_id":"tutor-1","date":"2026-09-03","start_time":"25:99","end_time":"11:00"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, _, err := parseScheduleCreated([]byte(tc.value)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	booked, tutorID, scheduleID, err := parseScheduleCreated([]byte(`{"schedule_id":7,"tutor_id":"tutor-1","date":"2026-09-03","start_time":"10:00","end_time":"11:00"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tutorID != "tutor-1" || scheduleID != 7 {
		t.Fatalf("unexpected identity: tutor=%s schedule=%d", tutorID, scheduleID)
	}
	if booked.StartMinute != 600 || booked.EndMinute != 660 {
		t.Fatalf("unexpected minutes: %d-%d", booked.StartMinute, booked.EndMinute)
	}
}
