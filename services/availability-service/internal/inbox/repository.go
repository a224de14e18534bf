package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository dedups consumed events by event id. Record reports false when
// the id was already seen, which makes redelivered Kafka messages no-ops.
// The row is written inside the caller's transaction so a failed handler
// rolls it back too and the event is retried on redelivery.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Record(ctx context.Context, tx pgx.Tx, eventID string, eventType string) (bool, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO availability_inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}
