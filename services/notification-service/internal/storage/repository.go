package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/insideout-learning/insideout/libs/db"
)

// Notification is the delivery log row: one per attempted email.
type Notification struct {
	EnrollmentID int64
	UserID       int64
	Kind         string // "payment_confirmation" or "session_reminder"
	Recipient    string
	Subject      string
	Status       string // "sent" or "failed"
	Error        string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes the delivery log row inside the caller's transaction so it
// commits or rolls back together with the inbox record.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, n Notification) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notifications (enrollment_id, user_id, kind, recipient, subject, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.EnrollmentID, n.UserID, n.Kind, n.Recipient, n.Subject, n.Status, nullIfEmpty(n.Error))
	return err
}

// GetUserEmail resolves a delivery address. Accounts are managed by the
// identity service; this table is read-only here.
func (r *Repository) GetUserEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `
		SELECT email FROM users WHERE id = $1
	`, userID).Scan(&email)
	if err != nil {
		return "", err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("user has no email address")
	}
	return email, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
