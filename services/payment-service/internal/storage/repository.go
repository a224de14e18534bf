package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/insideout-learning/insideout/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Course is the read-only catalog row checkout prices come from. Catalog
// management lives outside this service.
type Course struct {
	ID         int64
	Title      string
	TutorID    string
	PriceMinor int64
	Currency   string
}

func (r *Repository) GetCourse(ctx context.Context, courseID int64) (Course, error) {
	var c Course
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, tutor_id, price_minor, currency
		FROM courses
		WHERE id = $1
	`, courseID).Scan(&c.ID, &c.Title, &c.TutorID, &c.PriceMinor, &c.Currency)
	if err != nil {
		return Course{}, err
	}
	return c, nil
}

type Enrollment struct {
	ID       int64
	UserID   int64
	CourseID int64
	TutorID  string
	Status   string
}

// UpsertEnrollment creates the enrollment for (user, course) or reactivates
// an existing one. Finalize and the webhook can both land here; the unique
// constraint makes the operation idempotent.
func (r *Repository) UpsertEnrollment(ctx context.Context, tx pgx.Tx, userID, courseID int64, tutorID string) (Enrollment, error) {
	var e Enrollment
	err := tx.QueryRow(ctx, `
		INSERT INTO enrollments (user_id, course_id, tutor_id, status, start_date)
		VALUES ($1, $2, $3, 'active', CURRENT_DATE)
		ON CONFLICT (user_id, course_id)
		DO UPDATE SET status = 'active',
			tutor_id = EXCLUDED.tutor_id,
			updated_at = now()
		RETURNING id, user_id, course_id, tutor_id, status
	`, userID, courseID, tutorID).Scan(&e.ID, &e.UserID, &e.CourseID, &e.TutorID, &e.Status)
	if err != nil {
		return Enrollment{}, err
	}
	return e, nil
}

type CheckoutSession struct {
	StripeSessionID string
	UserID          int64
	CourseID        int64
	AmountMinor     int64
	Currency        string
	Status          string
	URL             string
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, user_id, course_id, amount_minor, currency, status, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET status = EXCLUDED.status,
			url = EXCLUDED.url,
			updated_at = now()
	`, s.StripeSessionID, s.UserID, s.CourseID, s.AmountMinor, s.Currency, s.Status, nullIfEmpty(s.URL))
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed',
			completed_at = COALESCE(completed_at, $2),
			updated_at = now()
		WHERE stripe_session_id = $1
	`, stripeSessionID, completedAt)
	return err
}

func (r *Repository) GetCheckoutSession(ctx context.Context, stripeSessionID string) (CheckoutSession, error) {
	var s CheckoutSession
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_session_id, user_id, course_id, amount_minor, currency, status, COALESCE(url, ''), completed_at, updated_at
		FROM checkout_sessions
		WHERE stripe_session_id = $1
	`, stripeSessionID).Scan(&s.StripeSessionID, &s.UserID, &s.CourseID, &s.AmountMinor, &s.Currency, &s.Status, &s.URL, &s.CompletedAt, &s.UpdatedAt)
	if err != nil {
		return CheckoutSession{}, err
	}
	return s, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// webhook bodies must be well-formed JSON
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
