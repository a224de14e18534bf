package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/insideout-learning/insideout/libs/auth"
	"github.com/insideout-learning/insideout/services/payment-service/internal/outbox"
	"github.com/insideout-learning/insideout/services/payment-service/internal/storage"
)

type Handler struct {
	repo                   *storage.Repository
	outboxRepo             *outbox.Repository
	logger                 *slog.Logger
	stripeSecretKey        string
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	tokenSecret            string
	tokenTTL               time.Duration
	checkoutSuccessURL     string
	checkoutCancelURL      string
}

type Config struct {
	StripeSecretKey               string
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	OnboardingTokenSecret         string
	OnboardingTokenTTLHours       int
	CheckoutSuccessURL            string
	CheckoutCancelURL             string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	ttlHours := cfg.OnboardingTokenTTLHours
	if ttlHours <= 0 {
		ttlHours = 48
	}
	return &Handler{
		repo:                   repo,
		outboxRepo:             outboxRepo,
		logger:                 logger,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		tokenSecret:            cfg.OnboardingTokenSecret,
		tokenTTL:               time.Duration(ttlHours) * time.Hour,
		checkoutSuccessURL:     strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:      strings.TrimSpace(cfg.CheckoutCancelURL),
	}
}

type checkoutRequest struct {
	CourseID int64 `json:"course_id"`
}

func userIDFromHeader(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if raw == "" {
		return 0, errors.New("missing X-User-Id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid X-User-Id")
	}
	return id, nil
}

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	userID, err := userIDFromHeader(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.CourseID <= 0 {
		http.Error(w, "course_id is required", http.StatusBadRequest)
		return
	}

	course, err := h.repo.GetCourse(r.Context(), req.CourseID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "course not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load course", http.StatusInternalServerError)
		return
	}
	if h.checkoutSuccessURL == "" || h.checkoutCancelURL == "" {
		http.Error(w, "checkout return URLs not configured", http.StatusNotImplemented)
		return
	}

	stripe.Key = h.stripeSecretKey

	metadata := map[string]string{
		"user_id":   strconv.FormatInt(userID, 10),
		"course_id": strconv.FormatInt(course.ID, 10),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(h.checkoutSuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(h.checkoutCancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(userID, 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(course.Currency),
					UnitAmount: stripe.Int64(course.PriceMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(course.Title),
					},
				},
			},
		},
		Metadata: metadata,
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.UpsertCheckoutSession(r.Context(), tx, storage.CheckoutSession{
		StripeSessionID: sess.ID,
		UserID:          userID,
		CourseID:        course.ID,
		AmountMinor:     course.PriceMinor,
		Currency:        course.Currency,
		Status:          "created",
		URL:             sess.URL,
	}); err != nil {
		http.Error(w, "failed to persist checkout session", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

type finalizeRequest struct {
	SessionID string `json:"session_id"`
}

// Finalize is called by the success page after Stripe redirects back. It
// retrieves the session from Stripe, demands payment_status == "paid", and
// produces the enrollment plus the onboarding booking token. The webhook
// drives the same path, so replays are harmless.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	stripe.Key = h.stripeSecretKey
	sess, err := checkoutsession.Get(req.SessionID, nil)
	if err != nil {
		h.logger.Error("stripe checkout session fetch failed", "err", err, "session_id", req.SessionID)
		http.Error(w, "failed to load checkout session", http.StatusBadGateway)
		return
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		http.Error(w, "payment not completed", http.StatusConflict)
		return
	}

	userID, courseID, err := parseCheckoutMetadata(sess.Metadata)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	token, enrollment, err := h.finalizeSession(r.Context(), tx, sess.ID, userID, courseID)
	if err != nil {
		h.logger.Error("checkout finalize failed", "err", err, "session_id", sess.ID)
		http.Error(w, "failed to finalize checkout", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enrollment_id":    enrollment.ID,
		"status":           enrollment.Status,
		"onboarding_token": token,
	})
}

// finalizeSession is shared by Finalize and the webhook: enrollment upsert,
// session bookkeeping, outbox event, onboarding token.
func (h *Handler) finalizeSession(ctx context.Context, tx pgx.Tx, sessionID string, userID, courseID int64) (string, storage.Enrollment, error) {
	course, err := h.repo.GetCourse(ctx, courseID)
	if err != nil {
		return "", storage.Enrollment{}, fmt.Errorf("load course: %w", err)
	}

	enrollment, err := h.repo.UpsertEnrollment(ctx, tx, userID, courseID, course.TutorID)
	if err != nil {
		return "", storage.Enrollment{}, fmt.Errorf("upsert enrollment: %w", err)
	}
	if err := h.repo.MarkCheckoutSessionCompleted(ctx, tx, sessionID, time.Now().UTC()); err != nil {
		return "", storage.Enrollment{}, fmt.Errorf("mark session completed: %w", err)
	}

	now := time.Now().UTC()
	token, err := auth.SignOnboardingToken(auth.OnboardingClaims{
		UserID:            userID,
		CourseID:          courseID,
		EnrollmentID:      enrollment.ID,
		CheckoutSessionID: sessionID,
		Iat:               now.Unix(),
		Exp:               now.Add(h.tokenTTL).Unix(),
	}, h.tokenSecret)
	if err != nil {
		return "", storage.Enrollment{}, fmt.Errorf("sign onboarding token: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"enrollment_id":       enrollment.ID,
		"user_id":             userID,
		"course_id":           courseID,
		"tutor_id":            course.TutorID,
		"checkout_session_id": sessionID,
		"completed_at":        now.Format(time.RFC3339),
	})
	if err != nil {
		return "", storage.Enrollment{}, err
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "enrollment",
		AggregateID:   strconv.FormatInt(enrollment.ID, 10),
		EventType:     "payment.checkout.completed.v1",
		Payload:       payload,
	}); err != nil {
		return "", storage.Enrollment{}, fmt.Errorf("write outbox event: %w", err)
	}
	return token, enrollment, nil
}

func parseCheckoutMetadata(metadata map[string]string) (int64, int64, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(metadata["user_id"]), 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, errors.New("checkout session missing user_id metadata")
	}
	courseID, err := strconv.ParseInt(strings.TrimSpace(metadata["course_id"]), 10, 64)
	if err != nil || courseID <= 0 {
		return 0, 0, errors.New("checkout session missing course_id metadata")
	}
	return userID, courseID, nil
}

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification
// is the auth). The gateway exposes this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("duplicate provider event ignored", "provider_event_id", evt.ID, "event_type", evtType)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	if evtType == "checkout.session.completed" {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
		} else if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			userID, courseID, err := parseCheckoutMetadata(session.Metadata)
			if err != nil {
				h.logger.Warn("stripe: checkout session metadata incomplete", "session_id", session.ID, "err", err)
			} else if _, _, err := h.finalizeSession(r.Context(), tx, session.ID, userID, courseID); err != nil {
				http.Error(w, "failed to finalize checkout", http.StatusInternalServerError)
				return
			}
		}
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	Valid        bool   `json:"valid"`
	Expired      bool   `json:"expired"`
	EnrollmentID int64  `json:"enrollment_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ValidateToken lets the booking page check an onboarding link before
// rendering. Expired and forged tokens are reported, never fatal.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	claims, err := auth.VerifyOnboardingToken(req.Token, h.tokenSecret)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			writeJSON(w, http.StatusOK, validateTokenResponse{
				Expired:      true,
				EnrollmentID: claims.EnrollmentID,
				Message:      "booking link expired",
			})
			return
		}
		writeJSON(w, http.StatusOK, validateTokenResponse{Message: "invalid booking link"})
		return
	}

	writeJSON(w, http.StatusOK, validateTokenResponse{
		Valid:        true,
		EnrollmentID: claims.EnrollmentID,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
