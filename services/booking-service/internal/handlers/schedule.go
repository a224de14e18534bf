package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/insideout-learning/insideout/libs/auth"
	"github.com/insideout-learning/insideout/services/booking-service/internal/availability"
	"github.com/insideout-learning/insideout/services/booking-service/internal/model"
	"github.com/insideout-learning/insideout/services/booking-service/internal/outbox"
	"github.com/insideout-learning/insideout/services/booking-service/internal/storage"
)

type ScheduleHandler struct {
	repo           *storage.ScheduleRepository
	outboxRepo     *outbox.Repository
	logger         *slog.Logger
	provider       availability.Provider
	tokenSecret    string
	reminderOffset time.Duration

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func NewScheduleHandler(
	repo *storage.ScheduleRepository,
	outboxRepo *outbox.Repository,
	logger *slog.Logger,
	provider availability.Provider,
	tokenSecret string,
	reminderOffset time.Duration,
) *ScheduleHandler {
	if reminderOffset <= 0 {
		reminderOffset = 24 * time.Hour
	}
	return &ScheduleHandler{
		repo:           repo,
		outboxRepo:     outboxRepo,
		logger:         logger,
		provider:       provider,
		tokenSecret:    tokenSecret,
		reminderOffset: reminderOffset,
	}
}

func (h *ScheduleHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type scheduleItemRequest struct {
	EnrollmentID int64  `json:"enrollment_id"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

type scheduleItem struct {
	Date        time.Time
	StartMinute int
	EndMinute   int
}

type createScheduleResponse struct {
	EnrollmentID int64   `json:"enrollment_id"`
	ScheduleIDs  []int64 `json:"schedule_ids"`
	EndDate      string  `json:"end_date"`
	Status       string  `json:"status"`
}

type scheduleListItem struct {
	ScheduleID   int64  `json:"schedule_id"`
	EnrollmentID int64  `json:"enrollment_id"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

// sessionMinutes matches the availability resolver's fixed session length.
const sessionMinutes = 60

func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	return hour*60 + min, nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// parseScheduleItems normalizes and validates the request body: at least one
// item, all items on the same enrollment, valid date and clock values, and
// every session exactly one hour long.
func parseScheduleItems(items []scheduleItemRequest) (int64, []scheduleItem, string) {
	if len(items) == 0 {
		return 0, nil, "at least one schedule item is required"
	}

	enrollmentID := items[0].EnrollmentID
	if enrollmentID <= 0 {
		return 0, nil, "enrollment_id is required"
	}

	out := make([]scheduleItem, 0, len(items))
	for _, it := range items {
		if it.EnrollmentID != enrollmentID {
			return 0, nil, "all items must belong to the same enrollment"
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(it.Date))
		if err != nil {
			return 0, nil, "invalid date (YYYY-MM-DD)"
		}
		start, err := parseClock(it.StartTime)
		if err != nil {
			return 0, nil, "invalid start_time"
		}
		end, err := parseClock(it.EndTime)
		if err != nil {
			return 0, nil, "invalid end_time"
		}
		if end-start != sessionMinutes {
			return 0, nil, "sessions must be exactly 60 minutes"
		}
		out = append(out, scheduleItem{Date: date, StartMinute: start, EndMinute: end})
	}
	return enrollmentID, out, ""
}

// enrollmentStatus recomputes the enrollment state from its latest session
// date: still active while sessions lie ahead, completed once they are all
// in the past.
func enrollmentStatus(latest, today time.Time) string {
	latestDay := time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, time.UTC)
	todayDay := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if latestDay.Before(todayDay) {
		return "completed"
	}
	return "active"
}

// callerUserID resolves the request identity: an onboarding booking token
// takes precedence, otherwise the gateway-verified X-User-Id header. For
// token callers the enrollment bound into the token is returned too.
func (h *ScheduleHandler) callerUserID(r *http.Request) (int64, int64, error) {
	if token := strings.TrimSpace(r.Header.Get("X-Onboarding-Token")); token != "" {
		claims, err := auth.VerifyOnboardingToken(token, h.tokenSecret)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				return 0, 0, errors.New("onboarding token expired")
			}
			return 0, 0, errors.New("invalid onboarding token")
		}
		return claims.UserID, claims.EnrollmentID, nil
	}

	raw := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if raw == "" {
		return 0, 0, errors.New("missing identity")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, errors.New("invalid X-User-Id")
	}
	return userID, 0, nil
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, tokenEnrollmentID, err := h.callerUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var req []scheduleItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	enrollmentID, items, msg := parseScheduleItems(req)
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if tokenEnrollmentID != 0 && tokenEnrollmentID != enrollmentID {
		http.Error(w, "token does not cover this enrollment", http.StatusForbidden)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	enrollment, err := h.repo.GetEnrollmentForUpdate(ctx, tx, enrollmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "enrollment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load enrollment", http.StatusInternalServerError)
		return
	}
	if enrollment.UserID != userID {
		http.Error(w, "enrollment does not belong to caller", http.StatusForbidden)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, userID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	now := h.now().UTC()
	if h.provider != nil {
		ok, err := h.revalidateAgainstAvailability(r, enrollment.TutorID, items, now)
		if err != nil {
			// Do not finalize idempotency on dependency errors; the client
			// can retry with the same key.
			http.Error(w, "availability service unavailable", http.StatusServiceUnavailable)
			return
		}
		if !ok {
			if idempotencyKey != "" && h.finalizeIdempotencyError(r, tx, userID, idempotencyKey, http.StatusUnprocessableEntity, "requested slot is not available") {
				_ = tx.Commit(ctx)
			}
			http.Error(w, "requested slot is not available", http.StatusUnprocessableEntity)
			return
		}
	}

	var scheduleIDs []int64
	latest := items[0].Date
	for _, it := range items {
		cnt, err := h.repo.CountOverlapping(ctx, tx, enrollment.TutorID, it.Date, it.StartMinute, it.EndMinute)
		if err != nil {
			http.Error(w, "failed to check overlaps", http.StatusInternalServerError)
			return
		}
		if cnt > 0 {
			h.writeConflict(w, tx, r, userID, idempotencyKey, it)
			return
		}

		id, err := h.repo.CreateSchedule(ctx, tx, &model.Schedule{
			EnrollmentID: enrollmentID,
			UserID:       userID,
			TutorID:      enrollment.TutorID,
			Date:         it.Date,
			StartMinute:  it.StartMinute,
			EndMinute:    it.EndMinute,
		})
		if err != nil {
			if storage.IsConflict(err) {
				h.writeConflict(w, tx, r, userID, idempotencyKey, it)
				return
			}
			http.Error(w, "failed to create schedule", http.StatusInternalServerError)
			return
		}
		scheduleIDs = append(scheduleIDs, id)
		if it.Date.After(latest) {
			latest = it.Date
		}

		if err := h.emitScheduleEvents(r, tx, id, enrollment, it, now); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}

	status := enrollmentStatus(latest, now)
	if err := h.repo.UpdateEnrollmentAfterScheduling(ctx, tx, enrollmentID, latest, status); err != nil {
		http.Error(w, "failed to update enrollment", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createScheduleResponse{
		EnrollmentID: enrollmentID,
		ScheduleIDs:  scheduleIDs,
		EndDate:      latest.Format("2006-01-02"),
		Status:       status,
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, userID, idempotencyKey, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func (h *ScheduleHandler) revalidateAgainstAvailability(r *http.Request, tutorID string, items []scheduleItem, now time.Time) (bool, error) {
	reqCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	snap, err := h.provider.GetSnapshot(reqCtx, tutorID)
	if err != nil {
		return false, err
	}
	// Anchor the horizon on the snapshot's server time when available so the
	// two services agree on "today" across clock skew.
	if !snap.GeneratedAt.IsZero() {
		now = snap.GeneratedAt
	}
	for _, it := range items {
		if !snap.SlotAllowed(it.Date, it.StartMinute, it.EndMinute, now) {
			return false, nil
		}
	}
	return true, nil
}

func (h *ScheduleHandler) emitScheduleEvents(r *http.Request, tx pgx.Tx, scheduleID int64, enrollment model.Enrollment, it scheduleItem, now time.Time) error {
	ctx := r.Context()
	aggregateID := strconv.FormatInt(scheduleID, 10)

	createdPayload, err := json.Marshal(map[string]any{
		"schedule_id":   scheduleID,
		"enrollment_id": enrollment.ID,
		"user_id":       enrollment.UserID,
		"course_id":     enrollment.CourseID,
		"tutor_id":      enrollment.TutorID,
		"date":          it.Date.Format("2006-01-02"),
		"start_time":    formatClock(it.StartMinute),
		"end_time":      formatClock(it.EndMinute),
	})
	if err != nil {
		return err
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "schedule",
		AggregateID:   aggregateID,
		EventType:     "booking.schedule.created.v1",
		Payload:       createdPayload,
	}); err != nil {
		return err
	}

	sessionStart := time.Date(it.Date.Year(), it.Date.Month(), it.Date.Day(), 0, 0, 0, 0, time.UTC).
		Add(time.Duration(it.StartMinute) * time.Minute)
	remindAt := sessionStart.Add(-h.reminderOffset)
	if remindAt.Before(now) {
		return nil
	}

	reminderPayload, err := json.Marshal(map[string]any{
		"schedule_id":   scheduleID,
		"enrollment_id": enrollment.ID,
		"user_id":       enrollment.UserID,
		"remind_at":     remindAt.Format(time.RFC3339),
		"session_start": sessionStart.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "schedule",
		AggregateID:   aggregateID,
		EventType:     "booking.reminder.requested.v1",
		Payload:       reminderPayload,
	}); err != nil {
		h.logger.Error("failed to enqueue reminder", "err", err)
		return err
	}
	return nil
}

func (h *ScheduleHandler) writeConflict(w http.ResponseWriter, tx pgx.Tx, r *http.Request, userID int64, key string, it scheduleItem) {
	msg := fmt.Sprintf("slot %s %s already booked", it.Date.Format("2006-01-02"), formatClock(it.StartMinute))
	if key != "" && h.finalizeIdempotencyError(r, tx, userID, key, http.StatusConflict, msg) {
		_ = tx.Commit(r.Context())
	}
	http.Error(w, msg, http.StatusConflict)
}

func (h *ScheduleHandler) finalizeIdempotencyError(r *http.Request, tx pgx.Tx, userID int64, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(r.Context(), tx, userID, key, statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, _, err := h.callerUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	schedules, err := h.repo.ListByUser(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "failed to list schedules", http.StatusInternalServerError)
		return
	}

	items := make([]scheduleListItem, 0, len(schedules))
	for _, s := range schedules {
		items = append(items, scheduleListItem{
			ScheduleID:   s.ID,
			EnrollmentID: s.EnrollmentID,
			Date:         s.Date.Format("2006-01-02"),
			StartTime:    formatClock(s.StartMinute),
			EndTime:      formatClock(s.EndMinute),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, _, err := h.callerUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
	scheduleID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || scheduleID <= 0 {
		http.Error(w, "invalid schedule id", http.StatusBadRequest)
		return
	}

	s, err := h.repo.GetByID(r.Context(), scheduleID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "schedule not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	if s.UserID != userID {
		http.Error(w, "schedule not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(scheduleListItem{
		ScheduleID:   s.ID,
		EnrollmentID: s.EnrollmentID,
		Date:         s.Date.Format("2006-01-02"),
		StartTime:    formatClock(s.StartMinute),
		EndTime:      formatClock(s.EndMinute),
	})
}
