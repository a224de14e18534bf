package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/insideout-learning/insideout/libs/auth"
)

const testTokenSecret = "payment-test-secret"

func testHandler() *Handler {
	return New(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		OnboardingTokenSecret: testTokenSecret,
	})
}

func postValidateToken(t *testing.T, h *Handler, token string) validateTokenResponse {
	t.Helper()
	body := strings.NewReader(`{"token":"` + token + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/onboarding/validate-token", body)
	rec := httptest.NewRecorder()
	h.ValidateToken(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp validateTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return resp
}

func TestValidateTokenValid(t *testing.T) {
	h := testHandler()
	now := time.Now().UTC()
	token, err := auth.SignOnboardingToken(auth.OnboardingClaims{
		UserID:            7,
		CourseID:          3,
		EnrollmentID:      42,
		CheckoutSessionID: "cs_test_1",
		Iat:               now.Unix(),
		Exp:               now.Add(time.Hour).Unix(),
	}, testTokenSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp := postValidateToken(t, h, token)
	if !resp.Valid || resp.Expired {
		t.Fatalf("expected valid token, got %+v", resp)
	}
	if resp.EnrollmentID != 42 {
		t.Fatalf("expected enrollment_id 42, got %d", resp.EnrollmentID)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	h := testHandler()
	now := time.Now().UTC()
	token, err := auth.SignOnboardingToken(auth.OnboardingClaims{
		UserID:       7,
		CourseID:     3,
		EnrollmentID: 42,
		Iat:          now.Add(-2 * time.Hour).Unix(),
		Exp:          now.Add(-time.Hour).Unix(),
	}, testTokenSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp := postValidateToken(t, h, token)
	if resp.Valid {
		t.Fatalf("expected invalid, got %+v", resp)
	}
	if !resp.Expired {
		t.Fatalf("expected expired flag, got %+v", resp)
	}
	if resp.EnrollmentID != 42 {
		t.Fatalf("expected enrollment_id on expired token, got %d", resp.EnrollmentID)
	}
}

func TestValidateTokenForged(t *testing.T) {
	h := testHandler()
	now := time.Now().UTC()
	token, err := auth.SignOnboardingToken(auth.OnboardingClaims{
		UserID:       7,
		EnrollmentID: 42,
		Iat:          now.Unix(),
		Exp:          now.Add(time.Hour).Unix(),
	}, "some-other-secret")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp := postValidateToken(t, h, token)
	if resp.Valid || resp.Expired {
		t.Fatalf("expected plain rejection, got %+v", resp)
	}
	if resp.EnrollmentID != 0 {
		t.Fatalf("forged token must not leak claims, got %+v", resp)
	}
}

func TestValidateTokenMissing(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/onboarding/validate-token", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ValidateToken(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestParseCheckoutMetadata(t *testing.T) {
	userID, courseID, err := parseCheckoutMetadata(map[string]string{
		"user_id":   "12",
		"course_id": "5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != 12 || courseID != 5 {
		t.Fatalf("got user=%d course=%d", userID, courseID)
	}

	for name, md := range map[string]map[string]string{
		"missing user":   {"course_id": "5"},
		"missing course": {"user_id": "12"},
		"zero user":      {"user_id": "0", "course_id": "5"},
		"garbage":        {"user_id": "abc", "course_id": "5"},
	} {
		if _, _, err := parseCheckoutMetadata(md); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	h := New(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		StripeWebhookSecret:   "whsec_test",
		OnboardingTokenSecret: testTokenSecret,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
