package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/insideout-learning/insideout/libs/auth"
)

func TestRequireRole(t *testing.T) {
	h := requireRole(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), "tutor", "admin")

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("X-Role", "student")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqOK.Header.Set("X-Role", "tutor")
	rwOK := httptest.NewRecorder()
	h.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rwOK.Code)
	}
}

func TestRequireAuthHS256(t *testing.T) {
	secret := "test-secret"
	claims := auth.Claims{
		Sub:  "17",
		Role: "student",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(1 * time.Hour).Unix(),
	}
	token, err := auth.SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != claims.Sub {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Role") != claims.Role {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), secret, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	// Spoofed identity headers must be replaced, not forwarded.
	req.Header.Set("X-User-Id", "999")
	req.Header.Set("X-Role", "admin")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqBad.Header.Set("Authorization", "Bearer badtoken")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rwBad.Code)
	}
}

func TestCheckoutReturnPageNeutralizesSessionID(t *testing.T) {
	renderPage := func(sessionID string) string {
		target := "http://example.com/payments/success?session_id=" + url.QueryEscape(sessionID)
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rw := httptest.NewRecorder()
		renderCheckoutReturnPage(rw, req, "Payment successful", "success")
		return rw.Body.String()
	}

	// A backtick payload must not terminate the script string literal.
	body := renderPage("cs_x`;alert(1);//")
	if !strings.Contains(body, `const sessionId = "cs_x`) {
		t.Fatalf("session id not emitted as a quoted string:\n%s", body)
	}
	if strings.Contains(body, "const sessionId = `") {
		t.Fatalf("session id emitted inside a template literal:\n%s", body)
	}

	// A closing script tag must not terminate the script element.
	body = renderPage(`</script><script>alert(1)</script>`)
	if strings.Contains(body, "<script>alert") {
		t.Fatalf("payload injected a script element:\n%s", body)
	}

	// ${} interpolation must be inert.
	body = renderPage("${document.cookie}")
	if !strings.Contains(body, `"${document.cookie}"`) {
		t.Fatalf("interpolation payload not rendered as plain string data:\n%s", body)
	}
}

func TestAllowOnboardingToken(t *testing.T) {
	authed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	direct := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != "" || r.Header.Get("X-Role") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := allowOnboardingToken(authed, direct)

	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/schedules", nil)
	req.Header.Set("X-Onboarding-Token", "some.token.here")
	req.Header.Set("X-User-Id", "999")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected onboarding request to bypass auth, got %d", rw.Code)
	}

	reqNoToken := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/schedules", nil)
	rwNoToken := httptest.NewRecorder()
	h.ServeHTTP(rwNoToken, reqNoToken)
	if rwNoToken.Code != http.StatusUnauthorized {
		t.Fatalf("expected fallthrough to auth, got %d", rwNoToken.Code)
	}
}
