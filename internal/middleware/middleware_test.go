package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/pkg/logger"
)

type stubVerifier struct {
	token string
	sess  session.Session
}

func (s stubVerifier) Verify(_ context.Context, token string) (session.Session, error) {
	if token != s.token {
		return session.Session{}, errors.New("bad token")
	}
	return s.sess, nil
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	verifier := stubVerifier{token: "jwt-abc", sess: session.Session{ID: "s1", UserID: "u1"}}
	m := NewAuthMiddleware([]string{" static ", ""}, verifier, logger.Discard())

	var seen Principal
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		status int
		method string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
		{"static token", "Bearer static", http.StatusOK, MethodToken},
		{"session token", "bearer jwt-abc", http.StatusOK, MethodSession},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = Principal{}
			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if seen.Method != tc.method {
				t.Fatalf("method = %q, want %q", seen.Method, tc.method)
			}
			if tc.status == http.StatusUnauthorized {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Fatalf("expected json error body, got %q", rec.Body.String())
				}
			}
		})
	}
	if seen.Subject != "" {
		t.Fatalf("unexpected subject after failed request: %+v", seen)
	}
}

func TestAuthMiddlewareSessionPrincipal(t *testing.T) {
	verifier := stubVerifier{token: "jwt-abc", sess: session.Session{ID: "s1", UserID: "u1"}}
	m := NewAuthMiddleware(nil, verifier, logger.Discard())
	p, err := m.Authenticate(context.Background(), "Bearer jwt-abc")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.Subject != "u1" || p.SessionID != "s1" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if GetUserID(WithPrincipal(context.Background(), p)) != "u1" {
		t.Fatalf("user id not propagated")
	}

	staticOnly := NewAuthMiddleware([]string{"x"}, nil, logger.Discard())
	if _, err := staticOnly.Authenticate(context.Background(), "Bearer jwt-abc"); err == nil {
		t.Fatalf("expected session token rejected without verifier")
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://app.example.com", ".trusted.io"}).Handler(ok())

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", "https://api.trusted.io")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected suffix origin to be allowed")
	}

	req = httptest.NewRequest(http.MethodOptions, "/users", nil)
	req.Header.Set("Origin", "https://evil.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("preflight from unknown origin: %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow origin for unknown origin")
	}

	all := NewCORSMiddleware([]string{"*"}).Handler(ok())
	req = httptest.NewRequest(http.MethodOptions, "/users", nil)
	req.Header.Set("Origin", "https://anything.test")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rec = httptest.NewRecorder()
	all.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	h := rl.Handler(ok())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client limited: %d", rec.Code)
	}

	if rl.Len() != 2 {
		t.Fatalf("expected 2 limiters, got %d", rl.Len())
	}
	now := time.Now()
	rl.now = func() time.Time { return now.Add(time.Hour) }
	if removed := rl.Cleanup(time.Minute); removed != 2 {
		t.Fatalf("cleanup removed %d", removed)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	h := NewRateLimiter(0, 0, logger.Discard()).Handler(ok())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d limited", i)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var id string
	h := NewRequestLogger(logger.Discard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = GetRequestID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if id == "" || rec.Header().Get(RequestIDHeader) != id {
		t.Fatalf("request id not propagated: ctx=%q header=%q", id, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if id != "given" {
		t.Fatalf("expected inbound id to be kept, got %q", id)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
}
