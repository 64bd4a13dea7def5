package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	app "github.com/bookly/service_layer/internal/app"
	"github.com/bookly/service_layer/pkg/logger"
)

const testAuthToken = "test-token"

func newTestHandler(t *testing.T, audit *AuditLog) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		JWTSecret: []byte("integration-secret-0123"),
		HashCost:  bcrypt.MinCost,
	}, logger.Discard())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	return NewHandler(application, Options{
		Tokens: []string{testAuthToken},
		Audit:  audit,
		Logger: logger.Discard(),
	})
}

func TestHandlerLifecycle(t *testing.T) {
	handler := newTestHandler(t, nil)

	resp := do(handler, http.MethodGet, "/healthz", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: %d", resp.Code)
	}

	// Register
	userBody := map[string]any{
		"email":      "Ann@Example.com",
		"password":   "hunter22",
		"first_name": "Ann",
		"last_name":  "Lee",
	}
	resp = do(handler, http.MethodPost, "/users", userBody, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 register, got %d: %s", resp.Code, resp.Body.String())
	}
	created := decode(t, resp)
	userID := created["id"].(string)
	if created["email"] != "ann@example.com" {
		t.Fatalf("email not normalised: %v", created["email"])
	}
	if _, ok := created["hash"]; ok {
		t.Fatalf("hash leaked in response")
	}

	if resp = do(handler, http.MethodPost, "/users", userBody, ""); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodPost, "/users", map[string]any{"email": "x@example.com", "nickname": "x"}, ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 unknown field, got %d", resp.Code)
	}

	// Login
	if resp = do(handler, http.MethodPost, "/sessions", map[string]any{"email": "ann@example.com", "password": "wrong"}, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 wrong password, got %d", resp.Code)
	}
	resp = do(handler, http.MethodPost, "/sessions", map[string]any{"email": "ann@example.com", "password": "hunter22"}, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 login, got %d: %s", resp.Code, resp.Body.String())
	}
	login := decode(t, resp)
	token := login["token"].(string)
	sessionID := login["session"].(map[string]any)["id"].(string)

	// Authorization
	if resp = do(handler, http.MethodGet, "/users", nil, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodGet, "/users", nil, token); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing users with session, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodGet, "/users", nil, testAuthToken); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 listing users, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodGet, "/users/"+userID, nil, token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 get self, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodGet, "/users/someone-else", nil, token); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 get other user, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodGet, "/users/missing", nil, testAuthToken); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 missing user, got %d", resp.Code)
	}

	// Bookings
	resp = do(handler, http.MethodPost, "/users/"+userID+"/bookings", map[string]any{
		"note":      "window seat",
		"starts_at": "2026-05-01T10:00:00Z",
		"ends_at":   "2026-05-01T12:00:00Z",
	}, token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 booking, got %d: %s", resp.Code, resp.Body.String())
	}
	booking := decode(t, resp)
	bookingID := booking["id"].(string)
	if booking["email"] != "ann@example.com" || booking["is_active"] != true {
		t.Fatalf("unexpected booking %v", booking)
	}

	if resp = do(handler, http.MethodPost, "/users/"+userID+"/bookings", map[string]any{
		"starts_at": "2026-05-01T12:00:00Z",
		"ends_at":   "2026-05-01T10:00:00Z",
	}, token); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 bad window, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodPost, "/users/missing/bookings", map[string]any{}, testAuthToken); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 booking for missing user, got %d", resp.Code)
	}

	resp = do(handler, http.MethodGet, "/users/"+userID+"/bookings", nil, token)
	var list []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one booking, got %s", resp.Body.String())
	}

	resp = do(handler, http.MethodPost, "/bookings/"+bookingID+"/cancel", nil, token)
	if resp.Code != http.StatusOK || decode(t, resp)["is_active"] != false {
		t.Fatalf("cancel booking: %d", resp.Code)
	}
	if resp = do(handler, http.MethodDelete, "/bookings/"+bookingID, nil, token); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 delete booking, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodGet, "/bookings/"+bookingID, nil, token); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleted booking, got %d", resp.Code)
	}

	// Sessions
	resp = do(handler, http.MethodGet, "/users/"+userID+"/sessions", nil, token)
	var sessionsList []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &sessionsList); err != nil || len(sessionsList) != 1 {
		t.Fatalf("expected one session, got %s", resp.Body.String())
	}
	if resp = do(handler, http.MethodDelete, "/sessions/"+sessionID, nil, token); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 logout, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodGet, "/users/"+userID, nil, token); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.Code)
	}

	// Deactivate
	if resp = do(handler, http.MethodPatch, "/users/"+userID, map[string]any{}, testAuthToken); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 missing is_active, got %d", resp.Code)
	}
	resp = do(handler, http.MethodPatch, "/users/"+userID, map[string]any{"is_active": false}, testAuthToken)
	if resp.Code != http.StatusOK || decode(t, resp)["is_active"] != false {
		t.Fatalf("deactivate user: %d", resp.Code)
	}
	if resp = do(handler, http.MethodPost, "/sessions", map[string]any{"email": "ann@example.com", "password": "hunter22"}, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive login, got %d", resp.Code)
	}

	// Routing
	if resp = do(handler, http.MethodGet, "/nope", nil, testAuthToken); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown route, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodPut, "/users", nil, testAuthToken); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestDeactivatedUserTokenRejected(t *testing.T) {
	handler := newTestHandler(t, nil)

	resp := do(handler, http.MethodPost, "/users", map[string]any{
		"email": "bo@example.com", "password": "hunter22", "first_name": "Bo", "last_name": "Ng",
	}, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", resp.Code, resp.Body.String())
	}
	userID := decode(t, resp)["id"].(string)

	if resp = do(handler, http.MethodPost, "/sessions", map[string]any{
		"email": "bo@example.com", "password": "hunter22", "booking_id": "no-such-booking",
	}, ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 unknown booking on login, got %d", resp.Code)
	}

	resp = do(handler, http.MethodPost, "/sessions", map[string]any{"email": "bo@example.com", "password": "hunter22"}, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("login: %d %s", resp.Code, resp.Body.String())
	}
	token := decode(t, resp)["token"].(string)

	resp = do(handler, http.MethodPatch, "/users/"+userID, map[string]any{"is_active": false}, testAuthToken)
	if resp.Code != http.StatusOK {
		t.Fatalf("deactivate: %d", resp.Code)
	}

	if resp = do(handler, http.MethodGet, "/users/"+userID, nil, token); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 get self after deactivation, got %d", resp.Code)
	}
	if resp = do(handler, http.MethodPost, "/users/"+userID+"/bookings", map[string]any{"note": "late"}, token); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 booking after deactivation, got %d", resp.Code)
	}
}

func TestAuditEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := NewAuditLog(10, path)
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })
	handler := newTestHandler(t, audit)

	do(handler, http.MethodPost, "/users", map[string]any{
		"email": "bob@example.com", "password": "pw", "first_name": "Bob", "last_name": "Ray",
	}, "")
	do(handler, http.MethodGet, "/users", nil, testAuthToken)
	do(handler, http.MethodPost, "/sessions", map[string]any{"email": "bob@example.com", "password": "bad"}, "")

	resp := do(handler, http.MethodGet, "/audit?limit=5", nil, testAuthToken)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit status %d", resp.Code)
	}
	var entries []auditEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 mutating entries, got %d", len(entries))
	}
	if entries[0].Path != "/users" || entries[0].Status != http.StatusCreated {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Path != "/sessions" || entries[1].Status != http.StatusUnauthorized {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}

	if resp = do(handler, http.MethodGet, "/audit?limit=x", nil, testAuthToken); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 bad limit, got %d", resp.Code)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Fatalf("expected 2 audit lines, got %d", lines)
	}
}

func TestAuditLogRetention(t *testing.T) {
	l := newAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		l.add(auditEntry{Status: i})
	}
	got := l.list()
	if len(got) != 3 || got[0].Status != 2 || got[2].Status != 4 {
		t.Fatalf("unexpected retained entries %+v", got)
	}
	if last := l.listLimit(1); len(last) != 1 || last[0].Status != 4 {
		t.Fatalf("unexpected limited entries %+v", last)
	}
}

func do(handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, resp.Body.String())
	}
	return out
}
