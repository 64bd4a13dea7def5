package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bookly/service_layer/pkg/promisestate"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/healthz":               "/healthz",
		"/users":                 "/users",
		"/users/42":              "/users/:id",
		"/users/42/bookings":     "/users/:id/bookings",
		"/bookings/abc/cancel":   "/bookings/:id/cancel",
		"/sessions/abc/":         "/sessions/:id",
		"/unknown/thing/here/ok": "/unknown",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/users/:id", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/7", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/users/:id", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request recorded, got %v", after-before)
	}
}

func TestObserveTracker(t *testing.T) {
	fail := errors.New("boom")
	tracker := promisestate.New(func(ctx context.Context, ok bool) (int, error) {
		if !ok {
			return 0, fail
		}
		return 1, nil
	})
	sub := ObserveTracker("metrics-test", tracker)

	tracker.Execute(context.Background(), 0, true)
	tracker.Execute(context.Background(), 0, false)
	tracker.Execute(context.Background(), 0, true)

	if got := testutil.ToFloat64(trackedRuns.WithLabelValues("metrics-test", "succeeded")); got != 2 {
		t.Fatalf("succeeded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(trackedRuns.WithLabelValues("metrics-test", "failed")); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(trackedInFlight.WithLabelValues("metrics-test")); got != 0 {
		t.Fatalf("inflight = %v, want 0", got)
	}

	sub.Off()
	tracker.Execute(context.Background(), 0, true)
	if got := testutil.ToFloat64(trackedRuns.WithLabelValues("metrics-test", "succeeded")); got != 2 {
		t.Fatalf("expected no recording after Off, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordSessionsPurged(3)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bookly_sessions_purged_total") {
		t.Fatalf("purged counter missing from exposition")
	}
}
