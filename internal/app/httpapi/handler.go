package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/bookly/service_layer/internal/app"
	"github.com/bookly/service_layer/internal/app/metrics"
	"github.com/bookly/service_layer/internal/app/services/bookings"
	"github.com/bookly/service_layer/internal/app/services/sessions"
	"github.com/bookly/service_layer/internal/app/services/users"
	"github.com/bookly/service_layer/internal/app/storage"
	"github.com/bookly/service_layer/internal/middleware"
	"github.com/bookly/service_layer/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	Tokens         []string
	AllowedOrigins []string
	RateLimit      int
	RateBurst      int
	Limiter        *middleware.RateLimiter
	Audit          *AuditLog
	Logger         *logger.Logger
}

var errForbidden = errors.New("forbidden")

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	auth    *middleware.AuthMiddleware
	limiter *middleware.RateLimiter
	audit   *AuditLog
	log     *logger.Logger
}

// NewHandler returns the REST API wrapped in metrics, request logging and
// CORS middleware.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	audit := opts.Audit
	if audit == nil {
		audit = newAuditLog(0, nil)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst, log.Named("ratelimit"))
	}
	h := &handler{
		app:     application,
		auth:    middleware.NewAuthMiddleware(opts.Tokens, application.Sessions, log.Named("auth")),
		limiter: limiter,
		audit:   audit,
		log:     log,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.Handle("/sessions", h.public(h.login)).Methods(http.MethodPost)
	r.Handle("/sessions/{id}", h.protected(h.logout)).Methods(http.MethodDelete)

	r.Handle("/users", h.public(h.register)).Methods(http.MethodPost)
	r.Handle("/users", h.protected(h.listUsers)).Methods(http.MethodGet)
	r.Handle("/users/{id}", h.protected(h.getUser)).Methods(http.MethodGet)
	r.Handle("/users/{id}", h.protected(h.patchUser)).Methods(http.MethodPatch)
	r.Handle("/users/{id}/sessions", h.protected(h.userSessions)).Methods(http.MethodGet)
	r.Handle("/users/{id}/bookings", h.protected(h.createBooking)).Methods(http.MethodPost)
	r.Handle("/users/{id}/bookings", h.protected(h.userBookings)).Methods(http.MethodGet)

	r.Handle("/bookings/{id}", h.protected(h.getBooking)).Methods(http.MethodGet)
	r.Handle("/bookings/{id}", h.protected(h.deleteBooking)).Methods(http.MethodDelete)
	r.Handle("/bookings/{id}/cancel", h.protected(h.cancelBooking)).Methods(http.MethodPost)

	r.Handle("/audit", h.protected(h.auditEntries)).Methods(http.MethodGet)

	var out http.Handler = r
	out = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(out)
	out = middleware.NewRequestLogger(log.Named("http")).Handler(out)
	out = metrics.InstrumentHandler(out)
	return out
}

func (h *handler) public(fn http.HandlerFunc) http.Handler {
	return h.audit.record(h.limiter.Handler(fn))
}

func (h *handler) protected(fn http.HandlerFunc) http.Handler {
	return h.auth.Handler(h.audit.record(h.limiter.Handler(fn)))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		BookingID string `json:"booking_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, token, err := h.app.Sessions.Login(r.Context(), payload.Email, payload.Password, sessions.Meta{
		UserAgent: r.UserAgent(),
		IP:        remoteIP(r),
		BookingID: payload.BookingID,
	})
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session": sess,
		"token":   token,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := h.app.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	if !allowed(r, sess.UserID) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	if err := h.app.Sessions.Logout(r.Context(), id); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload users.CreateInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Users.Create(r.Context(), payload)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	list, err := h.app.Users.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !allowed(r, id) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	u, err := h.app.Users.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) patchUser(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	var payload struct {
		IsActive *bool `json:"is_active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.IsActive == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("is_active is required"))
		return
	}
	u, err := h.app.Users.SetActive(r.Context(), mux.Vars(r)["id"], *payload.IsActive)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) userSessions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !allowed(r, id) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	if _, err := h.app.Users.Get(r.Context(), id); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	list, err := h.app.Sessions.List(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !allowed(r, id) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	var payload bookings.CreateInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.app.Bookings.Create(r.Context(), id, payload)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handler) userBookings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !allowed(r, id) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	if _, err := h.app.Users.Get(r.Context(), id); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	list, err := h.app.Bookings.List(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Bookings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	if !allowed(r, b.UserID) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := h.app.Bookings.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	if !allowed(r, b.UserID) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	b, err = h.app.Bookings.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) deleteBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := h.app.Bookings.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	if !allowed(r, b.UserID) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	if err := h.app.Bookings.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// isAdmin reports whether the caller used a static API token.
func isAdmin(r *http.Request) bool {
	p, ok := middleware.PrincipalFrom(r.Context())
	return ok && p.Method == middleware.MethodToken
}

// allowed reports whether the caller may act on resources owned by userID.
func allowed(r *http.Request, userID string) bool {
	if isAdmin(r) {
		return true
	}
	sub := middleware.GetUserID(r.Context())
	return sub != "" && sub == userID
}

func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrInvalidCredentials), errors.Is(err, sessions.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, sessions.ErrLoginDisabled):
		return http.StatusServiceUnavailable
	}
	return fallback
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// NewServer returns an http.Server serving handler on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}
