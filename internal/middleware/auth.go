package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/pkg/logger"
)

// Authentication methods recorded on a Principal.
const (
	MethodToken   = "token"
	MethodSession = "session"
)

var (
	errMissingHeader = errors.New("missing Authorization header")
	errBadHeader     = errors.New("invalid Authorization header format")
	errBadToken      = errors.New("invalid or expired token")
)

// SessionVerifier validates a session token and returns the live session.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (session.Session, error)
}

// Principal identifies the caller of an authenticated request.
type Principal struct {
	Subject   string
	SessionID string
	Method    string
}

type principalKey struct{}

// AuthMiddleware accepts static API tokens or session tokens.
type AuthMiddleware struct {
	tokens   []string
	sessions SessionVerifier
	logger   *logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware. sessions may be
// nil, in which case only static tokens are accepted.
func NewAuthMiddleware(tokens []string, sessions SessionVerifier, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	cleaned := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			cleaned = append(cleaned, tok)
		}
	}
	return &AuthMiddleware{tokens: cleaned, sessions: sessions, logger: log}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"path":   r.URL.Path,
				"method": r.Method,
			}).Debug("authentication failed")
			w.Header().Set("WWW-Authenticate", `Bearer realm="bookly"`)
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Authenticate resolves an Authorization header value into a Principal.
func (m *AuthMiddleware) Authenticate(ctx context.Context, header string) (Principal, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Principal{}, errMissingHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Principal{}, errBadHeader
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return Principal{}, errBadHeader
	}

	for _, allowed := range m.tokens {
		if subtle.ConstantTimeCompare([]byte(allowed), []byte(token)) == 1 {
			return Principal{Method: MethodToken}, nil
		}
	}

	if m.sessions == nil {
		return Principal{}, errBadToken
	}
	sess, err := m.sessions.Verify(ctx, token)
	if err != nil {
		return Principal{}, errBadToken
	}
	return Principal{Subject: sess.UserID, SessionID: sess.ID, Method: MethodSession}, nil
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// GetUserID extracts the authenticated user id from context. Static API
// tokens carry no user and yield "".
func GetUserID(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.Subject
}
