package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/internal/app/services/users"
	"github.com/bookly/service_layer/internal/app/storage"
	"github.com/bookly/service_layer/pkg/logger"
)

const defaultTTL = 24 * time.Hour

// ErrInvalidToken is returned by Verify for malformed, forged, expired or
// revoked tokens, and for tokens whose user is no longer active.
var ErrInvalidToken = errors.New("invalid session token")

// ErrLoginDisabled is returned by Login when no signing secret is configured.
var ErrLoginDisabled = errors.New("session signing secret not configured")

// Meta describes the client opening a session.
type Meta struct {
	UserAgent string
	IP        string
	BookingID string
}

// Claims is the JWT payload issued for a session.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Service issues and verifies login sessions.
type Service struct {
	users  *users.Service
	store  storage.SessionStore
	log    *logger.Logger
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIssuer sets the JWT iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = strings.TrimSpace(issuer) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a session service signing tokens with secret.
func New(usersSvc *users.Service, store storage.SessionStore, secret []byte, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	s := &Service{
		users:  usersSvc,
		store:  store,
		log:    log,
		secret: secret,
		ttl:    defaultTTL,
		issuer: "bookly",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates the user and opens a session, returning it with its
// signed token.
func (s *Service) Login(ctx context.Context, email, password string, meta Meta) (session.Session, string, error) {
	if len(s.secret) == 0 {
		return session.Session{}, "", ErrLoginDisabled
	}
	u, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return session.Session{}, "", err
	}

	now := s.now()
	created, err := s.store.CreateSession(ctx, session.Session{
		UserID:    u.ID,
		BookingID: strings.TrimSpace(meta.BookingID),
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return session.Session{}, "", err
	}

	token, err := s.sign(created)
	if err != nil {
		return session.Session{}, "", err
	}
	s.log.WithField("session_id", created.ID).
		WithField("user_id", created.UserID).
		Info("session opened")
	return created, token, nil
}

// Verify validates a token and returns the live session it refers to.
func (s *Service) Verify(ctx context.Context, token string) (session.Session, error) {
	if len(s.secret) == 0 {
		return session.Session{}, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid || claims.SessionID == "" {
		return session.Session{}, ErrInvalidToken
	}

	sess, err := s.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return session.Session{}, ErrInvalidToken
		}
		return session.Session{}, err
	}
	if sess.UserID != claims.Subject || sess.Expired(s.now()) {
		return session.Session{}, ErrInvalidToken
	}

	// Deactivated users lose access immediately, not at token expiry.
	u, err := s.users.Get(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return session.Session{}, ErrInvalidToken
		}
		return session.Session{}, err
	}
	if !u.IsActive {
		return session.Session{}, ErrInvalidToken
	}
	return sess, nil
}

// Logout revokes a session.
func (s *Service) Logout(ctx context.Context, id string) error {
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.log.WithField("session_id", id).Info("session closed")
	return nil
}

// Get fetches a session.
func (s *Service) Get(ctx context.Context, id string) (session.Session, error) {
	return s.store.GetSession(ctx, id)
}

// List lists a user's sessions.
func (s *Service) List(ctx context.Context, userID string) ([]session.Session, error) {
	return s.store.ListSessions(ctx, userID)
}

// PurgeExpired deletes sessions that expired at or before now.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return s.store.DeleteExpiredSessions(ctx, now)
}

func (s *Service) sign(sess session.Session) (string, error) {
	claims := Claims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}
