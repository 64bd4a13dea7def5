package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/bookly/service_layer/internal/app/domain/user"
	"github.com/bookly/service_layer/internal/app/storage"
	"github.com/bookly/service_layer/pkg/logger"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email, a
// wrong password or an inactive user.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CreateInput carries the fields accepted when registering a user.
type CreateInput struct {
	Email     string `json:"email" yaml:"email"`
	Password  string `json:"password" yaml:"password"`
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
	Position  string `json:"position,omitempty" yaml:"position"`
}

// Service manages user accounts.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
	cost  int
}

// Option customises a Service.
type Option func(*Service)

// WithHashCost overrides the bcrypt cost. Values outside bcrypt's range fall
// back to bcrypt.DefaultCost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// New constructs a user service.
func New(store storage.UserStore, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	s := &Service{store: store, log: log, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a user. A duplicate email yields an error wrapping
// storage.ErrConflict.
func (s *Service) Create(ctx context.Context, in CreateInput) (user.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return user.User{}, fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return user.User{}, fmt.Errorf("invalid email %q", in.Email)
	}
	if len(email) > 255 {
		return user.User{}, fmt.Errorf("email exceeds 255 characters")
	}
	if in.Password == "" {
		return user.User{}, fmt.Errorf("password is required")
	}
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	if firstName == "" || lastName == "" {
		return user.User{}, fmt.Errorf("first_name and last_name are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Email:     email,
		Hash:      string(hash),
		FirstName: firstName,
		LastName:  lastName,
		Position:  strings.TrimSpace(in.Position),
		IsActive:  true,
	})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", created.ID).
		WithField("email", created.Email).
		Info("user created")
	return created, nil
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// GetByEmail fetches a user by email, case-insensitively.
func (s *Service) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return s.store.GetUserByEmail(ctx, normalizeEmail(email))
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// SetActive toggles a user's active flag.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	u.IsActive = active
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", id).
		WithField("active", active).
		Info("user state changed")
	return updated, nil
}

// Authenticate checks email and password and returns the matching active user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrInvalidCredentials
		}
		return user.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)); err != nil {
		return user.User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return user.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
