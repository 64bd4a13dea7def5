package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bookly/service_layer/internal/app/domain/booking"
	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record violates a uniqueness constraint.
	ErrConflict = errors.New("already exists")
	// ErrInvalid is returned when a write references a malformed or missing
	// related record.
	ErrInvalid = errors.New("invalid reference")
)

// UserStore persists user records. Emails are unique.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
}

// BookingStore persists bookings.
type BookingStore interface {
	CreateBooking(ctx context.Context, b booking.Booking) (booking.Booking, error)
	UpdateBooking(ctx context.Context, b booking.Booking) (booking.Booking, error)
	GetBooking(ctx context.Context, id string) (booking.Booking, error)
	ListBookings(ctx context.Context, userID string) ([]booking.Booking, error)
	DeleteBooking(ctx context.Context, id string) error
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s session.Session) (session.Session, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
	ListSessions(ctx context.Context, userID string) ([]session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}
