package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bookly/service_layer/internal/app/domain/booking"
	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/internal/app/domain/user"
	"github.com/bookly/service_layer/internal/app/storage"
)

// SQLSTATE codes translated into storage errors.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	invalidTextRep      = "22P02"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.BookingStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- UserStore --------------------------------------------------------------

const userColumns = `id, email, hash, first_name, last_name, position, is_active, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, hash, first_name, last_name, position, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.Hash, u.FirstName, u.LastName, u.Position, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError("user "+u.Email, err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}

	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, hash = $3, first_name = $4, last_name = $5, position = $6, is_active = $7, updated_at = $8
		WHERE id = $1
	`, u.ID, u.Email, u.Hash, u.FirstName, u.LastName, u.Position, u.IsActive, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError("user "+u.Email, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return user.User{}, mapError("user "+id, err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return user.User{}, mapError("user "+email, err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	var result []user.User
	if err := s.db.SelectContext(ctx, &result, `SELECT `+userColumns+` FROM users ORDER BY created_at`); err != nil {
		return nil, err
	}
	return result, nil
}

// --- BookingStore -----------------------------------------------------------

const bookingColumns = `id, user_id, email, first_name, last_name, position, note, starts_at, ends_at, is_active, created_at, updated_at`

func (s *Store) CreateBooking(ctx context.Context, b booking.Booking) (booking.Booking, error) {
	if b.UserID == "" {
		return booking.Booking{}, errors.New("user_id required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, user_id, email, first_name, last_name, position, note, starts_at, ends_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.UserID, b.Email, b.FirstName, b.LastName, b.Position, b.Note, b.StartsAt, b.EndsAt, b.IsActive, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return booking.Booking{}, mapWriteError("booking "+b.ID, err)
	}
	return b, nil
}

func (s *Store) UpdateBooking(ctx context.Context, b booking.Booking) (booking.Booking, error) {
	existing, err := s.GetBooking(ctx, b.ID)
	if err != nil {
		return booking.Booking{}, err
	}

	b.UserID = existing.UserID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET email = $2, first_name = $3, last_name = $4, position = $5, note = $6, starts_at = $7, ends_at = $8, is_active = $9, updated_at = $10
		WHERE id = $1
	`, b.ID, b.Email, b.FirstName, b.LastName, b.Position, b.Note, b.StartsAt, b.EndsAt, b.IsActive, b.UpdatedAt)
	if err != nil {
		return booking.Booking{}, mapError("booking "+b.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return booking.Booking{}, fmt.Errorf("booking %s: %w", b.ID, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	var b booking.Booking
	if err := s.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id); err != nil {
		return booking.Booking{}, mapError("booking "+id, err)
	}
	return b, nil
}

func (s *Store) ListBookings(ctx context.Context, userID string) ([]booking.Booking, error) {
	var result []booking.Booking
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE $1 = '' OR user_id::text = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteBooking(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return mapError("booking "+id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("booking %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- SessionStore -----------------------------------------------------------

const sessionColumns = `id, user_id, COALESCE(booking_id::text, '') AS booking_id, user_agent, ip, created_at, expires_at`

func (s *Store) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, booking_id, user_agent, ip, created_at, expires_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7)
	`, sess.ID, sess.UserID, sess.BookingID, sess.UserAgent, sess.IP, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return session.Session{}, mapWriteError("session "+sess.ID, err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	var sess session.Session
	if err := s.db.GetContext(ctx, &sess, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id); err != nil {
		return session.Session{}, mapError("session "+id, err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	var result []session.Session
	err := s.db.SelectContext(ctx, &result, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE $1 = '' OR user_id::text = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return mapError("session "+id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// mapError translates lookup failures. An id that is not a valid UUID cannot
// match any row, so it reads as not found.
func mapError(subject string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", subject, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w", subject, storage.ErrConflict)
		case invalidTextRep:
			return fmt.Errorf("%s: %w", subject, storage.ErrNotFound)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", subject, storage.ErrInvalid)
		}
	}
	return err
}

// mapWriteError is mapError for inserts, where a malformed reference column
// is a caller error rather than a missing row.
func mapWriteError(subject string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == invalidTextRep {
		return fmt.Errorf("%s: %w", subject, storage.ErrInvalid)
	}
	return mapError(subject, err)
}
