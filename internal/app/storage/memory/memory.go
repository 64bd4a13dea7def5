package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bookly/service_layer/internal/app/domain/booking"
	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/internal/app/domain/user"
	"github.com/bookly/service_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	tick         int64
	seq          map[string]int64
	users        map[string]user.User
	usersByEmail map[string]string
	bookings     map[string]booking.Booking
	sessions     map[string]session.Session
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.BookingStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		seq:          make(map[string]int64),
		users:        make(map[string]user.User),
		usersByEmail: make(map[string]string),
		bookings:     make(map[string]booking.Booking),
		sessions:     make(map[string]session.Session),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) trackLocked(id string) {
	if _, ok := s.seq[id]; !ok {
		s.tick++
		s.seq[id] = s.tick
	}
}

// forgetLocked drops the ordering entry for id once no record uses it.
func (s *Store) forgetLocked(id string) {
	if _, ok := s.users[id]; ok {
		return
	}
	if _, ok := s.bookings[id]; ok {
		return
	}
	if _, ok := s.sessions[id]; ok {
		return
	}
	delete(s.seq, id)
}

func (s *Store) sortLocked(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return s.seq[ids[i]] < s.seq[ids[j]] })
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(u.Email)
	if _, exists := s.usersByEmail[key]; exists {
		return user.User{}, fmt.Errorf("user %s: %w", u.Email, storage.ErrConflict)
	}
	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByEmail[key] = u.ID
	s.trackLocked(u.ID)
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	newKey, oldKey := emailKey(u.Email), emailKey(original.Email)
	if newKey != oldKey {
		if _, taken := s.usersByEmail[newKey]; taken {
			return user.User{}, fmt.Errorf("user %s: %w", u.Email, storage.ErrConflict)
		}
		delete(s.usersByEmail, oldKey)
		s.usersByEmail[newKey] = u.ID
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[emailKey(email)]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.sortLocked(ids)

	result := make([]user.User, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.users[id])
	}
	return result, nil
}

// BookingStore implementation -------------------------------------------------

func (s *Store) CreateBooking(_ context.Context, b booking.Booking) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = s.nextIDLocked()
	} else if _, exists := s.bookings[b.ID]; exists {
		return booking.Booking{}, fmt.Errorf("booking %s: %w", b.ID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	s.bookings[b.ID] = cloneBooking(b)
	s.trackLocked(b.ID)
	return cloneBooking(b), nil
}

func (s *Store) UpdateBooking(_ context.Context, b booking.Booking) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.bookings[b.ID]
	if !ok {
		return booking.Booking{}, fmt.Errorf("booking %s: %w", b.ID, storage.ErrNotFound)
	}

	b.UserID = original.UserID
	b.CreatedAt = original.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	s.bookings[b.ID] = cloneBooking(b)
	return cloneBooking(b), nil
}

func (s *Store) GetBooking(_ context.Context, id string) (booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, fmt.Errorf("booking %s: %w", id, storage.ErrNotFound)
	}
	return cloneBooking(b), nil
}

func (s *Store) ListBookings(_ context.Context, userID string) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, b := range s.bookings {
		if userID == "" || b.UserID == userID {
			ids = append(ids, id)
		}
	}
	s.sortLocked(ids)

	result := make([]booking.Booking, 0, len(ids))
	for _, id := range ids {
		result = append(result, cloneBooking(s.bookings[id]))
	}
	return result, nil
}

func (s *Store) DeleteBooking(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[id]; !ok {
		return fmt.Errorf("booking %s: %w", id, storage.ErrNotFound)
	}
	delete(s.bookings, id)
	s.forgetLocked(id)
	return nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return session.Session{}, fmt.Errorf("session %s: %w", sess.ID, storage.ErrConflict)
	}
	if sess.BookingID != "" {
		if _, ok := s.bookings[sess.BookingID]; !ok {
			return session.Session{}, fmt.Errorf("session booking %s: %w", sess.BookingID, storage.ErrInvalid)
		}
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	s.sessions[sess.ID] = sess
	s.trackLocked(sess.ID)
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) ListSessions(_ context.Context, userID string) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, sess := range s.sessions {
		if userID == "" || sess.UserID == userID {
			ids = append(ids, id)
		}
	}
	s.sortLocked(ids)

	result := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.sessions[id])
	}
	return result, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	delete(s.sessions, id)
	s.forgetLocked(id)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			s.forgetLocked(id)
			removed++
		}
	}
	return removed, nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneBooking(b booking.Booking) booking.Booking {
	if b.StartsAt != nil {
		t := *b.StartsAt
		b.StartsAt = &t
	}
	if b.EndsAt != nil {
		t := *b.EndsAt
		b.EndsAt = &t
	}
	return b
}
