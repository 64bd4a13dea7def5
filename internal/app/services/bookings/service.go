package bookings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bookly/service_layer/internal/app/domain/booking"
	"github.com/bookly/service_layer/internal/app/storage"
	"github.com/bookly/service_layer/pkg/logger"
)

// CreateInput carries the fields accepted when creating a booking. Contact
// fields default to the owning user's profile.
type CreateInput struct {
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Position  string     `json:"position"`
	Note      string     `json:"note"`
	StartsAt  *time.Time `json:"starts_at"`
	EndsAt    *time.Time `json:"ends_at"`
}

// Service manages bookings.
type Service struct {
	users storage.UserStore
	store storage.BookingStore
	log   *logger.Logger
}

// New constructs a booking service.
func New(users storage.UserStore, store storage.BookingStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("bookings")
	}
	return &Service{users: users, store: store, log: log}
}

// Create books on behalf of userID.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (booking.Booking, error) {
	if strings.TrimSpace(userID) == "" {
		return booking.Booking{}, fmt.Errorf("user_id is required")
	}
	owner, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("user validation failed: %w", err)
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return booking.Booking{}, fmt.Errorf("ends_at must be after starts_at")
	}

	b := booking.Booking{
		UserID:    owner.ID,
		Email:     firstNonEmpty(in.Email, owner.Email),
		FirstName: firstNonEmpty(in.FirstName, owner.FirstName),
		LastName:  firstNonEmpty(in.LastName, owner.LastName),
		Position:  firstNonEmpty(in.Position, owner.Position),
		Note:      strings.TrimSpace(in.Note),
		StartsAt:  utc(in.StartsAt),
		EndsAt:    utc(in.EndsAt),
		IsActive:  true,
	}
	b.Email = strings.ToLower(b.Email)

	created, err := s.store.CreateBooking(ctx, b)
	if err != nil {
		return booking.Booking{}, err
	}
	s.log.WithField("booking_id", created.ID).
		WithField("user_id", created.UserID).
		Info("booking created")
	return created, nil
}

// Get fetches a booking.
func (s *Service) Get(ctx context.Context, id string) (booking.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// List lists bookings for a user; an empty userID lists all bookings.
func (s *Service) List(ctx context.Context, userID string) ([]booking.Booking, error) {
	return s.store.ListBookings(ctx, userID)
}

// Cancel marks a booking inactive. Cancelling twice is not an error.
func (s *Service) Cancel(ctx context.Context, id string) (booking.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return booking.Booking{}, err
	}
	if !b.IsActive {
		return b, nil
	}
	b.IsActive = false
	updated, err := s.store.UpdateBooking(ctx, b)
	if err != nil {
		return booking.Booking{}, err
	}
	s.log.WithField("booking_id", id).Info("booking cancelled")
	return updated, nil
}

// Delete removes a booking.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteBooking(ctx, id); err != nil {
		return err
	}
	s.log.WithField("booking_id", id).Info("booking deleted")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
