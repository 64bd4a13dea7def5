package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/bookly/service_layer/internal/app/domain/booking"
	"github.com/bookly/service_layer/internal/app/domain/session"
	"github.com/bookly/service_layer/internal/app/domain/user"
	"github.com/bookly/service_layer/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateUserConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	_, err := store.CreateUser(context.Background(), user.User{Email: "ann@example.com"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserAssignsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "ann@example.com", "hash", "Ann", "Lee", "", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := store.CreateUser(context.Background(), user.User{
		Email: "ann@example.com", Hash: "hash", FirstName: "Ann", LastName: "Lee", IsActive: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == "" || u.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps, got %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetUser(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetUserByEmailScans(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "email", "hash", "first_name", "last_name", "position", "is_active", "created_at", "updated_at"}).
		AddRow("u1", "ann@example.com", "hash", "Ann", "Lee", "CTO", true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(email\\)").
		WithArgs("ANN@example.com").
		WillReturnRows(rows)

	u, err := store.GetUserByEmail(context.Background(), "ANN@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u.ID != "u1" || u.Position != "CTO" || !u.IsActive {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestListBookingsFiltersByUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "user_id", "email", "first_name", "last_name", "position", "note", "starts_at", "ends_at", "is_active", "created_at", "updated_at"}).
		AddRow("b1", "u1", "ann@example.com", "Ann", "Lee", "", "", now, nil, true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM bookings").
		WithArgs("u1").
		WillReturnRows(rows)

	list, err := store.ListBookings(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	if len(list) != 1 || list[0].StartsAt == nil || list[0].EndsAt != nil {
		t.Fatalf("unexpected bookings %+v", list)
	}
}

func TestDeleteBookingNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM bookings").
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteBooking(context.Background(), "b1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMalformedIDReadsAsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	badUUID := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs("abc").
		WillReturnError(badUUID)
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs("abc").
		WillReturnError(badUUID)
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("abc").
		WillReturnError(badUUID)

	ctx := context.Background()
	if _, err := store.GetUser(ctx, "abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get user: expected not found, got %v", err)
	}
	if _, err := store.GetBooking(ctx, "abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get booking: expected not found, got %v", err)
	}
	if err := store.DeleteSession(ctx, "abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete session: expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateSessionBadBookingReference(t *testing.T) {
	cases := []struct {
		name string
		err  *pq.Error
	}{
		{"malformed", &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "nope"`}},
		{"missing", &pq.Error{Code: "23503", Message: "violates foreign key constraint"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec("INSERT INTO sessions").WillReturnError(tc.err)

			_, err := store.CreateSession(context.Background(), session.Session{
				UserID:    "2f1b6f0e-4f87-4b7c-9df4-3a5a1b0c9d11",
				BookingID: "nope",
				ExpiresAt: time.Now().Add(time.Hour),
			})
			if !errors.Is(err, storage.ErrInvalid) {
				t.Fatalf("expected invalid reference, got %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("DELETE FROM sessions WHERE expires_at").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteExpiredSessions(context.Background(), now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 removed, got %d", n)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)

	ctx := context.Background()
	u, err := store.CreateUser(ctx, user.User{Email: "it-" + time.Now().Format("150405.000000") + "@example.com", FirstName: "It", LastName: "Test", IsActive: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	b, err := store.CreateBooking(ctx, booking.Booking{UserID: u.ID, Email: u.Email, IsActive: true})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}

	sess := session.Session{UserID: u.ID, BookingID: b.ID, ExpiresAt: time.Now().Add(time.Hour)}
	if _, err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
}
