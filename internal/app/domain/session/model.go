package session

import "time"

// Session is an authenticated login. BookingID is set when the session was
// opened from a booking flow.
type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	BookingID string    `json:"booking_id,omitempty" db:"booking_id"`
	UserAgent string    `json:"user_agent,omitempty" db:"user_agent"`
	IP        string    `json:"ip,omitempty" db:"ip"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TTL returns the remaining lifetime at now, zero once expired.
func (s Session) TTL(now time.Time) time.Duration {
	if s.Expired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
