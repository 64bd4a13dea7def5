package booking

import "time"

// Booking is a reservation made by a user. Contact fields are captured at
// booking time and may differ from the owning user's profile.
type Booking struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Email     string     `json:"email" db:"email"`
	FirstName string     `json:"first_name" db:"first_name"`
	LastName  string     `json:"last_name" db:"last_name"`
	Position  string     `json:"position,omitempty" db:"position"`
	Note      string     `json:"note,omitempty" db:"note"`
	StartsAt  *time.Time `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt    *time.Time `json:"ends_at,omitempty" db:"ends_at"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
