package domain

import "time"

// HoldStatus represents the lifecycle state of a cart hold.
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "ACTIVE"
	HoldStatusExpired   HoldStatus = "EXPIRED"
	HoldStatusCompleted HoldStatus = "COMPLETED"
)

// CartHold is a TTL-bound claim on reserved stock against a user's cart.
// A hold is created either when a reservation is promoted (the promotion
// window carries forward) or on a direct add from an always-available
// listing (TimerEnabled false, no expiry). A hold leaves ACTIVE exactly
// once; EXPIRED and COMPLETED are mutually exclusive terminal states.
type CartHold struct {
	ID            string
	UserID        string
	ProductID     string
	ReservationID *string // set when the hold was created by a promotion
	Quantity      int64
	Color         string
	Size          string
	TimerEnabled  bool
	ExpiresAt     *time.Time // nil when TimerEnabled is false
	Status        HoldStatus
	ReminderSent  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the hold's TTL has elapsed at the given instant.
// Untimed holds never expire.
func (h CartHold) Expired(now time.Time) bool {
	return h.TimerEnabled && h.ExpiresAt != nil && !h.ExpiresAt.After(now)
}
