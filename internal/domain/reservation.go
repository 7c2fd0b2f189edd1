package domain

import "time"

// ReservationStatus represents the lifecycle state of a reservation entry.
type ReservationStatus string

const (
	ReservationStatusWaiting   ReservationStatus = "WAITING"
	ReservationStatusPromoted  ReservationStatus = "PROMOTED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
)

// Terminal reports whether the status is immutable.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusExpired, ReservationStatusCancelled, ReservationStatusFulfilled:
		return true
	}
	return false
}

// Active reports whether the entry still occupies the purchase pipeline.
// At most one active entry per (product, user) may exist at a time.
func (s ReservationStatus) Active() bool {
	return s == ReservationStatusWaiting || s == ReservationStatusPromoted
}

// ReservationEntry is a buyer's place in the waitlist for a product, or,
// once promoted, their time-boxed purchase window. Queue position is
// derived from FIFO order of WAITING entries and never stored.
type ReservationEntry struct {
	ID         string
	ProductID  string
	UserID     string
	Quantity   int64
	Status     ReservationStatus
	CreatedAt  time.Time
	PromotedAt *time.Time
	ExpiresAt  *time.Time // set only while PROMOTED
}
