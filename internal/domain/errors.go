package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrInsufficientStock      = errors.New("insufficient_stock")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrDuplicateReservation   = errors.New("duplicate_reservation")
	ErrHoldAlreadyTerminal    = errors.New("hold_already_terminal")
	ErrProductNotFound        = errors.New("product_not_found")
	ErrProductRetired         = errors.New("product_retired")
	ErrReservationNotFound    = errors.New("reservation_not_found")
	ErrReservationNotActive   = errors.New("reservation_not_active")
	ErrHoldNotFound           = errors.New("hold_not_found")
	ErrNotOwner               = errors.New("not_owner")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
