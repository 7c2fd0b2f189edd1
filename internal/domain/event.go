package domain

import "time"

// StockDelta describes a single stock-level change. Deltas are ephemeral:
// they are broadcast to subscribers and appended to the audit log, never
// used as a source of truth.
type StockDelta struct {
	ProductID        string
	PreviousQuantity int64
	NewQuantity      int64
	EmittedAt        time.Time
}

// SoldOut reports whether the delta drained the product.
func (d StockDelta) SoldOut() bool {
	return d.NewQuantity == 0
}

// Notification event types consumed by the external notification trigger.
const (
	EventReservationPromoted = "reservation.promoted"
	EventCartExpired         = "cart.expired"
	EventPaymentReminder     = "payment.reminder"
)

// NotificationEvent is the envelope handed to the notification trigger.
// Rendering and delivery are the trigger's concern, not ours.
type NotificationEvent struct {
	Type          string
	UserID        string
	ProductID     string
	ReservationID string
	HoldID        string
}
