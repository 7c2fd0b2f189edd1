package engine

import "github.com/liveshoplabs/reserve/internal/domain"

// EventPublisher pushes state-change events to subscribed clients without
// the engine depending on the broadcast layer directly. Delivery is
// best-effort and happens after the state transition has committed.
type EventPublisher interface {
	PublishStockDelta(d domain.StockDelta)
	PublishReservationUpdate(e domain.ReservationEntry, queuePosition int)
	PublishHoldUpdate(h domain.CartHold)
}

// NotificationTrigger receives domain events for rendering and delivery.
// The engine does not know or care how messages reach the user.
type NotificationTrigger interface {
	Emit(ev domain.NotificationEvent)
}
