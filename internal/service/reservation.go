package service

import (
	"context"

	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/engine"
)

// maxReservationQuantity caps a single purchase attempt. Live drops sell
// single-digit quantities; anything larger is a malformed request.
const maxReservationQuantity = 50

// ReservationService validates reservation requests and delegates queue
// decisions to the waitlist coordinator.
type ReservationService struct {
	coordinator *engine.WaitlistCoordinator
}

// NewReservationService creates a ReservationService.
func NewReservationService(coordinator *engine.WaitlistCoordinator) *ReservationService {
	return &ReservationService{coordinator: coordinator}
}

// Join attempts a purchase: immediate promotion when stock allows,
// otherwise a tail position in the product's waitlist.
func (s *ReservationService) Join(ctx context.Context, userID, productID string, quantity int64) (engine.JoinResult, error) {
	if productID == "" {
		return engine.JoinResult{}, &domain.ValidationError{Message: "product_id is required"}
	}
	if quantity < 1 || quantity > maxReservationQuantity {
		return engine.JoinResult{}, &domain.ValidationError{Message: "quantity must be between 1 and 50"}
	}
	return s.coordinator.Join(ctx, productID, userID, quantity)
}

// Get returns a reservation with its derived queue position. Only the
// owner may read it.
func (s *ReservationService) Get(ctx context.Context, reservationID, userID string) (domain.ReservationEntry, int, error) {
	entry, err := s.coordinator.Get(ctx, reservationID)
	if err != nil {
		return domain.ReservationEntry{}, 0, err
	}
	if entry.UserID != userID {
		return domain.ReservationEntry{}, 0, domain.ErrNotOwner
	}
	pos, err := s.coordinator.QueuePosition(ctx, entry)
	if err != nil {
		return domain.ReservationEntry{}, 0, err
	}
	return entry, pos, nil
}

// Cancel removes the user's reservation from the queue or releases a
// promoted entry's purchase window.
func (s *ReservationService) Cancel(ctx context.Context, reservationID, userID string) (domain.ReservationEntry, error) {
	return s.coordinator.Cancel(ctx, reservationID, userID)
}
