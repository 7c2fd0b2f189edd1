package service

import (
	"context"
	"log/slog"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/engine"
	"github.com/liveshoplabs/reserve/internal/store"
)

// CartService handles direct add-to-cart holds and mutations of existing
// holds. Stock always moves through the ledger, never by direct writes.
type CartService struct {
	ledger    *engine.StockLedger
	scheduler *engine.CartHoldScheduler
	holds     *store.HoldStore
	clock     clock.Clock
	logger    *slog.Logger
}

// NewCartService creates a CartService.
func NewCartService(
	ledger *engine.StockLedger,
	scheduler *engine.CartHoldScheduler,
	holds *store.HoldStore,
	clk clock.Clock,
	logger *slog.Logger,
) *CartService {
	return &CartService{
		ledger:    ledger,
		scheduler: scheduler,
		holds:     holds,
		clock:     clk,
		logger:    logger,
	}
}

// Add creates a hold straight from a listing. Always-available products
// get an untimed hold without touching the ledger; limited stock is
// reserved and held against the cart timeout.
func (s *CartService) Add(ctx context.Context, userID, productID string, quantity int64, color, size string) (domain.CartHold, error) {
	if userID == "" {
		return domain.CartHold{}, &domain.ValidationError{Message: "user_id is required"}
	}
	if productID == "" {
		return domain.CartHold{}, &domain.ValidationError{Message: "product_id is required"}
	}
	if quantity < 1 || quantity > maxReservationQuantity {
		return domain.CartHold{}, &domain.ValidationError{Message: "quantity must be between 1 and 50"}
	}

	product, err := s.ledger.Product(ctx, productID)
	if err != nil {
		return domain.CartHold{}, err
	}
	if product.Retired {
		return domain.CartHold{}, domain.ErrProductRetired
	}

	if product.AlwaysAvailable {
		return s.scheduler.StartCartHold(ctx, userID, productID, quantity, color, size, false)
	}

	if _, err := s.ledger.Reserve(ctx, productID, quantity); err != nil {
		return domain.CartHold{}, err
	}
	hold, err := s.scheduler.StartCartHold(ctx, userID, productID, quantity, color, size, true)
	if err != nil {
		if _, relErr := s.ledger.Release(ctx, productID, quantity); relErr != nil {
			s.logger.Error("rollback release failed",
				slog.String("product_id", productID), slog.String("error", relErr.Error()))
		}
		return domain.CartHold{}, err
	}
	return hold, nil
}

// UpdateQuantity re-validates a hold's quantity against remaining stock
// within the unchanged TTL. Increases reserve the difference before the
// row changes; decreases release the surplus after, so a lost guard never
// leaks stock.
func (s *CartService) UpdateQuantity(ctx context.Context, holdID, userID string, quantity int64) (domain.CartHold, error) {
	if quantity < 1 || quantity > maxReservationQuantity {
		return domain.CartHold{}, &domain.ValidationError{Message: "quantity must be between 1 and 50"}
	}

	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return domain.CartHold{}, err
	}
	if userID != "" && hold.UserID != userID {
		return domain.CartHold{}, domain.ErrNotOwner
	}
	if hold.Status != domain.HoldStatusActive {
		return domain.CartHold{}, domain.ErrHoldAlreadyTerminal
	}

	now := s.clock.Now()
	if hold.Expired(now) {
		// The TTL ran out; the next scan tick owns this hold.
		return domain.CartHold{}, domain.ErrHoldAlreadyTerminal
	}

	delta := quantity - hold.Quantity
	if delta == 0 {
		return hold, nil
	}

	product, err := s.ledger.Product(ctx, hold.ProductID)
	if err != nil {
		return domain.CartHold{}, err
	}

	if delta > 0 && !product.AlwaysAvailable {
		if _, err := s.ledger.Reserve(ctx, hold.ProductID, delta); err != nil {
			return domain.CartHold{}, err
		}
	}

	ok, err := s.holds.UpdateQuantity(ctx, holdID, quantity, now)
	if err == nil && !ok {
		err = domain.ErrHoldAlreadyTerminal
	}
	if err != nil {
		if delta > 0 && !product.AlwaysAvailable {
			if _, relErr := s.ledger.Release(ctx, hold.ProductID, delta); relErr != nil {
				s.logger.Error("rollback release failed",
					slog.String("hold_id", holdID), slog.String("error", relErr.Error()))
			}
		}
		return domain.CartHold{}, err
	}

	if delta < 0 && !product.AlwaysAvailable {
		if _, err := s.ledger.Release(ctx, hold.ProductID, -delta); err != nil {
			s.logger.Error("surplus release failed",
				slog.String("hold_id", holdID), slog.String("error", err.Error()))
		}
	}

	hold.Quantity = quantity
	hold.UpdatedAt = now
	return hold, nil
}

// Remove deletes a hold from the cart, releasing its stock and promoting
// the next waiter.
func (s *CartService) Remove(ctx context.Context, holdID, userID string) (domain.CartHold, error) {
	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return domain.CartHold{}, err
	}
	if userID != "" && hold.UserID != userID {
		return domain.CartHold{}, domain.ErrNotOwner
	}
	return s.scheduler.Cancel(ctx, holdID)
}

// Complete marks a hold's checkout as succeeded. Called by the checkout
// module after order creation; the stock stays consumed.
func (s *CartService) Complete(ctx context.Context, holdID string) (domain.CartHold, error) {
	return s.scheduler.Complete(ctx, holdID)
}

// Get returns a hold readable by its owner.
func (s *CartService) Get(ctx context.Context, holdID, userID string) (domain.CartHold, error) {
	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return domain.CartHold{}, err
	}
	if userID != "" && hold.UserID != userID {
		return domain.CartHold{}, domain.ErrNotOwner
	}
	return hold, nil
}

// List returns all of a user's holds, newest first.
func (s *CartService) List(ctx context.Context, userID string) ([]domain.CartHold, error) {
	return s.holds.ListByUser(ctx, userID)
}
