package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/metrics"
	"github.com/liveshoplabs/reserve/internal/store"
)

// WaitlistCoordinator owns the per-product FIFO queue of reservation
// requests and decides promotions against the stock ledger. Promotions for
// one product are serialized by a per-product lock; independent products
// proceed in parallel.
type WaitlistCoordinator struct {
	ledger       *StockLedger
	reservations *store.ReservationStore
	holds        *store.HoldStore
	scheduler    *CartHoldScheduler
	clock        clock.Clock
	notifier     NotificationTrigger
	publisher    EventPublisher
	logger       *slog.Logger

	mu           sync.Mutex
	productLocks map[string]*sync.Mutex
}

// NewWaitlistCoordinator creates a coordinator. notifier and publisher may
// be nil.
func NewWaitlistCoordinator(
	ledger *StockLedger,
	reservations *store.ReservationStore,
	holds *store.HoldStore,
	scheduler *CartHoldScheduler,
	clk clock.Clock,
	notifier NotificationTrigger,
	publisher EventPublisher,
	logger *slog.Logger,
) *WaitlistCoordinator {
	return &WaitlistCoordinator{
		ledger:       ledger,
		reservations: reservations,
		holds:        holds,
		scheduler:    scheduler,
		clock:        clk,
		notifier:     notifier,
		publisher:    publisher,
		logger:       logger,
		productLocks: make(map[string]*sync.Mutex),
	}
}

// productLock returns the promotion lock for a product, creating it on
// first use.
func (c *WaitlistCoordinator) productLock(productID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.productLocks[productID]
	if !ok {
		l = &sync.Mutex{}
		c.productLocks[productID] = l
	}
	return l
}

// JoinResult is the outcome of a waitlist join: either an immediately
// promoted entry with its hold, or a WAITING entry with a queue position.
type JoinResult struct {
	Entry         domain.ReservationEntry
	Hold          *domain.CartHold
	QueuePosition int
}

// Join enqueues a purchase attempt. When stock is available and nobody is
// ahead in the queue the entry is created directly in PROMOTED with a
// fresh promotion window; otherwise it is appended to the tail of the
// WAITING queue. A user may hold at most one WAITING/PROMOTED entry per
// product.
func (c *WaitlistCoordinator) Join(ctx context.Context, productID, userID string, qty int64) (JoinResult, error) {
	if qty <= 0 {
		return JoinResult{}, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}
	if userID == "" {
		return JoinResult{}, &domain.ValidationError{Message: "user_id is required"}
	}

	product, err := c.ledger.Product(ctx, productID)
	if err != nil {
		return JoinResult{}, err
	}
	if product.Retired {
		return JoinResult{}, domain.ErrProductRetired
	}

	if exists, err := c.reservations.ActiveExists(ctx, productID, userID); err != nil {
		return JoinResult{}, err
	} else if exists {
		return JoinResult{}, domain.ErrDuplicateReservation
	}

	lock := c.productLock(productID)
	lock.Lock()
	defer lock.Unlock()

	now := c.clock.Now()
	entry := domain.ReservationEntry{
		ID:        uuid.New().String(),
		ProductID: productID,
		UserID:    userID,
		Quantity:  qty,
		Status:    domain.ReservationStatusWaiting,
		CreatedAt: now,
	}

	// Only an empty queue may be bypassed: joining ahead of existing
	// waiters would break FIFO fairness even when stock is momentarily
	// available.
	waiting, err := c.reservations.CountWaiting(ctx, productID)
	if err != nil {
		return JoinResult{}, err
	}

	if waiting == 0 {
		if _, err := c.ledger.Reserve(ctx, productID, qty); err == nil {
			expires := now.Add(c.scheduler.PromotionWindow())
			entry.Status = domain.ReservationStatusPromoted
			entry.PromotedAt = &now
			entry.ExpiresAt = &expires

			if err := c.reservations.Create(ctx, entry); err != nil {
				// The unique index fired after we took the stock; undo.
				if _, relErr := c.ledger.Release(ctx, productID, qty); relErr != nil {
					c.logger.Error("rollback release failed",
						slog.String("product_id", productID), slog.String("error", relErr.Error()))
				}
				return JoinResult{}, err
			}

			hold, err := c.scheduler.StartPromotionHold(ctx, entry)
			if err != nil {
				// Without a hold the expiry scan cannot reclaim the stock;
				// undo the whole join so the caller can retry cleanly.
				if _, relErr := c.ledger.Release(ctx, productID, qty); relErr != nil {
					c.logger.Error("rollback release failed",
						slog.String("product_id", productID), slog.String("error", relErr.Error()))
				}
				if _, trErr := c.reservations.Transition(ctx, entry.ID,
					domain.ReservationStatusPromoted, domain.ReservationStatusCancelled, nil, nil); trErr != nil {
					c.logger.Error("rollback transition failed",
						slog.String("reservation_id", entry.ID), slog.String("error", trErr.Error()))
				}
				return JoinResult{}, err
			}

			metrics.ReservationsJoinedTotal.Inc()
			metrics.PromotionsTotal.Inc()
			c.emitPromoted(entry, hold)
			return JoinResult{Entry: entry, Hold: &hold}, nil
		} else if !errors.Is(err, domain.ErrInsufficientStock) {
			return JoinResult{}, err
		}
	}

	if err := c.reservations.Create(ctx, entry); err != nil {
		return JoinResult{}, err
	}
	pos, err := c.reservations.QueuePosition(ctx, entry)
	if err != nil {
		return JoinResult{}, err
	}

	metrics.ReservationsJoinedTotal.Inc()
	if c.publisher != nil {
		c.publisher.PublishReservationUpdate(entry, pos)
	}
	return JoinResult{Entry: entry, QueuePosition: pos}, nil
}

// Cancel removes a WAITING entry, or releases a PROMOTED entry's stock via
// its hold and cascades a promotion attempt. Cancelling a terminal entry
// returns reservation_not_active. Cancel shares the hold's transition
// guard with expiry, so at most one of the two paths releases the stock.
func (c *WaitlistCoordinator) Cancel(ctx context.Context, reservationID, userID string) (domain.ReservationEntry, error) {
	entry, err := c.reservations.Get(ctx, reservationID)
	if err != nil {
		return domain.ReservationEntry{}, err
	}
	if userID != "" && entry.UserID != userID {
		return domain.ReservationEntry{}, domain.ErrNotOwner
	}

	switch entry.Status {
	case domain.ReservationStatusWaiting:
		ok, err := c.reservations.Transition(ctx, entry.ID,
			domain.ReservationStatusWaiting, domain.ReservationStatusCancelled, nil, nil)
		if err != nil {
			return domain.ReservationEntry{}, err
		}
		if !ok {
			return domain.ReservationEntry{}, domain.ErrReservationNotActive
		}
		entry.Status = domain.ReservationStatusCancelled
		if c.publisher != nil {
			c.publisher.PublishReservationUpdate(entry, 0)
		}
		return entry, nil

	case domain.ReservationStatusPromoted:
		hold, err := c.holds.GetByReservation(ctx, entry.ID)
		if err != nil {
			if !errors.Is(err, domain.ErrHoldNotFound) {
				return domain.ReservationEntry{}, err
			}
			// Promoted without a hold row should not happen; fall back to
			// a direct transition plus release.
			ok, err := c.reservations.Transition(ctx, entry.ID,
				domain.ReservationStatusPromoted, domain.ReservationStatusCancelled, nil, nil)
			if err != nil {
				return domain.ReservationEntry{}, err
			}
			if !ok {
				return domain.ReservationEntry{}, domain.ErrReservationNotActive
			}
			if _, err := c.ledger.Release(ctx, entry.ProductID, entry.Quantity); err != nil {
				c.logger.Error("cancel release failed",
					slog.String("reservation_id", entry.ID), slog.String("error", err.Error()))
			}
			entry.Status = domain.ReservationStatusCancelled
			if _, err := c.PromoteNext(ctx, entry.ProductID); err != nil {
				c.logger.Error("promotion after cancel failed",
					slog.String("product_id", entry.ProductID), slog.String("error", err.Error()))
			}
			return entry, nil
		}

		// The hold's guarded transition releases stock, cancels the
		// reservation row, and promotes the next waiter.
		if _, err := c.scheduler.Cancel(ctx, hold.ID); err != nil {
			if errors.Is(err, domain.ErrHoldAlreadyTerminal) {
				return domain.ReservationEntry{}, domain.ErrReservationNotActive
			}
			return domain.ReservationEntry{}, err
		}
		entry.Status = domain.ReservationStatusCancelled
		if c.publisher != nil {
			c.publisher.PublishReservationUpdate(entry, 0)
		}
		return entry, nil

	default:
		return domain.ReservationEntry{}, domain.ErrReservationNotActive
	}
}

// PromoteNext pops the oldest WAITING entry for a product and attempts to
// reserve its quantity. On a lost race the entry stays WAITING and the
// call is safe to repeat. Entries cancelled between the pop and the
// transition hand their stock to the next waiter.
func (c *WaitlistCoordinator) PromoteNext(ctx context.Context, productID string) (*domain.ReservationEntry, error) {
	lock := c.productLock(productID)
	lock.Lock()
	defer lock.Unlock()

	for {
		entry, err := c.reservations.OldestWaiting(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				return nil, nil // empty queue
			}
			return nil, err
		}

		if _, err := c.ledger.Reserve(ctx, productID, entry.Quantity); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrProductRetired) {
				return nil, nil // nothing to hand out; entry stays WAITING
			}
			return nil, err
		}

		now := c.clock.Now()
		expires := now.Add(c.scheduler.PromotionWindow())
		ok, err := c.reservations.Transition(ctx, entry.ID,
			domain.ReservationStatusWaiting, domain.ReservationStatusPromoted, &now, &expires)
		if err != nil {
			if _, relErr := c.ledger.Release(ctx, productID, entry.Quantity); relErr != nil {
				c.logger.Error("rollback release failed",
					slog.String("product_id", productID), slog.String("error", relErr.Error()))
			}
			return nil, err
		}
		if !ok {
			// Entry left WAITING concurrently (user cancel); give the
			// stock to the next in line.
			if _, relErr := c.ledger.Release(ctx, productID, entry.Quantity); relErr != nil {
				c.logger.Error("rollback release failed",
					slog.String("product_id", productID), slog.String("error", relErr.Error()))
				return nil, relErr
			}
			continue
		}

		entry.Status = domain.ReservationStatusPromoted
		entry.PromotedAt = &now
		entry.ExpiresAt = &expires

		hold, err := c.scheduler.StartPromotionHold(ctx, entry)
		if err != nil {
			// Put the entry back at the head of the queue; the next
			// trigger retries the promotion.
			if _, relErr := c.ledger.Release(ctx, productID, entry.Quantity); relErr != nil {
				c.logger.Error("rollback release failed",
					slog.String("product_id", productID), slog.String("error", relErr.Error()))
			}
			if _, trErr := c.reservations.Transition(ctx, entry.ID,
				domain.ReservationStatusPromoted, domain.ReservationStatusWaiting, nil, nil); trErr != nil {
				c.logger.Error("rollback transition failed",
					slog.String("reservation_id", entry.ID), slog.String("error", trErr.Error()))
			}
			return nil, err
		}

		metrics.PromotionsTotal.Inc()
		c.emitPromoted(entry, hold)
		return &entry, nil
	}
}

// Drain promotes waiting entries in FIFO order until the queue empties or
// stock runs out, returning how many were promoted. Called after a restock
// so freed units reach the queue without waiting for a hold to expire.
func (c *WaitlistCoordinator) Drain(ctx context.Context, productID string) (int, error) {
	promoted := 0
	for {
		entry, err := c.PromoteNext(ctx, productID)
		if err != nil {
			return promoted, err
		}
		if entry == nil {
			return promoted, nil
		}
		promoted++
	}
}

// QueuePosition derives the 1-based position of a WAITING entry.
func (c *WaitlistCoordinator) QueuePosition(ctx context.Context, e domain.ReservationEntry) (int, error) {
	return c.reservations.QueuePosition(ctx, e)
}

// Get returns a reservation entry by ID.
func (c *WaitlistCoordinator) Get(ctx context.Context, id string) (domain.ReservationEntry, error) {
	return c.reservations.Get(ctx, id)
}

func (c *WaitlistCoordinator) emitPromoted(entry domain.ReservationEntry, hold domain.CartHold) {
	if c.notifier != nil {
		c.notifier.Emit(domain.NotificationEvent{
			Type:          domain.EventReservationPromoted,
			UserID:        entry.UserID,
			ProductID:     entry.ProductID,
			ReservationID: entry.ID,
			HoldID:        hold.ID,
		})
	}
	if c.publisher != nil {
		c.publisher.PublishReservationUpdate(entry, 0)
		c.publisher.PublishHoldUpdate(hold)
	}
}

var _ Promoter = (*WaitlistCoordinator)(nil)
