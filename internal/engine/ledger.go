package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/metrics"
	"github.com/liveshoplabs/reserve/internal/store"
)

// casAttempts bounds the optimistic retry loop. A mutation that loses the
// race this many times surfaces as concurrent_modification instead of
// being dropped silently.
const casAttempts = 5

// StockLedger is the authoritative counter for per-product available
// quantity. All mutations are compare-and-swap on (available_qty, version),
// so independent products proceed fully in parallel and concurrent
// reserves for the last unit produce exactly one winner.
type StockLedger struct {
	stock     *store.StockStore
	clock     clock.Clock
	publisher EventPublisher
	logger    *slog.Logger
}

// NewStockLedger creates a StockLedger. publisher may be nil.
func NewStockLedger(stock *store.StockStore, clk clock.Clock, publisher EventPublisher, logger *slog.Logger) *StockLedger {
	return &StockLedger{
		stock:     stock,
		clock:     clk,
		publisher: publisher,
		logger:    logger,
	}
}

// Product returns the current stock record for a product.
func (l *StockLedger) Product(ctx context.Context, productID string) (domain.ProductStock, error) {
	return l.stock.Get(ctx, productID)
}

// Reserve atomically subtracts qty from a product's available quantity.
// It returns the new quantity, domain.ErrInsufficientStock when not enough
// stock remains, or domain.ErrConcurrentModification after exhausting the
// CAS retry budget.
func (l *StockLedger) Reserve(ctx context.Context, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cur, err := l.stock.Get(ctx, productID)
		if err != nil {
			return 0, err
		}
		if cur.Retired {
			return 0, domain.ErrProductRetired
		}
		if cur.AvailableQuantity < qty {
			return 0, domain.ErrInsufficientStock
		}

		newQty := cur.AvailableQuantity - qty
		ok, err := l.stock.CompareAndSwap(ctx, productID, cur.Version, newQty, l.clock.Now())
		if err != nil {
			return 0, err
		}
		if ok {
			l.emitDelta(ctx, productID, cur.AvailableQuantity, newQty)
			return newQty, nil
		}

		metrics.CASConflictsTotal.Inc()
		backoff(attempt)
	}

	l.logger.Error("stock reserve exhausted CAS retries",
		slog.String("product_id", productID), slog.Int64("qty", qty))
	return 0, domain.ErrConcurrentModification
}

// Release atomically returns qty units to a product's available quantity.
// Retired products accept releases so holds referencing them can still
// unwind.
func (l *StockLedger) Release(ctx context.Context, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cur, err := l.stock.Get(ctx, productID)
		if err != nil {
			return 0, err
		}

		newQty := cur.AvailableQuantity + qty
		ok, err := l.stock.CompareAndSwap(ctx, productID, cur.Version, newQty, l.clock.Now())
		if err != nil {
			return 0, err
		}
		if ok {
			l.emitDelta(ctx, productID, cur.AvailableQuantity, newQty)
			return newQty, nil
		}

		metrics.CASConflictsTotal.Inc()
		backoff(attempt)
	}

	l.logger.Error("stock release exhausted CAS retries",
		slog.String("product_id", productID), slog.Int64("qty", qty))
	return 0, domain.ErrConcurrentModification
}

// emitDelta records and broadcasts a committed stock change. The mutation
// has already won its CAS; audit or broadcast failures never roll it back.
func (l *StockLedger) emitDelta(ctx context.Context, productID string, prev, next int64) {
	delta := domain.StockDelta{
		ProductID:        productID,
		PreviousQuantity: prev,
		NewQuantity:      next,
		EmittedAt:        l.clock.Now(),
	}
	if err := l.stock.AppendDelta(ctx, delta); err != nil {
		l.logger.Error("stock delta audit append failed",
			slog.String("product_id", productID), slog.String("error", err.Error()))
	}
	if l.publisher != nil {
		l.publisher.PublishStockDelta(delta)
	}
}

func backoff(attempt int) {
	time.Sleep(time.Duration(attempt+1) * 2 * time.Millisecond)
}
