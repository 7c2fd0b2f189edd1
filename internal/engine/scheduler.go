package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/metrics"
	"github.com/liveshoplabs/reserve/internal/store"
)

// Promoter promotes the next waitlist entry for a product after stock is
// freed. Declared here so the scheduler does not depend on the coordinator
// directly.
type Promoter interface {
	PromoteNext(ctx context.Context, productID string) (*domain.ReservationEntry, error)
}

// holdItem is the in-memory expiry index entry for an ACTIVE timed hold.
type holdItem struct {
	ExpiresAt time.Time
	HoldID    string
}

func holdItemLess(a, b holdItem) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return a.HoldID < b.HoldID
}

// releaseJob is a stock release that failed during an expiry and is
// retried on subsequent ticks.
type releaseJob struct {
	ProductID string
	Quantity  int64
}

// CartHoldScheduler tracks TTL-bound cart holds and expires them on a
// fixed interval. The durable hold row is authoritative; the btree index
// only orders the scan. TTLs are fixed at creation and never extended.
type CartHoldScheduler struct {
	holds        *store.HoldStore
	reservations *store.ReservationStore
	ledger       *StockLedger
	clock        clock.Clock
	logger       *slog.Logger
	notifier     NotificationTrigger
	publisher    EventPublisher
	promoter     Promoter

	promotionWindow time.Duration
	cartTimeout     time.Duration
	interval        time.Duration

	mu              sync.Mutex
	index           *btree.BTreeG[holdItem]
	pendingReleases []releaseJob
}

// NewCartHoldScheduler creates a scheduler. notifier and publisher may be
// nil; the promoter is wired afterwards via SetPromoter since the
// coordinator also depends on the scheduler.
func NewCartHoldScheduler(
	holds *store.HoldStore,
	reservations *store.ReservationStore,
	ledger *StockLedger,
	clk clock.Clock,
	promotionWindow, cartTimeout, interval time.Duration,
	notifier NotificationTrigger,
	publisher EventPublisher,
	logger *slog.Logger,
) *CartHoldScheduler {
	const degree = 32
	return &CartHoldScheduler{
		holds:           holds,
		reservations:    reservations,
		ledger:          ledger,
		clock:           clk,
		logger:          logger,
		notifier:        notifier,
		publisher:       publisher,
		promotionWindow: promotionWindow,
		cartTimeout:     cartTimeout,
		interval:        interval,
		index:           btree.NewG[holdItem](degree, holdItemLess),
	}
}

// SetPromoter wires the waitlist coordinator in after construction.
func (s *CartHoldScheduler) SetPromoter(p Promoter) {
	s.promoter = p
}

// PromotionWindow returns the TTL granted to promoted reservations.
func (s *CartHoldScheduler) PromotionWindow() time.Duration {
	return s.promotionWindow
}

// StartPromotionHold creates the ACTIVE hold backing a freshly promoted
// reservation. The reservation's expiry carries forward unchanged.
func (s *CartHoldScheduler) StartPromotionHold(ctx context.Context, e domain.ReservationEntry) (domain.CartHold, error) {
	if e.ExpiresAt == nil {
		return domain.CartHold{}, &domain.ValidationError{Message: "promoted reservation has no expiry"}
	}
	now := s.clock.Now()
	resID := e.ID
	hold := domain.CartHold{
		ID:            uuid.New().String(),
		UserID:        e.UserID,
		ProductID:     e.ProductID,
		ReservationID: &resID,
		Quantity:      e.Quantity,
		TimerEnabled:  true,
		ExpiresAt:     e.ExpiresAt,
		Status:        domain.HoldStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.holds.Create(ctx, hold); err != nil {
		return domain.CartHold{}, err
	}
	s.track(hold)
	return hold, nil
}

// StartCartHold creates a direct add-to-cart hold. Always-available
// listings get an untimed hold; everything else gets the configured cart
// timeout.
func (s *CartHoldScheduler) StartCartHold(ctx context.Context, userID, productID string, qty int64, color, size string, timed bool) (domain.CartHold, error) {
	now := s.clock.Now()
	hold := domain.CartHold{
		ID:           uuid.New().String(),
		UserID:       userID,
		ProductID:    productID,
		Quantity:     qty,
		Color:        color,
		Size:         size,
		TimerEnabled: timed,
		Status:       domain.HoldStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if timed {
		expires := now.Add(s.cartTimeout)
		hold.ExpiresAt = &expires
	}
	if err := s.holds.Create(ctx, hold); err != nil {
		return domain.CartHold{}, err
	}
	s.track(hold)
	return hold, nil
}

// Complete transitions a hold ACTIVE -> COMPLETED after a successful
// checkout. This is the only terminal path that does not release stock:
// the order consumed it. Completing an already-terminal hold is a logged
// no-op returning the current state.
func (s *CartHoldScheduler) Complete(ctx context.Context, holdID string) (domain.CartHold, error) {
	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return domain.CartHold{}, err
	}

	now := s.clock.Now()
	ok, err := s.holds.Transition(ctx, holdID, domain.HoldStatusCompleted, now)
	if err != nil {
		return domain.CartHold{}, err
	}
	if !ok {
		s.logger.Info("complete on terminal hold ignored",
			slog.String("hold_id", holdID), slog.String("status", string(hold.Status)))
		return hold, domain.ErrHoldAlreadyTerminal
	}

	s.untrack(hold)
	hold.Status = domain.HoldStatusCompleted
	hold.UpdatedAt = now

	if hold.ReservationID != nil {
		if _, err := s.reservationTransition(ctx, *hold.ReservationID, domain.ReservationStatusFulfilled); err != nil {
			s.logger.Error("mark reservation fulfilled failed",
				slog.String("reservation_id", *hold.ReservationID), slog.String("error", err.Error()))
		}
	}

	metrics.HoldsCompletedTotal.Inc()
	if s.publisher != nil {
		s.publisher.PublishHoldUpdate(hold)
	}
	return hold, nil
}

// Cancel removes a hold explicitly: the guarded transition wins or loses
// against a concurrent expiry, stock is released for timed holds, and the
// next waiter is promoted. The linked reservation (if any) becomes
// CANCELLED.
func (s *CartHoldScheduler) Cancel(ctx context.Context, holdID string) (domain.CartHold, error) {
	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		return domain.CartHold{}, err
	}

	now := s.clock.Now()
	ok, err := s.holds.Transition(ctx, holdID, domain.HoldStatusExpired, now)
	if err != nil {
		return domain.CartHold{}, err
	}
	if !ok {
		s.logger.Info("cancel on terminal hold ignored",
			slog.String("hold_id", holdID), slog.String("status", string(hold.Status)))
		return hold, domain.ErrHoldAlreadyTerminal
	}

	s.untrack(hold)
	hold.Status = domain.HoldStatusExpired
	hold.UpdatedAt = now

	// Untimed holds never reserved stock: nothing to return, nobody to
	// promote.
	if hold.TimerEnabled {
		s.releaseStock(ctx, hold.ProductID, hold.Quantity)
	}

	if hold.ReservationID != nil {
		if _, err := s.reservationTransition(ctx, *hold.ReservationID, domain.ReservationStatusCancelled); err != nil {
			s.logger.Error("mark reservation cancelled failed",
				slog.String("reservation_id", *hold.ReservationID), slog.String("error", err.Error()))
		}
	}

	if s.publisher != nil {
		s.publisher.PublishHoldUpdate(hold)
	}
	if hold.TimerEnabled {
		s.promoteNext(ctx, hold.ProductID)
	}
	return hold, nil
}

// Reconcile reloads every ACTIVE timed hold into the index and immediately
// expires those whose TTL elapsed while the process was down.
func (s *CartHoldScheduler) Reconcile(ctx context.Context) error {
	holds, err := s.holds.ListActiveTimed(ctx)
	if err != nil {
		return err
	}
	for _, h := range holds {
		s.track(h)
	}
	s.logger.Info("scheduler reconciled", slog.Int("active_timed_holds", len(holds)))
	s.tick(ctx, s.clock.Now())
	return nil
}

// Start launches the background expiration scan. It stops when ctx is
// cancelled.
func (s *CartHoldScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, s.clock.Now())
			}
		}
	}()
}

// tick drains due holds from the index and expires each one. A failure on
// one hold is logged and retried next tick; it never aborts the batch.
func (s *CartHoldScheduler) tick(ctx context.Context, now time.Time) {
	s.retryPendingReleases(ctx)

	s.mu.Lock()
	var due []holdItem
	s.index.AscendLessThan(holdItem{ExpiresAt: now.Add(time.Nanosecond)}, func(it holdItem) bool {
		due = append(due, it)
		return true
	})
	for _, it := range due {
		s.index.Delete(it)
	}
	s.mu.Unlock()

	for _, it := range due {
		s.expireHold(ctx, it.HoldID)
	}

	s.sweepOrphanedPromotions(ctx, now)
	s.sendReminders(ctx, now)
}

// expireHold processes a single elapsed hold: guarded transition first, so
// a racing cancel or checkout wins at most once, then release, notify, and
// promote.
func (s *CartHoldScheduler) expireHold(ctx context.Context, holdID string) {
	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		s.logger.Error("expiry lookup failed",
			slog.String("hold_id", holdID), slog.String("error", err.Error()))
		return
	}

	now := s.clock.Now()
	ok, err := s.holds.Transition(ctx, holdID, domain.HoldStatusExpired, now)
	if err != nil {
		// Transition failed outright; requeue so the next tick retries.
		s.logger.Error("expiry transition failed",
			slog.String("hold_id", holdID), slog.String("error", err.Error()))
		s.track(hold)
		return
	}
	if !ok {
		// Already completed, cancelled, or expired elsewhere.
		return
	}

	hold.Status = domain.HoldStatusExpired
	hold.UpdatedAt = now
	metrics.HoldsExpiredTotal.Inc()

	s.releaseStock(ctx, hold.ProductID, hold.Quantity)

	if hold.ReservationID != nil {
		if _, err := s.reservationTransition(ctx, *hold.ReservationID, domain.ReservationStatusExpired); err != nil {
			s.logger.Error("mark reservation expired failed",
				slog.String("reservation_id", *hold.ReservationID), slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil {
		s.notifier.Emit(domain.NotificationEvent{
			Type:      domain.EventCartExpired,
			UserID:    hold.UserID,
			ProductID: hold.ProductID,
			HoldID:    hold.ID,
		})
	}
	if s.publisher != nil {
		s.publisher.PublishHoldUpdate(hold)
	}

	s.promoteNext(ctx, hold.ProductID)
}

// sweepOrphanedPromotions expires PROMOTED reservations whose window
// elapsed without a backing hold row (a crash between the promotion and
// the hold insert leaves the stock locked behind an entry the hold scan
// cannot see).
func (s *CartHoldScheduler) sweepOrphanedPromotions(ctx context.Context, now time.Time) {
	if s.reservations == nil {
		return
	}
	orphans, err := s.reservations.ListExpiredPromotedWithoutHold(ctx, now)
	if err != nil {
		s.logger.Error("orphaned promotion scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range orphans {
		ok, err := s.reservations.Transition(ctx, e.ID,
			domain.ReservationStatusPromoted, domain.ReservationStatusExpired, nil, nil)
		if err != nil {
			s.logger.Error("orphaned promotion expiry failed",
				slog.String("reservation_id", e.ID), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		s.logger.Warn("expired promotion without hold",
			slog.String("reservation_id", e.ID), slog.String("product_id", e.ProductID))
		s.releaseStock(ctx, e.ProductID, e.Quantity)

		e.Status = domain.ReservationStatusExpired
		e.ExpiresAt = nil
		if s.notifier != nil {
			s.notifier.Emit(domain.NotificationEvent{
				Type:          domain.EventCartExpired,
				UserID:        e.UserID,
				ProductID:     e.ProductID,
				ReservationID: e.ID,
			})
		}
		if s.publisher != nil {
			s.publisher.PublishReservationUpdate(e, 0)
		}
		s.promoteNext(ctx, e.ProductID)
	}
}

// releaseStock returns reserved quantity to the ledger. On failure the
// release is queued and retried every tick until it lands, so a transient
// store error cannot leak inventory.
func (s *CartHoldScheduler) releaseStock(ctx context.Context, productID string, qty int64) {
	if _, err := s.ledger.Release(ctx, productID, qty); err != nil {
		s.logger.Error("stock release failed, queued for retry",
			slog.String("product_id", productID),
			slog.String("error", err.Error()))
		s.mu.Lock()
		s.pendingReleases = append(s.pendingReleases, releaseJob{ProductID: productID, Quantity: qty})
		s.mu.Unlock()
	}
}

func (s *CartHoldScheduler) retryPendingReleases(ctx context.Context) {
	s.mu.Lock()
	jobs := s.pendingReleases
	s.pendingReleases = nil
	s.mu.Unlock()

	for _, job := range jobs {
		if _, err := s.ledger.Release(ctx, job.ProductID, job.Quantity); err != nil {
			s.logger.Error("stock release retry failed",
				slog.String("product_id", job.ProductID), slog.String("error", err.Error()))
			s.mu.Lock()
			s.pendingReleases = append(s.pendingReleases, job)
			s.mu.Unlock()
			continue
		}
		s.promoteNext(ctx, job.ProductID)
	}
}

// sendReminders emits a payment reminder once per promoted hold that
// crossed half of its TTL without checking out.
func (s *CartHoldScheduler) sendReminders(ctx context.Context, now time.Time) {
	if s.notifier == nil {
		return
	}
	due, err := s.holds.ListReminderDue(ctx, now)
	if err != nil {
		s.logger.Error("reminder scan failed", slog.String("error", err.Error()))
		return
	}
	for _, hold := range due {
		if hold.ReservationID == nil {
			// Direct cart holds get no payment reminder; flip the flag so
			// they drop out of the scan.
			if _, err := s.holds.MarkReminderSent(ctx, hold.ID, now); err != nil {
				s.logger.Error("reminder flag update failed",
					slog.String("hold_id", hold.ID), slog.String("error", err.Error()))
			}
			continue
		}
		ok, err := s.holds.MarkReminderSent(ctx, hold.ID, now)
		if err != nil {
			s.logger.Error("reminder flag update failed",
				slog.String("hold_id", hold.ID), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		s.notifier.Emit(domain.NotificationEvent{
			Type:          domain.EventPaymentReminder,
			UserID:        hold.UserID,
			ProductID:     hold.ProductID,
			ReservationID: *hold.ReservationID,
			HoldID:        hold.ID,
		})
	}
}

func (s *CartHoldScheduler) promoteNext(ctx context.Context, productID string) {
	if s.promoter == nil {
		return
	}
	if _, err := s.promoter.PromoteNext(ctx, productID); err != nil {
		s.logger.Error("promotion after release failed",
			slog.String("product_id", productID), slog.String("error", err.Error()))
	}
}

func (s *CartHoldScheduler) track(h domain.CartHold) {
	if !h.TimerEnabled || h.ExpiresAt == nil {
		return
	}
	s.mu.Lock()
	s.index.ReplaceOrInsert(holdItem{ExpiresAt: *h.ExpiresAt, HoldID: h.ID})
	s.mu.Unlock()
}

func (s *CartHoldScheduler) untrack(h domain.CartHold) {
	if !h.TimerEnabled || h.ExpiresAt == nil {
		return
	}
	s.mu.Lock()
	s.index.Delete(holdItem{ExpiresAt: *h.ExpiresAt, HoldID: h.ID})
	s.mu.Unlock()
}

// TrackedHoldCount returns the number of holds in the expiry index.
// Useful for testing.
func (s *CartHoldScheduler) TrackedHoldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// reservationTransition moves a promoted reservation into a terminal
// state. The scheduler only ever transitions out of PROMOTED.
func (s *CartHoldScheduler) reservationTransition(ctx context.Context, reservationID string, to domain.ReservationStatus) (bool, error) {
	if s.reservations == nil {
		return false, nil
	}
	return s.reservations.Transition(ctx, reservationID, domain.ReservationStatusPromoted, to, nil, nil)
}
