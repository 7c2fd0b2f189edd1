package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/store"
)

// mockNotifier records emitted notification events.
type mockNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (m *mockNotifier) Emit(ev domain.NotificationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockNotifier) byType(eventType string) []domain.NotificationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.NotificationEvent
	for _, ev := range m.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// mockPublisher records published stock deltas and state updates.
type mockPublisher struct {
	mu           sync.Mutex
	deltas       []domain.StockDelta
	reservations []domain.ReservationEntry
	holds        []domain.CartHold
}

func (m *mockPublisher) PublishStockDelta(d domain.StockDelta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deltas = append(m.deltas, d)
}

func (m *mockPublisher) PublishReservationUpdate(e domain.ReservationEntry, queuePosition int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations = append(m.reservations, e)
}

func (m *mockPublisher) PublishHoldUpdate(h domain.CartHold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds = append(m.holds, h)
}

func (m *mockPublisher) deltaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deltas)
}

const (
	testPromotionWindow = 5 * time.Minute
	testCartTimeout     = 10 * time.Minute
	testScanInterval    = 5 * time.Second
)

// testEnv wires a full engine against a throwaway database.
type testEnv struct {
	stock        *store.StockStore
	reservations *store.ReservationStore
	holds        *store.HoldStore
	clock        *clock.Fixed
	ledger       *StockLedger
	scheduler    *CartHoldScheduler
	coordinator  *WaitlistCoordinator
	notifier     *mockNotifier
	publisher    *mockPublisher
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()

	db, err := store.OpenDB(filepath.Join(t.TempDir(), "reserve.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	notifier := &mockNotifier{}
	publisher := &mockPublisher{}

	stockStore := store.NewStockStore(db)
	reservationStore := store.NewReservationStore(db)
	holdStore := store.NewHoldStore(db)

	ledger := NewStockLedger(stockStore, clk, publisher, logger)
	scheduler := NewCartHoldScheduler(
		holdStore, reservationStore, ledger, clk,
		testPromotionWindow, testCartTimeout, testScanInterval,
		notifier, publisher, logger,
	)
	coordinator := NewWaitlistCoordinator(
		ledger, reservationStore, holdStore, scheduler, clk,
		notifier, publisher, logger,
	)
	scheduler.SetPromoter(coordinator)

	return &testEnv{
		stock:        stockStore,
		reservations: reservationStore,
		holds:        holdStore,
		clock:        clk,
		ledger:       ledger,
		scheduler:    scheduler,
		coordinator:  coordinator,
		notifier:     notifier,
		publisher:    publisher,
	}
}

func (e *testEnv) publishStock(t testing.TB, productID string, qty int64) {
	t.Helper()
	if err := e.stock.Publish(context.Background(), productID, qty, false, e.clock.Now()); err != nil {
		t.Fatalf("publish stock: %v", err)
	}
}

func (e *testEnv) mustJoin(t testing.TB, productID, userID string, qty int64) JoinResult {
	t.Helper()
	result, err := e.coordinator.Join(context.Background(), productID, userID, qty)
	if err != nil {
		t.Fatalf("join %s/%s: %v", productID, userID, err)
	}
	return result
}

func (e *testEnv) quantity(t testing.TB, productID string) int64 {
	t.Helper()
	p, err := e.stock.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return p.AvailableQuantity
}
