package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/engine"
	"github.com/liveshoplabs/reserve/internal/store"
)

type cartFixture struct {
	stock     *store.StockStore
	holds     *store.HoldStore
	clock     *clock.Fixed
	ledger    *engine.StockLedger
	scheduler *engine.CartHoldScheduler
	svc       *CartService
}

func newCartFixture(t *testing.T) *cartFixture {
	t.Helper()

	db, err := store.OpenDB(filepath.Join(t.TempDir(), "reserve.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	stockStore := store.NewStockStore(db)
	reservationStore := store.NewReservationStore(db)
	holdStore := store.NewHoldStore(db)

	ledger := engine.NewStockLedger(stockStore, clk, nil, logger)
	scheduler := engine.NewCartHoldScheduler(
		holdStore, reservationStore, ledger, clk,
		5*time.Minute, 10*time.Minute, 5*time.Second,
		nil, nil, logger,
	)

	return &cartFixture{
		stock:     stockStore,
		holds:     holdStore,
		clock:     clk,
		ledger:    ledger,
		scheduler: scheduler,
		svc:       NewCartService(ledger, scheduler, holdStore, clk, logger),
	}
}

func (f *cartFixture) publish(t *testing.T, productID string, qty int64, alwaysAvailable bool) {
	t.Helper()
	if err := f.stock.Publish(context.Background(), productID, qty, alwaysAvailable, f.clock.Now()); err != nil {
		t.Fatalf("publish stock: %v", err)
	}
}

func (f *cartFixture) quantity(t *testing.T, productID string) int64 {
	t.Helper()
	p, err := f.stock.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return p.AvailableQuantity
}

func TestCart_Add_LimitedStockReservesAndTimes(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 5, false)

	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "red", "M")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !hold.TimerEnabled || hold.ExpiresAt == nil {
		t.Fatalf("limited-stock hold is untimed: %+v", hold)
	}
	if got := hold.ExpiresAt.Sub(f.clock.Now()); got != 10*time.Minute {
		t.Errorf("TTL = %v, want 10m", got)
	}
	if q := f.quantity(t, "prod-1"); q != 3 {
		t.Errorf("quantity = %d, want 3", q)
	}
}

func TestCart_Add_AlwaysAvailableIsUntimed(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "evergreen", 0, true)

	hold, err := f.svc.Add(context.Background(), "alice", "evergreen", 3, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if hold.TimerEnabled || hold.ExpiresAt != nil {
		t.Fatalf("always-available hold got a timer: %+v", hold)
	}
	// The counter is not consulted for evergreen listings.
	if q := f.quantity(t, "evergreen"); q != 0 {
		t.Errorf("quantity = %d, want 0", q)
	}
}

func TestCart_Add_InsufficientStock(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 1, false)

	_, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "", "")
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestCart_UpdateQuantity_IncreaseReservesDelta(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 5, false)
	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	updated, err := f.svc.UpdateQuantity(context.Background(), hold.ID, "alice", 4)
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if updated.Quantity != 4 {
		t.Errorf("quantity = %d, want 4", updated.Quantity)
	}
	if q := f.quantity(t, "prod-1"); q != 1 {
		t.Errorf("stock = %d, want 1", q)
	}
	// TTL is never extended by an edit.
	got, err := f.holds.Get(context.Background(), hold.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.ExpiresAt.Equal(*hold.ExpiresAt) {
		t.Errorf("expiry moved from %v to %v", hold.ExpiresAt, got.ExpiresAt)
	}
}

func TestCart_UpdateQuantity_IncreaseBeyondStock(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 3, false)
	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = f.svc.UpdateQuantity(context.Background(), hold.ID, "alice", 5)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	// Neither the hold nor the counter moved.
	got, err := f.holds.Get(context.Background(), hold.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Quantity != 2 {
		t.Errorf("hold quantity = %d, want 2", got.Quantity)
	}
	if q := f.quantity(t, "prod-1"); q != 1 {
		t.Errorf("stock = %d, want 1", q)
	}
}

func TestCart_UpdateQuantity_DecreaseReleasesSurplus(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 5, false)
	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 4, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	updated, err := f.svc.UpdateQuantity(context.Background(), hold.ID, "alice", 1)
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if updated.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", updated.Quantity)
	}
	if q := f.quantity(t, "prod-1"); q != 4 {
		t.Errorf("stock = %d, want 4", q)
	}
}

func TestCart_UpdateQuantity_ExpiredHoldRejected(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 5, false)
	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.clock.Advance(11 * time.Minute)
	_, err = f.svc.UpdateQuantity(context.Background(), hold.ID, "alice", 3)
	if !errors.Is(err, domain.ErrHoldAlreadyTerminal) {
		t.Fatalf("err = %v, want ErrHoldAlreadyTerminal", err)
	}
}

func TestCart_UpdateQuantity_WrongOwner(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 5, false)
	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = f.svc.UpdateQuantity(context.Background(), hold.ID, "mallory", 3)
	if !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

func TestCart_Remove_ReleasesStock(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 5, false)
	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	removed, err := f.svc.Remove(context.Background(), hold.ID, "alice")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.Status != domain.HoldStatusExpired {
		t.Errorf("status = %s, want EXPIRED", removed.Status)
	}
	if q := f.quantity(t, "prod-1"); q != 5 {
		t.Errorf("stock = %d, want 5", q)
	}
}

func TestCart_Complete_KeepsStockConsumed(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 5, false)
	hold, err := f.svc.Add(context.Background(), "alice", "prod-1", 2, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	completed, err := f.svc.Complete(context.Background(), hold.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != domain.HoldStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", completed.Status)
	}
	if q := f.quantity(t, "prod-1"); q != 3 {
		t.Errorf("stock = %d, want 3", q)
	}
}

func TestCart_List_NewestFirst(t *testing.T) {
	f := newCartFixture(t)
	f.publish(t, "prod-1", 10, false)

	first, err := f.svc.Add(context.Background(), "alice", "prod-1", 1, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.clock.Advance(time.Second)
	second, err := f.svc.Add(context.Background(), "alice", "prod-1", 1, "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	holds, err := f.svc.List(context.Background(), "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(holds) != 2 {
		t.Fatalf("holds = %d, want 2", len(holds))
	}
	if holds[0].ID != second.ID || holds[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest first", holds[0].ID, holds[1].ID)
	}
}
