package service

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
)

func TestNotifier_DeliversEvent(t *testing.T) {
	received := make(chan notificationPayload, 1)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Delivery-Id") == "" {
			t.Error("missing X-Delivery-Id")
		}
		if r.Header.Get("X-Event-Type") != domain.EventReservationPromoted {
			t.Errorf("X-Event-Type = %q", r.Header.Get("X-Event-Type"))
		}
		var p notificationPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- p
	}))
	defer sink.Close()

	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	n := NewNotifierService(sink.URL, time.Second, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.Emit(domain.NotificationEvent{
		Type:          domain.EventReservationPromoted,
		UserID:        "alice",
		ProductID:     "prod-1",
		ReservationID: "r1",
		HoldID:        "h1",
	})

	select {
	case p := <-received:
		if p.Event != domain.EventReservationPromoted {
			t.Errorf("event = %q", p.Event)
		}
		if p.Data.UserID != "alice" || p.Data.ReservationID != "r1" || p.Data.HoldID != "h1" {
			t.Errorf("data = %+v", p.Data)
		}
		if p.Timestamp != "2026-03-01T12:00:00Z" {
			t.Errorf("timestamp = %q", p.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}

func TestNotifier_EmptyURLIsNoop(t *testing.T) {
	n := NewNotifierService("", time.Second, clock.NewSystem(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Must not panic or block.
	n.Emit(domain.NotificationEvent{Type: domain.EventCartExpired, UserID: "alice"})
}
