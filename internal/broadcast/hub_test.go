package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/liveshoplabs/reserve/internal/domain"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	topic := StockTopic("prod-1")
	ch := h.Subscribe([]string{topic})
	defer h.Unsubscribe([]string{topic}, ch)

	h.Publish(topic, []byte("hello"))

	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Errorf("msg = %q, want hello", msg)
		}
	default:
		t.Fatal("no message delivered")
	}
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	h := NewHub()
	a := h.Subscribe([]string{StockTopic("a")})
	b := h.Subscribe([]string{StockTopic("b")})
	defer h.Unsubscribe([]string{StockTopic("a")}, a)
	defer h.Unsubscribe([]string{StockTopic("b")}, b)

	h.Publish(StockTopic("a"), []byte("for-a"))

	select {
	case <-b:
		t.Fatal("message leaked across topics")
	default:
	}
	select {
	case <-a:
	default:
		t.Fatal("subscriber on topic a got nothing")
	}
}

func TestHub_OneChannelManyTopics(t *testing.T) {
	h := NewHub()
	topics := []string{StockTopic("a"), UserTopic("alice")}
	ch := h.Subscribe(topics)
	defer h.Unsubscribe(topics, ch)

	h.Publish(StockTopic("a"), []byte("one"))
	h.Publish(UserTopic("alice"), []byte("two"))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			got = append(got, string(msg))
		default:
			t.Fatalf("received %d messages, want 2", i)
		}
	}
	if got[0] != "one" || got[1] != "two" {
		t.Errorf("messages = %v", got)
	}
}

func TestHub_SlowSubscriberDropsNotBlocks(t *testing.T) {
	h := NewHub()
	topic := StockTopic("hot")
	ch := h.Subscribe([]string{topic})
	defer h.Unsubscribe([]string{topic}, ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			h.Publish(topic, []byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if n := len(ch); n != subscriberBuffer {
		t.Errorf("buffered = %d, want %d (overflow dropped)", n, subscriberBuffer)
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	topics := []string{StockTopic("a")}
	ch := h.Subscribe(topics)
	h.Unsubscribe(topics, ch)

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	if n := h.SubscriberCount(StockTopic("a")); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
	// A second unsubscribe must not close twice.
	h.Unsubscribe(topics, ch)
}

func TestBroadcaster_RoutesByTopic(t *testing.T) {
	h := NewHub()
	b := NewBroadcaster(h, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stockCh := h.Subscribe([]string{StockTopic("prod-1")})
	userCh := h.Subscribe([]string{UserTopic("alice")})
	defer h.Unsubscribe([]string{StockTopic("prod-1")}, stockCh)
	defer h.Unsubscribe([]string{UserTopic("alice")}, userCh)

	b.PublishStockDelta(domain.StockDelta{ProductID: "prod-1", PreviousQuantity: 3, NewQuantity: 0})
	b.PublishReservationUpdate(domain.ReservationEntry{
		ID: "r1", ProductID: "prod-1", UserID: "alice",
		Status: domain.ReservationStatusPromoted,
	}, 0)

	var stockMsg StockMessage
	select {
	case raw := <-stockCh:
		if err := json.Unmarshal(raw, &stockMsg); err != nil {
			t.Fatalf("unmarshal stock: %v", err)
		}
	default:
		t.Fatal("no stock message")
	}
	if !stockMsg.SoldOut || stockMsg.Quantity != 0 {
		t.Errorf("stock message = %+v", stockMsg)
	}

	var resMsg ReservationMessage
	select {
	case raw := <-userCh:
		if err := json.Unmarshal(raw, &resMsg); err != nil {
			t.Fatalf("unmarshal reservation: %v", err)
		}
	default:
		t.Fatal("no reservation message")
	}
	if resMsg.Status != "PROMOTED" || resMsg.ReservationID != "r1" {
		t.Errorf("reservation message = %+v", resMsg)
	}

	// Reservation updates never hit the product topic.
	select {
	case raw := <-stockCh:
		t.Fatalf("unexpected extra message on stock topic: %s", raw)
	default:
	}
}

func TestNewSnapshot(t *testing.T) {
	snap := NewSnapshot([]domain.ProductStock{
		{ProductID: "a", AvailableQuantity: 5},
		{ProductID: "b", AvailableQuantity: 0},
	})
	if snap.Type != "snapshot" {
		t.Errorf("type = %q", snap.Type)
	}
	if len(snap.Products) != 2 {
		t.Fatalf("products = %d, want 2", len(snap.Products))
	}
	if snap.Products[1].ProductID != "b" || !snap.Products[1].SoldOut {
		t.Errorf("second entry = %+v", snap.Products[1])
	}
}
