package broadcast

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/liveshoplabs/reserve/internal/domain"
)

// StockMessage is the wire format for stock-level updates and snapshot
// entries.
type StockMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	SoldOut   bool   `json:"sold_out"`
}

// SnapshotMessage carries the full current stock state sent to a client
// before incremental deltas resume.
type SnapshotMessage struct {
	Type     string         `json:"type"`
	Products []StockMessage `json:"products"`
}

// ReservationMessage is the wire format for a user's own reservation
// transitions.
type ReservationMessage struct {
	Type          string     `json:"type"`
	ReservationID string     `json:"reservation_id"`
	ProductID     string     `json:"product_id"`
	Status        string     `json:"status"`
	QueuePosition int        `json:"queue_position,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// HoldMessage is the wire format for a user's own cart hold transitions.
type HoldMessage struct {
	Type      string     `json:"type"`
	HoldID    string     `json:"hold_id"`
	ProductID string     `json:"product_id"`
	Status    string     `json:"status"`
	Quantity  int64      `json:"quantity"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewSnapshot builds the snapshot message for the given stock records.
func NewSnapshot(products []domain.ProductStock) SnapshotMessage {
	msg := SnapshotMessage{Type: "snapshot", Products: make([]StockMessage, 0, len(products))}
	for _, p := range products {
		msg.Products = append(msg.Products, StockMessage{
			Type:      "stock",
			ProductID: p.ProductID,
			Quantity:  p.AvailableQuantity,
			SoldOut:   p.SoldOut(),
		})
	}
	return msg
}

// Broadcaster adapts the Hub to the engine's event publisher: it marshals
// state changes into wire messages and routes them to the right topics.
type Broadcaster struct {
	hub    *Hub
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster on top of hub.
func NewBroadcaster(hub *Hub, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, logger: logger}
}

// Hub exposes the underlying hub for subscription handling.
func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

// PublishStockDelta pushes the new stock level to all subscribers of the
// product's topic.
func (b *Broadcaster) PublishStockDelta(d domain.StockDelta) {
	b.publish(StockTopic(d.ProductID), StockMessage{
		Type:      "stock",
		ProductID: d.ProductID,
		Quantity:  d.NewQuantity,
		SoldOut:   d.SoldOut(),
	})
}

// PublishReservationUpdate pushes a reservation transition to the owning
// user's topic only.
func (b *Broadcaster) PublishReservationUpdate(e domain.ReservationEntry, queuePosition int) {
	b.publish(UserTopic(e.UserID), ReservationMessage{
		Type:          "reservation",
		ReservationID: e.ID,
		ProductID:     e.ProductID,
		Status:        string(e.Status),
		QueuePosition: queuePosition,
		ExpiresAt:     e.ExpiresAt,
	})
}

// PublishHoldUpdate pushes a cart hold transition to the owning user's
// topic only.
func (b *Broadcaster) PublishHoldUpdate(h domain.CartHold) {
	b.publish(UserTopic(h.UserID), HoldMessage{
		Type:      "hold",
		HoldID:    h.ID,
		ProductID: h.ProductID,
		Status:    string(h.Status),
		Quantity:  h.Quantity,
		ExpiresAt: h.ExpiresAt,
	})
}

func (b *Broadcaster) publish(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast marshal failed", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	b.hub.Publish(topic, payload)
}
