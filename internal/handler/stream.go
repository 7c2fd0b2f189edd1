package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/liveshoplabs/reserve/internal/broadcast"
	"github.com/liveshoplabs/reserve/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamHandler streams stock and reservation updates over WebSocket.
// Products to watch come from repeated "product_id" query parameters; the
// caller's own reservation topic is added when X-User-ID is present.
type StreamHandler struct {
	hub    *broadcast.Hub
	stock  *store.StockStore
	logger *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *broadcast.Hub, stock *store.StockStore, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, stock: stock, logger: logger}
}

// Serve handles GET /stream. The first frame is always a stock snapshot
// for the watched products; deltas follow. A client that reconnects after
// missing frames resyncs from the fresh snapshot.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	productIDs := r.URL.Query()["product_id"]
	uid := userID(r)
	if len(productIDs) == 0 && uid == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request",
			"at least one product_id or an X-User-ID header is required")
		return
	}

	topics := make([]string, 0, len(productIDs)+1)
	for _, id := range productIDs {
		topics = append(topics, broadcast.StockTopic(id))
	}
	if uid != "" {
		topics = append(topics, broadcast.UserTopic(uid))
	}

	// Build the snapshot before subscribing so the upgrade fails cleanly
	// on storage errors. A delta emitted in the gap is re-read below.
	products, err := h.stock.List(r.Context(), productIDs)
	if err != nil {
		mapError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.hub.Subscribe(topics)
	defer h.hub.Unsubscribe(topics, ch)

	// Re-read after subscribing so the snapshot is never older than the
	// first delta the subscription can observe.
	if len(productIDs) > 0 {
		products, err = h.stock.List(r.Context(), productIDs)
		if err != nil {
			h.logger.Error("snapshot reload failed", slog.String("error", err.Error()))
			return
		}
	}
	snapshot, err := json.Marshal(broadcast.NewSnapshot(products))
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		return
	}

	// Reader goroutine: surfaces client close and drains control frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
