package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/engine"
	"github.com/liveshoplabs/reserve/internal/store"
)

// waitlistDrainer hands freshly published stock to waiting buyers.
type waitlistDrainer interface {
	Drain(ctx context.Context, productID string) (int, error)
}

// ProductHandler handles HTTP requests for product stock endpoints.
// Publishing and retiring are operator actions performed by the stream
// console.
type ProductHandler struct {
	stock     *store.StockStore
	publisher engine.EventPublisher
	waitlist  waitlistDrainer
	clock     clock.Clock
	logger    *slog.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(stock *store.StockStore, publisher engine.EventPublisher, waitlist waitlistDrainer, clk clock.Clock, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{stock: stock, publisher: publisher, waitlist: waitlist, clock: clk, logger: logger}
}

// publishStockRequest is the JSON request body for PUT /products/{product_id}/stock.
type publishStockRequest struct {
	Quantity        int64 `json:"quantity"`
	AlwaysAvailable bool  `json:"always_available"`
}

// stockResponse is the JSON response for product stock endpoints.
type stockResponse struct {
	ProductID       string `json:"product_id"`
	Quantity        int64  `json:"quantity"`
	Version         int64  `json:"version"`
	AlwaysAvailable bool   `json:"always_available"`
	Retired         bool   `json:"retired"`
	SoldOut         bool   `json:"sold_out"`
}

// List handles GET /products.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.stock.List(r.Context(), nil)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := make([]stockResponse, len(products))
	for i, p := range products {
		resp[i] = buildStockResponse(p)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"products": resp})
}

// GetStock handles GET /products/{product_id}/stock.
func (h *ProductHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	product, err := h.stock.Get(r.Context(), chi.URLParam(r, "product_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildStockResponse(product))
}

// PublishStock handles PUT /products/{product_id}/stock. Creates the
// product on first publish; later publishes replace the stock level.
func (h *ProductHandler) PublishStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	var req publishStockRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Quantity < 0 {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must not be negative")
		return
	}

	now := h.clock.Now()
	previous := int64(0)
	if existing, err := h.stock.Get(r.Context(), productID); err == nil {
		previous = existing.AvailableQuantity
	} else if !errors.Is(err, domain.ErrProductNotFound) {
		mapError(w, err)
		return
	}

	if err := h.stock.Publish(r.Context(), productID, req.Quantity, req.AlwaysAvailable, now); err != nil {
		mapError(w, err)
		return
	}

	product, err := h.stock.Get(r.Context(), productID)
	if err != nil {
		mapError(w, err)
		return
	}

	h.publisher.PublishStockDelta(domain.StockDelta{
		ProductID:        productID,
		PreviousQuantity: previous,
		NewQuantity:      product.AvailableQuantity,
		EmittedAt:        now,
	})

	// A restock has to reach the queue; nobody else promotes until a hold
	// expires. The publish already committed, so a drain failure is logged
	// and the next expiry tick retries.
	if product.AvailableQuantity > 0 {
		if _, err := h.waitlist.Drain(r.Context(), productID); err != nil {
			h.logger.Error("waitlist drain after restock failed",
				slog.String("product_id", productID), slog.String("error", err.Error()))
		}
		if product, err = h.stock.Get(r.Context(), productID); err != nil {
			mapError(w, err)
			return
		}
	}

	WriteJSON(w, http.StatusOK, buildStockResponse(product))
}

// Retire handles DELETE /products/{product_id}. Retired products reject
// new reservations but still accept releases from in-flight holds.
func (h *ProductHandler) Retire(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	if err := h.stock.Retire(r.Context(), productID, h.clock.Now()); err != nil {
		mapError(w, err)
		return
	}

	product, err := h.stock.Get(r.Context(), productID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildStockResponse(product))
}

func buildStockResponse(p domain.ProductStock) stockResponse {
	return stockResponse{
		ProductID:       p.ProductID,
		Quantity:        p.AvailableQuantity,
		Version:         p.Version,
		AlwaysAvailable: p.AlwaysAvailable,
		Retired:         p.Retired,
		SoldOut:         p.SoldOut(),
	}
}
