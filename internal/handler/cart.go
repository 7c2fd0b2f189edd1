package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/service"
)

// CartHandler handles HTTP requests for cart hold endpoints.
type CartHandler struct {
	cartSvc *service.CartService
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(cartSvc *service.CartService) *CartHandler {
	return &CartHandler{cartSvc: cartSvc}
}

// addToCartRequest is the JSON request body for POST /cart.
type addToCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

// updateQuantityRequest is the JSON request body for PATCH /cart/{hold_id}.
type updateQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

// holdResponse is the JSON response for cart endpoints.
type holdResponse struct {
	HoldID        string  `json:"hold_id"`
	UserID        string  `json:"user_id"`
	ProductID     string  `json:"product_id"`
	ReservationID *string `json:"reservation_id,omitempty"`
	Quantity      int64   `json:"quantity"`
	Color         string  `json:"color,omitempty"`
	Size          string  `json:"size,omitempty"`
	Status        string  `json:"status"`
	TimerEnabled  bool    `json:"timer_enabled"`
	ExpiresAt     *string `json:"expires_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// Add handles POST /cart.
func (h *CartHandler) Add(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	var req addToCartRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	hold, err := h.cartSvc.Add(r.Context(), uid, req.ProductID, req.Quantity, req.Color, req.Size)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildHoldResponse(hold))
}

// List handles GET /cart.
func (h *CartHandler) List(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	holds, err := h.cartSvc.List(r.Context(), uid)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := make([]holdResponse, len(holds))
	for i, hold := range holds {
		resp[i] = buildHoldResponse(hold)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"holds": resp})
}

// Get handles GET /cart/{hold_id}.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	hold, err := h.cartSvc.Get(r.Context(), chi.URLParam(r, "hold_id"), uid)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildHoldResponse(hold))
}

// UpdateQuantity handles PATCH /cart/{hold_id}.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	var req updateQuantityRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	hold, err := h.cartSvc.UpdateQuantity(r.Context(), chi.URLParam(r, "hold_id"), uid, req.Quantity)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildHoldResponse(hold))
}

// Remove handles DELETE /cart/{hold_id}.
func (h *CartHandler) Remove(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	hold, err := h.cartSvc.Remove(r.Context(), chi.URLParam(r, "hold_id"), uid)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildHoldResponse(hold))
}

// Complete handles POST /cart/{hold_id}/complete. Called by the checkout
// flow once payment settles; no owner check since checkout acts on the
// user's behalf.
func (h *CartHandler) Complete(w http.ResponseWriter, r *http.Request) {
	hold, err := h.cartSvc.Complete(r.Context(), chi.URLParam(r, "hold_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildHoldResponse(hold))
}

// buildHoldResponse converts a domain hold to the response shape.
func buildHoldResponse(h domain.CartHold) holdResponse {
	resp := holdResponse{
		HoldID:        h.ID,
		UserID:        h.UserID,
		ProductID:     h.ProductID,
		ReservationID: h.ReservationID,
		Quantity:      h.Quantity,
		Color:         h.Color,
		Size:          h.Size,
		Status:        string(h.Status),
		TimerEnabled:  h.TimerEnabled,
		CreatedAt:     formatTime(h.CreatedAt),
		UpdatedAt:     formatTime(h.UpdatedAt),
	}
	if h.ExpiresAt != nil {
		s := formatTime(*h.ExpiresAt)
		resp.ExpiresAt = &s
	}
	return resp
}
