package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liveshoplabs/reserve/internal/domain"
	"github.com/liveshoplabs/reserve/internal/service"
)

// ReservationHandler handles HTTP requests for reservation endpoints.
type ReservationHandler struct {
	reservationSvc *service.ReservationService
}

// NewReservationHandler creates a new ReservationHandler.
func NewReservationHandler(reservationSvc *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservationSvc: reservationSvc}
}

// joinRequest is the JSON request body for POST /reservations.
type joinRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// reservationResponse is the JSON response for reservation endpoints.
type reservationResponse struct {
	ReservationID string  `json:"reservation_id"`
	ProductID     string  `json:"product_id"`
	UserID        string  `json:"user_id"`
	Quantity      int64   `json:"quantity"`
	Status        string  `json:"status"`
	QueuePosition *int    `json:"queue_position,omitempty"`
	HoldID        *string `json:"hold_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	PromotedAt    *string `json:"promoted_at,omitempty"`
	ExpiresAt     *string `json:"expires_at,omitempty"`
}

// Join handles POST /reservations.
func (h *ReservationHandler) Join(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	var req joinRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.reservationSvc.Join(r.Context(), uid, req.ProductID, req.Quantity)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := buildReservationResponse(result.Entry, result.QueuePosition)
	if result.Hold != nil {
		resp.HoldID = &result.Hold.ID
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// Get handles GET /reservations/{reservation_id}.
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	entry, pos, err := h.reservationSvc.Get(r.Context(), chi.URLParam(r, "reservation_id"), uid)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildReservationResponse(entry, pos))
}

// Cancel handles DELETE /reservations/{reservation_id}.
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return
	}

	entry, err := h.reservationSvc.Cancel(r.Context(), chi.URLParam(r, "reservation_id"), uid)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildReservationResponse(entry, 0))
}

// buildReservationResponse converts a domain entry to the response shape.
// Queue position is only meaningful for waiting entries.
func buildReservationResponse(e domain.ReservationEntry, pos int) reservationResponse {
	resp := reservationResponse{
		ReservationID: e.ID,
		ProductID:     e.ProductID,
		UserID:        e.UserID,
		Quantity:      e.Quantity,
		Status:        string(e.Status),
		CreatedAt:     formatTime(e.CreatedAt),
	}
	if e.Status == domain.ReservationStatusWaiting && pos > 0 {
		resp.QueuePosition = &pos
	}
	if e.PromotedAt != nil {
		s := formatTime(*e.PromotedAt)
		resp.PromotedAt = &s
	}
	if e.ExpiresAt != nil {
		s := formatTime(*e.ExpiresAt)
		resp.ExpiresAt = &s
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
