package handler

import (
	"errors"
	"net/http"

	"github.com/liveshoplabs/reserve/internal/domain"
)

// mapError maps domain errors to HTTP responses. Shared by the
// reservation, cart, and product handlers.
func mapError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		WriteError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, domain.ErrReservationNotFound):
		WriteError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, domain.ErrHoldNotFound):
		WriteError(w, http.StatusNotFound, "hold_not_found", err.Error())
	case errors.Is(err, domain.ErrNotOwner):
		WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrDuplicateReservation):
		WriteError(w, http.StatusConflict, "duplicate_reservation", err.Error())
	case errors.Is(err, domain.ErrProductRetired):
		WriteError(w, http.StatusConflict, "product_retired", err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		WriteError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, domain.ErrReservationNotActive):
		WriteError(w, http.StatusConflict, "reservation_not_active", err.Error())
	case errors.Is(err, domain.ErrHoldAlreadyTerminal):
		WriteError(w, http.StatusConflict, "hold_already_terminal", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		WriteError(w, http.StatusServiceUnavailable, "stock_contention", "Stock is under heavy contention, retry shortly")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
