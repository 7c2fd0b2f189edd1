package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liveshoplabs/reserve/internal/service"
)

// userIDHeader identifies the caller. Authentication itself happens at
// the gateway; by the time a request reaches this service the header is
// trusted.
const userIDHeader = "X-User-ID"

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(
	reservationSvc *service.ReservationService,
	cartSvc *service.CartService,
	productH *ProductHandler,
	streamH *StreamHandler,
	registry *prometheus.Registry,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	reservationH := NewReservationHandler(reservationSvc)
	cartH := NewCartHandler(cartSvc)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Metrics.
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Realtime stream. The websocket upgrade negotiates its own protocol,
	// so it stays outside the JSON middleware assumptions.
	r.Get("/stream", streamH.Serve)

	// Reservation routes.
	r.Post("/reservations", reservationH.Join)
	r.Get("/reservations/{reservation_id}", reservationH.Get)
	r.Delete("/reservations/{reservation_id}", reservationH.Cancel)

	// Cart routes.
	r.Post("/cart", cartH.Add)
	r.Get("/cart", cartH.List)
	r.Get("/cart/{hold_id}", cartH.Get)
	r.Patch("/cart/{hold_id}", cartH.UpdateQuantity)
	r.Delete("/cart/{hold_id}", cartH.Remove)
	r.Post("/cart/{hold_id}/complete", cartH.Complete)

	// Product routes.
	r.Get("/products", productH.List)
	r.Get("/products/{product_id}/stock", productH.GetStock)
	r.Put("/products/{product_id}/stock", productH.PublishStock)
	r.Delete("/products/{product_id}", productH.Retire)

	return r
}

// userID extracts the caller identity from the request headers.
func userID(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
// Bodyless POSTs (checkout completion) are exempt.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) && r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
