package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/liveshoplabs/reserve/internal/clock"
	"github.com/liveshoplabs/reserve/internal/domain"
)

// notificationPayload is the JSON body posted to the notification sink.
type notificationPayload struct {
	Event     string           `json:"event"`
	Timestamp string           `json:"timestamp"`
	Data      notificationData `json:"data"`
}

type notificationData struct {
	UserID        string `json:"user_id"`
	ProductID     string `json:"product_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	HoldID        string `json:"hold_id,omitempty"`
}

// NotifierService forwards lifecycle events to an external notification
// sink over HTTP. When no sink URL is configured the events are only
// logged. Delivery is fire-and-forget; a failed POST is logged and not
// retried.
type NotifierService struct {
	url    string
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger
}

// NewNotifierService creates a NotifierService posting to url. An empty
// url disables delivery.
func NewNotifierService(url string, timeout time.Duration, clk clock.Clock, logger *slog.Logger) *NotifierService {
	return &NotifierService{
		url:    url,
		client: &http.Client{Timeout: timeout},
		clock:  clk,
		logger: logger,
	}
}

// Emit dispatches the event to the configured sink.
func (s *NotifierService) Emit(ev domain.NotificationEvent) {
	if s.url == "" {
		s.logger.Debug("notification suppressed",
			slog.String("event", ev.Type), slog.String("user_id", ev.UserID))
		return
	}

	payload := notificationPayload{
		Event:     ev.Type,
		Timestamp: s.clock.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: notificationData{
			UserID:        ev.UserID,
			ProductID:     ev.ProductID,
			ReservationID: ev.ReservationID,
			HoldID:        ev.HoldID,
		},
	}

	go s.deliver(ev.Type, payload)
}

func (s *NotifierService) deliver(eventType string, payload notificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Event-Type", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("notification delivery failed",
			slog.String("event", eventType), slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
}
