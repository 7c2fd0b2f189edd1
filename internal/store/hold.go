package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/liveshoplabs/reserve/internal/domain"
)

// HoldStore persists cart holds. A hold leaves ACTIVE exactly once: every
// terminal transition is a guarded update on the current status.
type HoldStore struct {
	db *sqlx.DB
}

// NewHoldStore creates a HoldStore backed by db.
func NewHoldStore(db *sqlx.DB) *HoldStore {
	return &HoldStore{db: db}
}

type holdRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	ProductID     string         `db:"product_id"`
	ReservationID sql.NullString `db:"reservation_id"`
	Quantity      int64          `db:"quantity"`
	Color         string         `db:"color"`
	Size          string         `db:"size"`
	TimerEnabled  int64          `db:"timer_enabled"`
	ExpiresAt     sql.NullInt64  `db:"expires_at"`
	Status        string         `db:"status"`
	ReminderSent  int64          `db:"reminder_sent"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r holdRow) toDomain() domain.CartHold {
	h := domain.CartHold{
		ID:           r.ID,
		UserID:       r.UserID,
		ProductID:    r.ProductID,
		Quantity:     r.Quantity,
		Color:        r.Color,
		Size:         r.Size,
		TimerEnabled: r.TimerEnabled != 0,
		Status:       domain.HoldStatus(r.Status),
		ReminderSent: r.ReminderSent != 0,
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:    time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.ReservationID.Valid {
		id := r.ReservationID.String
		h.ReservationID = &id
	}
	if r.ExpiresAt.Valid {
		t := time.Unix(0, r.ExpiresAt.Int64).UTC()
		h.ExpiresAt = &t
	}
	return h
}

const holdColumns = `id, user_id, product_id, reservation_id, quantity, color, size,
	timer_enabled, expires_at, status, reminder_sent, created_at, updated_at`

// Create inserts a new hold.
func (s *HoldStore) Create(ctx context.Context, h domain.CartHold) error {
	timer := int64(0)
	if h.TimerEnabled {
		timer = 1
	}
	var resID any
	if h.ReservationID != nil {
		resID = *h.ReservationID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_holds(`+holdColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, h.ID, h.UserID, h.ProductID, resID, h.Quantity, h.Color, h.Size,
		timer, nullNano(h.ExpiresAt), string(h.Status), h.CreatedAt.UnixNano(), h.UpdatedAt.UnixNano())
	return err
}

// Get returns a hold by ID.
func (s *HoldStore) Get(ctx context.Context, id string) (domain.CartHold, error) {
	var row holdRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+holdColumns+` FROM cart_holds WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartHold{}, domain.ErrHoldNotFound
		}
		return domain.CartHold{}, err
	}
	return row.toDomain(), nil
}

// Transition moves a hold out of ACTIVE into a terminal status. Returns
// false when the hold already left ACTIVE (the caller lost the race).
func (s *HoldStore) Transition(ctx context.Context, id string, to domain.HoldStatus, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_holds SET status = ?, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'
	`, string(to), now.UnixNano(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateQuantity changes the quantity of a still-ACTIVE hold. The TTL is
// deliberately untouched.
func (s *HoldStore) UpdateQuantity(ctx context.Context, id string, quantity int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_holds SET quantity = ?, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'
	`, quantity, now.UnixNano(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkReminderSent flips the payment-reminder flag once per hold.
func (s *HoldStore) MarkReminderSent(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_holds SET reminder_sent = 1, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE' AND reminder_sent = 0
	`, now.UnixNano(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetByReservation returns the hold created for a reservation, or
// domain.ErrHoldNotFound when the reservation was never promoted.
func (s *HoldStore) GetByReservation(ctx context.Context, reservationID string) (domain.CartHold, error) {
	var row holdRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+holdColumns+` FROM cart_holds WHERE reservation_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartHold{}, domain.ErrHoldNotFound
		}
		return domain.CartHold{}, err
	}
	return row.toDomain(), nil
}

// ListReminderDue returns ACTIVE timed holds that crossed the halfway point
// of their TTL without a reminder having been sent.
func (s *HoldStore) ListReminderDue(ctx context.Context, now time.Time) ([]domain.CartHold, error) {
	var rows []holdRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+holdColumns+` FROM cart_holds
		WHERE status = 'ACTIVE' AND timer_enabled = 1 AND reminder_sent = 0
		  AND created_at + (expires_at - created_at) / 2 <= ?
		ORDER BY expires_at, id
	`, now.UnixNano())
	if err != nil {
		return nil, err
	}
	out := make([]domain.CartHold, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListActiveTimed returns every ACTIVE hold with a TTL, soonest expiry
// first. The scheduler replays these into its index on startup.
func (s *HoldStore) ListActiveTimed(ctx context.Context) ([]domain.CartHold, error) {
	var rows []holdRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+holdColumns+` FROM cart_holds
		WHERE status = 'ACTIVE' AND timer_enabled = 1
		ORDER BY expires_at, id
	`)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CartHold, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListByUser returns a user's holds, newest first.
func (s *HoldStore) ListByUser(ctx context.Context, userID string) ([]domain.CartHold, error) {
	var rows []holdRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+holdColumns+` FROM cart_holds
		WHERE user_id = ? ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CartHold, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
