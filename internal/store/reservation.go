package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/liveshoplabs/reserve/internal/domain"
)

// ReservationStore persists waitlist entries. Status transitions are
// guarded updates so a terminal state can only be entered once.
type ReservationStore struct {
	db *sqlx.DB
}

// NewReservationStore creates a ReservationStore backed by db.
func NewReservationStore(db *sqlx.DB) *ReservationStore {
	return &ReservationStore{db: db}
}

type reservationRow struct {
	ID         string        `db:"id"`
	ProductID  string        `db:"product_id"`
	UserID     string        `db:"user_id"`
	Quantity   int64         `db:"quantity"`
	Status     string        `db:"status"`
	CreatedAt  int64         `db:"created_at"`
	PromotedAt sql.NullInt64 `db:"promoted_at"`
	ExpiresAt  sql.NullInt64 `db:"expires_at"`
}

func (r reservationRow) toDomain() domain.ReservationEntry {
	entry := domain.ReservationEntry{
		ID:        r.ID,
		ProductID: r.ProductID,
		UserID:    r.UserID,
		Quantity:  r.Quantity,
		Status:    domain.ReservationStatus(r.Status),
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.PromotedAt.Valid {
		t := time.Unix(0, r.PromotedAt.Int64).UTC()
		entry.PromotedAt = &t
	}
	if r.ExpiresAt.Valid {
		t := time.Unix(0, r.ExpiresAt.Int64).UTC()
		entry.ExpiresAt = &t
	}
	return entry
}

func nullNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

// Create inserts a new entry. A second WAITING/PROMOTED entry for the same
// (product, user) violates the partial unique index and surfaces as
// domain.ErrDuplicateReservation.
func (s *ReservationStore) Create(ctx context.Context, e domain.ReservationEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reservations(id, product_id, user_id, quantity, status, created_at, promoted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProductID, e.UserID, e.Quantity, string(e.Status), e.CreatedAt.UnixNano(),
		nullNano(e.PromotedAt), nullNano(e.ExpiresAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrDuplicateReservation
	}
	return err
}

// Get returns an entry by ID.
func (s *ReservationStore) Get(ctx context.Context, id string) (domain.ReservationEntry, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, product_id, user_id, quantity, status, created_at, promoted_at, expires_at
		FROM reservations WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReservationEntry{}, domain.ErrReservationNotFound
		}
		return domain.ReservationEntry{}, err
	}
	return row.toDomain(), nil
}

// OldestWaiting returns the head of a product's FIFO queue, or
// domain.ErrReservationNotFound when the queue is empty. Ordering is by
// created_at, ties broken by id.
func (s *ReservationStore) OldestWaiting(ctx context.Context, productID string) (domain.ReservationEntry, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, product_id, user_id, quantity, status, created_at, promoted_at, expires_at
		FROM reservations
		WHERE product_id = ? AND status = 'WAITING'
		ORDER BY created_at, id
		LIMIT 1
	`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReservationEntry{}, domain.ErrReservationNotFound
		}
		return domain.ReservationEntry{}, err
	}
	return row.toDomain(), nil
}

// QueuePosition derives an entry's 1-based position among WAITING entries
// for its product. Returns 0 for entries no longer WAITING.
func (s *ReservationStore) QueuePosition(ctx context.Context, e domain.ReservationEntry) (int, error) {
	if e.Status != domain.ReservationStatusWaiting {
		return 0, nil
	}
	var ahead int
	err := s.db.GetContext(ctx, &ahead, `
		SELECT COUNT(*) FROM reservations
		WHERE product_id = ? AND status = 'WAITING'
		  AND (created_at < ? OR (created_at = ? AND id < ?))
	`, e.ProductID, e.CreatedAt.UnixNano(), e.CreatedAt.UnixNano(), e.ID)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// ActiveExists reports whether the user already has a WAITING or PROMOTED
// entry for the product.
func (s *ReservationStore) ActiveExists(ctx context.Context, productID, userID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM reservations
		WHERE product_id = ? AND user_id = ? AND status IN ('WAITING','PROMOTED')
	`, productID, userID)
	return n > 0, err
}

// CountWaiting returns the number of WAITING entries for a product.
func (s *ReservationStore) CountWaiting(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM reservations WHERE product_id = ? AND status = 'WAITING'
	`, productID)
	return n, err
}

// Transition moves an entry from one status to another. The WHERE guard on
// the current status makes the first transition win; a lost race returns
// false with no change.
func (s *ReservationStore) Transition(ctx context.Context, id string, from, to domain.ReservationStatus, promotedAt, expiresAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, promoted_at = COALESCE(?, promoted_at), expires_at = ?
		WHERE id = ? AND status = ?
	`, string(to), nullNano(promotedAt), nullNano(expiresAt), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListExpiredPromotedWithoutHold returns PROMOTED entries whose purchase
// window elapsed but that have no hold row. These exist only after a
// failure between the promotion transition and the hold insert.
func (s *ReservationStore) ListExpiredPromotedWithoutHold(ctx context.Context, now time.Time) ([]domain.ReservationEntry, error) {
	var rows []reservationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.id, r.product_id, r.user_id, r.quantity, r.status, r.created_at, r.promoted_at, r.expires_at
		FROM reservations r
		WHERE r.status = 'PROMOTED' AND r.expires_at IS NOT NULL AND r.expires_at <= ?
		  AND NOT EXISTS (SELECT 1 FROM cart_holds h WHERE h.reservation_id = r.id)
		ORDER BY r.expires_at, r.id
	`, now.UnixNano())
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReservationEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListActiveByUser returns a user's WAITING and PROMOTED entries, oldest
// first.
func (s *ReservationStore) ListActiveByUser(ctx context.Context, userID string) ([]domain.ReservationEntry, error) {
	var rows []reservationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, product_id, user_id, quantity, status, created_at, promoted_at, expires_at
		FROM reservations
		WHERE user_id = ? AND status IN ('WAITING','PROMOTED')
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReservationEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
