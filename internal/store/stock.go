package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/liveshoplabs/reserve/internal/domain"
)

// StockStore persists product stock counters and the stock delta audit log.
type StockStore struct {
	db *sqlx.DB
}

// NewStockStore creates a StockStore backed by db.
func NewStockStore(db *sqlx.DB) *StockStore {
	return &StockStore{db: db}
}

type stockRow struct {
	ProductID       string `db:"product_id"`
	AvailableQty    int64  `db:"available_qty"`
	Version         int64  `db:"version"`
	AlwaysAvailable int64  `db:"always_available"`
	Retired         int64  `db:"retired"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r stockRow) toDomain() domain.ProductStock {
	return domain.ProductStock{
		ProductID:         r.ProductID,
		AvailableQuantity: r.AvailableQty,
		Version:           r.Version,
		AlwaysAvailable:   r.AlwaysAvailable != 0,
		Retired:           r.Retired != 0,
		UpdatedAt:         time.Unix(0, r.UpdatedAt).UTC(),
	}
}

// Get returns the stock record for a product.
func (s *StockStore) Get(ctx context.Context, productID string) (domain.ProductStock, error) {
	var row stockRow
	err := s.db.GetContext(ctx, &row, `
		SELECT product_id, available_qty, version, always_available, retired, updated_at
		FROM product_stock WHERE product_id = ?
	`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductStock{}, domain.ErrProductNotFound
		}
		return domain.ProductStock{}, err
	}
	return row.toDomain(), nil
}

// List returns stock records for the given product IDs, skipping unknown
// ones. With no IDs it returns every non-retired product.
func (s *StockStore) List(ctx context.Context, productIDs []string) ([]domain.ProductStock, error) {
	var rows []stockRow
	if len(productIDs) == 0 {
		err := s.db.SelectContext(ctx, &rows, `
			SELECT product_id, available_qty, version, always_available, retired, updated_at
			FROM product_stock WHERE retired = 0 ORDER BY product_id
		`)
		if err != nil {
			return nil, err
		}
	} else {
		query, args, err := sqlx.In(`
			SELECT product_id, available_qty, version, always_available, retired, updated_at
			FROM product_stock WHERE product_id IN (?) ORDER BY product_id
		`, productIDs)
		if err != nil {
			return nil, err
		}
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, err
		}
	}

	out := make([]domain.ProductStock, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Publish creates the stock record for a product, or overwrites quantity
// and flags for an existing one. The version bumps so in-flight CAS
// attempts against the old counter fail and re-read.
func (s *StockStore) Publish(ctx context.Context, productID string, qty int64, alwaysAvailable bool, now time.Time) error {
	always := int64(0)
	if alwaysAvailable {
		always = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_stock(product_id, available_qty, version, always_available, retired, updated_at)
		VALUES (?, ?, 0, ?, 0, ?)
		ON CONFLICT(product_id) DO UPDATE SET
		  available_qty = excluded.available_qty,
		  version = product_stock.version + 1,
		  always_available = excluded.always_available,
		  retired = 0,
		  updated_at = excluded.updated_at
	`, productID, qty, always, now.UnixNano())
	return err
}

// Retire soft-retires a product. Reservations and holds referencing it
// stay valid; new reserves are rejected by the ledger.
func (s *StockStore) Retire(ctx context.Context, productID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_stock SET retired = 1, updated_at = ? WHERE product_id = ?
	`, now.UnixNano(), productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// CompareAndSwap sets available_qty to newQty if the row still carries the
// expected version. Returns false when another writer won the race.
func (s *StockStore) CompareAndSwap(ctx context.Context, productID string, version, newQty int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_stock
		SET available_qty = ?, version = version + 1, updated_at = ?
		WHERE product_id = ? AND version = ?
	`, newQty, now.UnixNano(), productID, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AppendDelta records a broadcast stock delta in the audit log.
func (s *StockStore) AppendDelta(ctx context.Context, d domain.StockDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_deltas(product_id, prev_qty, new_qty, emitted_at)
		VALUES (?, ?, ?, ?)
	`, d.ProductID, d.PreviousQuantity, d.NewQuantity, d.EmittedAt.UnixNano())
	return err
}
