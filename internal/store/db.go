package store

import (
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// OpenDB opens the sqlite database at dsn and bootstraps the schema.
// The schema is idempotent and safe to run on every start.
func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	// sqlite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent reserve/release.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- Authoritative per-product stock counter. version is the CAS token.
CREATE TABLE IF NOT EXISTS product_stock(
  product_id       TEXT PRIMARY KEY,
  available_qty    INTEGER NOT NULL CHECK (available_qty >= 0),
  version          INTEGER NOT NULL DEFAULT 0,
  always_available INTEGER NOT NULL DEFAULT 0,
  retired          INTEGER NOT NULL DEFAULT 0,
  updated_at       INTEGER NOT NULL
);

-- Waitlist entries. Timestamps are unix nanoseconds.
CREATE TABLE IF NOT EXISTS reservations(
  id          TEXT PRIMARY KEY,
  product_id  TEXT NOT NULL REFERENCES product_stock(product_id),
  user_id     TEXT NOT NULL,
  quantity    INTEGER NOT NULL CHECK (quantity >= 1),
  status      TEXT NOT NULL CHECK (status IN ('WAITING','PROMOTED','EXPIRED','CANCELLED','FULFILLED')),
  created_at  INTEGER NOT NULL,
  promoted_at INTEGER,
  expires_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_reservations_waiting
  ON reservations(product_id, created_at, id) WHERE status = 'WAITING';
CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active_user
  ON reservations(product_id, user_id) WHERE status IN ('WAITING','PROMOTED');

CREATE TABLE IF NOT EXISTS cart_holds(
  id             TEXT PRIMARY KEY,
  user_id        TEXT NOT NULL,
  product_id     TEXT NOT NULL REFERENCES product_stock(product_id),
  reservation_id TEXT REFERENCES reservations(id),
  quantity       INTEGER NOT NULL CHECK (quantity >= 1),
  color          TEXT NOT NULL DEFAULT '',
  size           TEXT NOT NULL DEFAULT '',
  timer_enabled  INTEGER NOT NULL DEFAULT 0,
  expires_at     INTEGER,
  status         TEXT NOT NULL CHECK (status IN ('ACTIVE','EXPIRED','COMPLETED')),
  reminder_sent  INTEGER NOT NULL DEFAULT 0,
  created_at     INTEGER NOT NULL,
  updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cart_holds_active_expiry
  ON cart_holds(expires_at) WHERE status = 'ACTIVE' AND timer_enabled = 1;
CREATE INDEX IF NOT EXISTS idx_cart_holds_user ON cart_holds(user_id);

-- Append-only audit trail of broadcast stock deltas.
CREATE TABLE IF NOT EXISTS stock_deltas(
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id TEXT NOT NULL,
  prev_qty   INTEGER NOT NULL,
  new_qty    INTEGER NOT NULL,
  emitted_at INTEGER NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}
