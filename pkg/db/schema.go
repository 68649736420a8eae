package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    volume REAL NOT NULL,
    price REAL NOT NULL,
    stop_loss REAL DEFAULT 0,
    take_profit REAL DEFAULT 0,
    magic INTEGER DEFAULT 0,
    comment TEXT,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS results (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    message TEXT,
    ticket TEXT,
    price REAL DEFAULT 0,
    volume REAL DEFAULT 0,
    slippage REAL DEFAULT 0,
    latency_ms REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(order_id) REFERENCES orders(id)
);

CREATE TABLE IF NOT EXISTS rails (
    symbol TEXT PRIMARY KEY,
    lot_size_min REAL NOT NULL,
    lot_size_max REAL NOT NULL,
    max_positions INTEGER NOT NULL,
    max_daily_trades INTEGER NOT NULL,
    session_start_hour INTEGER NOT NULL,
    session_end_hour INTEGER NOT NULL,
    risk_pct REAL NOT NULL,
    tp_pct REAL NOT NULL,
    sl_pct REAL NOT NULL,
    magic INTEGER DEFAULT 0,
    is_active BOOLEAN DEFAULT 1,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_results_order ON results(order_id);
`

// ApplyMigrations creates journal tables when missing.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping verifies the handle is usable.
func Ping(d *Database) error {
	if d == nil || d.DB == nil {
		return sql.ErrConnDone
	}
	return d.DB.Ping()
}
