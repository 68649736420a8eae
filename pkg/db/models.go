package db

import (
	"context"
	"time"
)

// Order is one submitted order in the execution journal.
type Order struct {
	ID         string
	Symbol     string
	Side       string
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64
	Comment    string
	Status     string
	CreatedAt  time.Time
}

// Result is the recorded outcome for one processed signal.
type Result struct {
	ID        string
	OrderID   string
	Outcome   string
	Message   string
	Ticket    string
	Price     float64
	Volume    float64
	Slippage  float64
	LatencyMs float64
	CreatedAt time.Time
}

// RailRow mirrors one rail definition synced from the YAML config.
type RailRow struct {
	Symbol           string
	LotSizeMin       float64
	LotSizeMax       float64
	MaxPositions     int
	MaxDailyTrades   int
	SessionStartHour int
	SessionEndHour   int
	RiskPct          float64
	TPPct            float64
	SLPct            float64
	Magic            int64
	IsActive         bool
	UpdatedAt        time.Time
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, symbol, side, volume, price, stop_loss, take_profit, magic, comment, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ID, o.Symbol, o.Side, o.Volume, o.Price, o.StopLoss, o.TakeProfit, o.Magic, o.Comment, o.Status, o.CreatedAt,
	)
	return err
}

// CreateResult inserts a new execution result row.
func (d *Database) CreateResult(ctx context.Context, r Result) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO results (
			id, order_id, outcome, message, ticket, price, volume, slippage, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		r.ID, r.OrderID, r.Outcome, r.Message, r.Ticket, r.Price, r.Volume, r.Slippage, r.LatencyMs, r.CreatedAt,
	)
	return err
}

// ListRecentOrders returns the newest journal entries, most recent first.
func (d *Database) ListRecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, side, volume, price, stop_loss, take_profit, magic, comment, status, created_at
		FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Side, &o.Volume, &o.Price, &o.StopLoss, &o.TakeProfit, &o.Magic, &o.Comment, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ListResultsForOrder returns all recorded outcomes for one order.
func (d *Database) ListResultsForOrder(ctx context.Context, orderID string) ([]Result, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, order_id, outcome, message, ticket, price, volume, slippage, latency_ms, created_at
		FROM results WHERE order_id = ? ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Outcome, &r.Message, &r.Ticket, &r.Price, &r.Volume, &r.Slippage, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// UpsertRail stores or refreshes one rail definition.
func (d *Database) UpsertRail(ctx context.Context, r RailRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO rails (
			symbol, lot_size_min, lot_size_max, max_positions, max_daily_trades,
			session_start_hour, session_end_hour, risk_pct, tp_pct, sl_pct, magic, is_active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			lot_size_min = excluded.lot_size_min,
			lot_size_max = excluded.lot_size_max,
			max_positions = excluded.max_positions,
			max_daily_trades = excluded.max_daily_trades,
			session_start_hour = excluded.session_start_hour,
			session_end_hour = excluded.session_end_hour,
			risk_pct = excluded.risk_pct,
			tp_pct = excluded.tp_pct,
			sl_pct = excluded.sl_pct,
			magic = excluded.magic,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`,
		r.Symbol, r.LotSizeMin, r.LotSizeMax, r.MaxPositions, r.MaxDailyTrades,
		r.SessionStartHour, r.SessionEndHour, r.RiskPct, r.TPPct, r.SLPct, r.Magic, r.IsActive,
	)
	return err
}

// CountOrdersSince counts journal entries for a symbol created at or after ts.
func (d *Database) CountOrdersSince(ctx context.Context, symbol string, ts time.Time) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE symbol = ? AND created_at >= ?`, symbol, ts).Scan(&n)
	return n, err
}
