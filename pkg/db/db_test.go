package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return d
}

func TestJournalOrderAndResults(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	o := Order{
		ID:         "ord-1",
		Symbol:     "EURUSD",
		Side:       "BUY",
		Volume:     1.5,
		Price:      1.0855,
		StopLoss:   1.0650,
		TakeProfit: 1.1400,
		Magic:      1001,
		Comment:    "unit",
		Status:     "SUCCESS",
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := d.CreateResult(ctx, Result{
		ID:        "res-1",
		OrderID:   "ord-1",
		Outcome:   "SUCCESS",
		Message:   "executed",
		Ticket:    "PAPER-000001",
		Price:     1.0856,
		Volume:    1.5,
		Slippage:  0.0001,
		LatencyMs: 2.5,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}

	orders, err := d.ListRecentOrders(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, expected 1", len(orders))
	}
	got := orders[0]
	if got.ID != o.ID || got.Symbol != o.Symbol || got.Side != o.Side || got.Magic != o.Magic {
		t.Fatalf("order round trip mangled: %+v", got)
	}

	results, err := d.ListResultsForOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("ListResultsForOrder: %v", err)
	}
	if len(results) != 1 || results[0].Ticket != "PAPER-000001" {
		t.Fatalf("result round trip mangled: %+v", results)
	}
}

func TestUpsertRailIsIdempotent(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	row := RailRow{
		Symbol:         "EURUSD",
		LotSizeMin:     0.01,
		LotSizeMax:     5.0,
		MaxDailyTrades: 10,
		RiskPct:        0.02,
		Magic:          1001,
		IsActive:       true,
	}
	if err := d.UpsertRail(ctx, row); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	row.MaxDailyTrades = 20
	if err := d.UpsertRail(ctx, row); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var n, dailyCap int
	if err := d.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(max_daily_trades) FROM rails WHERE symbol = ?`, "EURUSD").Scan(&n, &dailyCap); err != nil {
		t.Fatalf("query rails: %v", err)
	}
	if n != 1 {
		t.Fatalf("upsert duplicated the row: count=%d", n)
	}
	if dailyCap != 20 {
		t.Fatalf("upsert did not refresh the row: cap=%d", dailyCap)
	}
}

func TestCountOrdersSince(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, ts := range []time.Time{now.Add(-48 * time.Hour), now.Add(-time.Hour), now} {
		if err := d.CreateOrder(ctx, Order{
			ID: "ord-" + string(rune('a'+i)), Symbol: "EURUSD", Side: "BUY",
			Volume: 1, Price: 1, Status: "SUCCESS", CreatedAt: ts,
		}); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}

	n, err := d.CountOrdersSince(ctx, "EURUSD", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("CountOrdersSince: %v", err)
	}
	if n != 2 {
		t.Fatalf("count=%d, expected 2", n)
	}
}
