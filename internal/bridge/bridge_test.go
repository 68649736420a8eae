package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
)

type stubConnector struct {
	err     error
	submits int
	result  SubmitResult
}

func (s *stubConnector) SubmitOrder(ctx context.Context, o order.Order) (SubmitResult, error) {
	s.submits++
	if s.err != nil {
		return SubmitResult{}, s.err
	}
	if s.result.Ticket == "" {
		return SubmitResult{Ticket: "STUB-1", ExecutedPrice: o.Price, ExecutedVolume: o.Volume}, nil
	}
	return s.result, nil
}

func testBridge() *Bridge {
	mgr := risk.NewInMemory(risk.Limits{
		Symbol:    "EURUSD",
		MinVolume: 0.01,
		MaxVolume: 100.0,
		UnitValue: 1.0,
		RiskPct:   0.02,
		TPPct:     0.05,
		SLPct:     0.02,
	})
	return New(mgr, nil, nil, 12345, func() float64 { return 10000.0 })
}

func buySignal(price float64) signal.Signal {
	sig := signal.New("EURUSD", signal.DirectionBuy, signal.SourceStrategy, 0)
	sig.Price = price
	return sig
}

func TestSignalToOrderSizesFromRisk(t *testing.T) {
	b := testBridge()
	o, err := b.SignalToOrder(buySignal(100.0))
	if err != nil {
		t.Fatalf("SignalToOrder: %v", err)
	}
	if o == nil {
		t.Fatal("expected an order for a BUY signal")
	}
	if o.Side != order.SideBuy {
		t.Fatalf("side=%s, expected BUY", o.Side)
	}
	// Derived levels must satisfy the BUY ordering.
	if !(o.StopLoss < o.Price && o.Price < o.TakeProfit) {
		t.Fatalf("derived levels out of order: sl=%v price=%v tp=%v", o.StopLoss, o.Price, o.TakeProfit)
	}
	// sl = 100*(1-0.02) = 98, risk = 10000*0.02 = 200, volume = 200/2 = 100.
	if o.Volume != 100.0 {
		t.Fatalf("volume=%v, expected 100.0", o.Volume)
	}
	if o.Magic != 12345 {
		t.Fatalf("magic=%d, expected 12345", o.Magic)
	}
	if o.ID == "" {
		t.Fatal("order has no ID")
	}
}

func TestSignalToOrderHonorsExplicitFields(t *testing.T) {
	b := testBridge()
	sig := buySignal(100.0)
	sig.Volume = 0.5
	sig.StopLoss = 97.0
	sig.TakeProfit = 110.0

	o, err := b.SignalToOrder(sig)
	if err != nil {
		t.Fatalf("SignalToOrder: %v", err)
	}
	if o.Volume != 0.5 || o.StopLoss != 97.0 || o.TakeProfit != 110.0 {
		t.Fatalf("explicit fields overridden: %+v", o)
	}
}

func TestSignalToOrderRejections(t *testing.T) {
	b := testBridge()

	tests := []struct {
		name string
		sig  func() signal.Signal
	}{
		{
			name: "expired signal",
			sig: func() signal.Signal {
				sig := buySignal(100.0)
				sig.CreatedAt = time.Now().UTC().Add(-31 * time.Second)
				sig.Expiry = 30 * time.Second
				return sig
			},
		},
		{
			name: "no reference price",
			sig: func() signal.Signal {
				return buySignal(0)
			},
		},
		{
			name: "blank symbol",
			sig: func() signal.Signal {
				sig := buySignal(100.0)
				sig.Symbol = ""
				return sig
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := b.SignalToOrder(tt.sig())
			if !errors.Is(err, ErrInvalidSignal) {
				t.Fatalf("expected ErrInvalidSignal, got %v", err)
			}
			if o != nil {
				t.Fatalf("rejected signal produced an order: %+v", o)
			}
		})
	}

	// Rejection happens before the risk manager: the registry stays empty.
	if b.Risk.OpenCount() != 0 {
		t.Fatalf("registry touched by rejected signals: %d records", b.Risk.OpenCount())
	}
}

func TestSignalToOrderNonActionable(t *testing.T) {
	b := testBridge()
	for _, dir := range []signal.Direction{signal.DirectionNeutral, signal.DirectionClose, signal.DirectionCloseAll} {
		sig := signal.New("EURUSD", dir, signal.SourceStrategy, 0)
		o, err := b.SignalToOrder(sig)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", dir, err)
		}
		if o != nil {
			t.Fatalf("%s produced an order", dir)
		}
	}
}

func TestConvertBatchSkipsBadSignals(t *testing.T) {
	b := testBridge()

	expired := buySignal(100.0)
	expired.CreatedAt = time.Now().UTC().Add(-time.Minute)
	expired.Expiry = 30 * time.Second

	sell := signal.New("EURUSD", signal.DirectionSell, signal.SourceStrategy, 0)
	sell.Price = 100.0

	orders := b.ConvertBatch([]signal.Signal{
		buySignal(100.0),
		expired, // skipped, must not short-circuit the batch
		sell,
	}, 0)

	if len(orders) != 2 {
		t.Fatalf("converted %d orders, expected 2", len(orders))
	}
	if orders[0].Side != order.SideBuy || orders[1].Side != order.SideSell {
		t.Fatalf("wrong order sequence: %s, %s", orders[0].Side, orders[1].Side)
	}
}

func TestConvertBatchLimit(t *testing.T) {
	b := testBridge()
	signals := make([]signal.Signal, 5)
	for i := range signals {
		signals[i] = buySignal(100.0)
	}
	orders := b.ConvertBatch(signals, 2)
	if len(orders) != 2 {
		t.Fatalf("limit ignored: got %d orders, expected 2", len(orders))
	}
}

func TestExecuteDryRunHasNoSideEffects(t *testing.T) {
	b := testBridge()
	orders := b.ConvertBatch([]signal.Signal{buySignal(100.0)}, 0)
	if len(orders) != 1 {
		t.Fatalf("setup: got %d orders", len(orders))
	}

	rendered := b.ExecuteDryRun(orders)
	for _, want := range []string{"--- order 1/1 ---", "symbol:      EURUSD", "side:        BUY"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("rendering missing %q:\n%s", want, rendered)
		}
	}
	if b.Risk.OpenCount() != 0 {
		t.Fatalf("dry run registered %d orders", b.Risk.OpenCount())
	}
}

func TestExecuteSuccessRegistersOrder(t *testing.T) {
	b := testBridge()
	conn := &stubConnector{}
	orders := b.ConvertBatch([]signal.Signal{buySignal(100.0)}, 0)

	results := b.Execute(context.Background(), orders, conn)
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	res := results[0]
	if !res.OK() {
		t.Fatalf("outcome=%s: %s", res.Outcome, res.Message)
	}
	if res.Ticket == "" {
		t.Fatal("successful execution has no ticket")
	}
	if b.Risk.OpenCount() != 1 {
		t.Fatalf("open count=%d, expected 1", b.Risk.OpenCount())
	}
}

func TestExecuteDuplicateRejected(t *testing.T) {
	b := testBridge()
	conn := &stubConnector{}
	orders := b.ConvertBatch([]signal.Signal{buySignal(100.0), buySignal(100.0)}, 0)
	if len(orders) != 2 {
		t.Fatalf("setup: got %d orders", len(orders))
	}

	results := b.Execute(context.Background(), orders, conn)
	if results[0].Outcome != order.OutcomeSuccess {
		t.Fatalf("first: %s (%s)", results[0].Outcome, results[0].Message)
	}
	if results[1].Outcome != order.OutcomeRejected {
		t.Fatalf("second: %s, expected REJECTED", results[1].Outcome)
	}
	if conn.submits != 1 {
		t.Fatalf("connector saw %d submits, expected 1", conn.submits)
	}
}

// Connector failure must release the reservation so the same key can be
// retried immediately.
func TestExecuteReleasesOnConnectorFailure(t *testing.T) {
	b := testBridge()
	conn := &stubConnector{err: errors.New("broker unreachable")}
	orders := b.ConvertBatch([]signal.Signal{buySignal(100.0)}, 0)

	results := b.Execute(context.Background(), orders, conn)
	if results[0].Outcome != order.OutcomeConnectionError {
		t.Fatalf("outcome=%s, expected CONNECTION_ERROR", results[0].Outcome)
	}
	if b.Risk.OpenCount() != 0 {
		t.Fatalf("ghost record left after connector failure: %d", b.Risk.OpenCount())
	}

	// The key is free again.
	conn.err = nil
	results = b.Execute(context.Background(), orders, conn)
	if !results[0].OK() {
		t.Fatalf("retry after release failed: %s (%s)", results[0].Outcome, results[0].Message)
	}
}

func TestExecuteTimeoutOutcome(t *testing.T) {
	b := testBridge()
	conn := &stubConnector{err: context.DeadlineExceeded}
	orders := b.ConvertBatch([]signal.Signal{buySignal(100.0)}, 0)

	results := b.Execute(context.Background(), orders, conn)
	if results[0].Outcome != order.OutcomeTimeout {
		t.Fatalf("outcome=%s, expected TIMEOUT", results[0].Outcome)
	}
	if b.Risk.OpenCount() != 0 {
		t.Fatalf("ghost record left after timeout: %d", b.Risk.OpenCount())
	}
}

func TestPaperConnectorSlippageDirection(t *testing.T) {
	conn := NewPaperConnector(10, 0, 0)

	buy := order.Order{Symbol: "EURUSD", Side: order.SideBuy, Volume: 1, Price: 100.0}
	res, err := conn.SubmitOrder(context.Background(), buy)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.ExecutedPrice < buy.Price {
		t.Fatalf("BUY slippage improved the price: %v < %v", res.ExecutedPrice, buy.Price)
	}

	sell := order.Order{Symbol: "EURUSD", Side: order.SideSell, Volume: 1, Price: 100.0}
	res, err = conn.SubmitOrder(context.Background(), sell)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.ExecutedPrice > sell.Price {
		t.Fatalf("SELL slippage improved the price: %v > %v", res.ExecutedPrice, sell.Price)
	}
}
