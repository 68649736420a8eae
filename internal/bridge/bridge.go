package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/pkg/db"
)

// ErrInvalidSignal marks signals dropped before they reach the risk manager
// (expired, malformed, missing fields). Never retried.
var ErrInvalidSignal = errors.New("invalid signal")

// Bridge translates signals into broker-ready orders. All duplicate and
// risk decisions are delegated to the risk manager; the bridge itself keeps
// no state between calls.
type Bridge struct {
	Risk  *risk.Manager
	Bus   *events.Bus
	DB    *db.Database // optional execution journal
	Magic int64        // routing tag stamped on every emitted order

	// BalanceFn supplies the account balance used for position sizing when
	// a signal carries no explicit volume.
	BalanceFn func() float64
}

// New creates a bridge bound to one risk manager.
func New(riskMgr *risk.Manager, bus *events.Bus, database *db.Database, magic int64, balanceFn func() float64) *Bridge {
	return &Bridge{
		Risk:      riskMgr,
		Bus:       bus,
		DB:        database,
		Magic:     magic,
		BalanceFn: balanceFn,
	}
}

// SignalToOrder converts one signal into an order. A non-actionable
// direction (NEUTRAL/CLOSE handling lives elsewhere) returns (nil, nil).
// Signals failing self-validation are rejected with ErrInvalidSignal before
// the risk manager is ever consulted.
func (b *Bridge) SignalToOrder(sig signal.Signal) (*order.Order, error) {
	if err := sig.Validate(time.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if !sig.Actionable() {
		return nil, nil
	}
	if sig.Price <= 0 {
		return nil, fmt.Errorf("%w: signal for %s carries no reference price", ErrInvalidSignal, sig.Symbol)
	}

	side := order.SideBuy
	if sig.Direction == signal.DirectionSell {
		side = order.SideSell
	}

	limits := b.Risk.Limits()

	takeProfit := sig.TakeProfit
	stopLoss := sig.StopLoss
	if takeProfit == 0 || stopLoss == 0 {
		tp, sl := b.Risk.CalculateTPSL(sig.Price, side, limits.TPPct, limits.SLPct)
		if takeProfit == 0 {
			takeProfit = tp
		}
		if stopLoss == 0 {
			stopLoss = sl
		}
	}

	volume := sig.Volume
	if volume == 0 {
		var balance float64
		if b.BalanceFn != nil {
			balance = b.BalanceFn()
		}
		sized, err := b.Risk.CalculateLotSize(sig.Price, stopLoss, balance, limits.RiskPct)
		if err != nil {
			return nil, fmt.Errorf("size order for %s: %w", sig.Symbol, err)
		}
		volume = sized
	}

	o := order.Order{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Side:       side,
		Volume:     volume,
		Price:      sig.Price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Magic:      b.Magic,
		Comment:    sig.Comment,
		CreatedAt:  time.Now().UTC(),
	}

	if err := b.Risk.ValidateOrder(o, sig.Price); err != nil {
		return nil, err
	}
	return &o, nil
}

// ConvertBatch applies SignalToOrder to each signal in order. One bad
// signal is skipped and logged, never fatal to the batch. A positive limit
// caps the number of emitted orders.
func (b *Bridge) ConvertBatch(signals []signal.Signal, limit int) []order.Order {
	orders := make([]order.Order, 0, len(signals))
	for _, sig := range signals {
		if limit > 0 && len(orders) >= limit {
			log.Printf("bridge: batch limit %d reached, %s skipped", limit, sig.Symbol)
			continue
		}
		o, err := b.SignalToOrder(sig)
		if err != nil {
			log.Printf("bridge: skipping signal %s %s: %v", sig.Symbol, sig.Direction, err)
			if b.Bus != nil {
				b.Bus.Publish(events.EventSignalRejected, err.Error())
			}
			continue
		}
		if o == nil {
			continue
		}
		orders = append(orders, *o)
	}
	return orders
}

// ExecuteDryRun renders each candidate order in a stable, human-diffable
// form. It never touches the risk registry or any connector.
func (b *Bridge) ExecuteDryRun(orders []order.Order) string {
	var sb strings.Builder
	for i, o := range orders {
		fmt.Fprintf(&sb, "--- order %d/%d ---\n", i+1, len(orders))
		fmt.Fprintf(&sb, "symbol:      %s\n", o.Symbol)
		fmt.Fprintf(&sb, "side:        %s\n", o.Side)
		fmt.Fprintf(&sb, "volume:      %.4f\n", o.Volume)
		fmt.Fprintf(&sb, "price:       %.5f\n", o.Price)
		fmt.Fprintf(&sb, "stop_loss:   %.5f\n", o.StopLoss)
		fmt.Fprintf(&sb, "take_profit: %.5f\n", o.TakeProfit)
		fmt.Fprintf(&sb, "magic:       %d\n", o.Magic)
		if o.Comment != "" {
			fmt.Fprintf(&sb, "comment:     %s\n", o.Comment)
		}
	}
	return sb.String()
}

// Execute submits orders through the connector, guarding each with the
// atomic duplicate check. A connector failure releases the reservation so
// no ghost record survives.
func (b *Bridge) Execute(ctx context.Context, orders []order.Order, conn Connector) []order.ExecutionResult {
	results := make([]order.ExecutionResult, 0, len(orders))
	for _, o := range orders {
		results = append(results, b.executeOne(ctx, o, conn))
	}
	return results
}

func (b *Bridge) executeOne(ctx context.Context, o order.Order, conn Connector) order.ExecutionResult {
	start := time.Now()

	if err := b.Risk.CheckAndRegister(o.Symbol, string(o.Side), o.Volume, o.Price); err != nil {
		outcome := order.OutcomeRiskRejected
		if errors.Is(err, risk.ErrDuplicateOrder) {
			outcome = order.OutcomeRejected
		}
		log.Printf("bridge: %s %s rejected: %v", o.Symbol, o.Side, err)
		if b.Bus != nil {
			b.Bus.Publish(events.EventOrderRejected, err.Error())
		}
		res := order.ExecutionResult{
			Outcome: outcome,
			Message: err.Error(),
			Symbol:  o.Symbol,
			Latency: time.Since(start),
		}
		b.journal(ctx, o, res)
		return res
	}

	if b.Bus != nil {
		b.Bus.Publish(events.EventOrderSubmitted, o)
	}

	submit, err := conn.SubmitOrder(ctx, o)
	if err != nil {
		// Release the reservation: the broker never saw this order.
		if uerr := b.Risk.Unregister(o.Symbol, string(o.Side)); uerr != nil {
			log.Printf("bridge: release after connector failure: %v", uerr)
		}
		outcome := order.OutcomeConnectionError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = order.OutcomeTimeout
		}
		log.Printf("bridge: connector failed for %s %s: %v", o.Symbol, o.Side, err)
		if b.Bus != nil {
			b.Bus.Publish(events.EventOrderReleased, o)
		}
		res := order.ExecutionResult{
			Outcome: outcome,
			Message: fmt.Sprintf("connector: %v", err),
			Symbol:  o.Symbol,
			Latency: time.Since(start),
		}
		b.journal(ctx, o, res)
		return res
	}

	res := order.ExecutionResult{
		Outcome:        order.OutcomeSuccess,
		Message:        fmt.Sprintf("executed %s %s vol=%.4f", o.Side, o.Symbol, submit.ExecutedVolume),
		Ticket:         submit.Ticket,
		Symbol:         o.Symbol,
		ExecutedPrice:  submit.ExecutedPrice,
		ExecutedVolume: submit.ExecutedVolume,
		Slippage:       submit.ExecutedPrice - o.Price,
		Latency:        time.Since(start),
	}
	if b.Bus != nil {
		b.Bus.Publish(events.EventOrderExecuted, res)
	}
	b.journal(ctx, o, res)
	return res
}

// journal appends the order and its result to the sqlite execution journal.
// Journal failures are logged, not surfaced: the journal is observability
// state, the registry snapshot is the durable contract.
func (b *Bridge) journal(ctx context.Context, o order.Order, res order.ExecutionResult) {
	if b.DB == nil {
		return
	}
	row := db.Order{
		ID:         o.ID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Volume:     o.Volume,
		Price:      o.Price,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Magic:      o.Magic,
		Comment:    o.Comment,
		Status:     string(res.Outcome),
		CreatedAt:  o.CreatedAt,
	}
	if err := b.DB.CreateOrder(ctx, row); err != nil {
		log.Printf("bridge: journal order error: %v", err)
		return
	}
	result := db.Result{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Outcome:   string(res.Outcome),
		Message:   res.Message,
		Ticket:    res.Ticket,
		Price:     res.ExecutedPrice,
		Volume:    res.ExecutedVolume,
		Slippage:  res.Slippage,
		LatencyMs: float64(res.Latency.Nanoseconds()) / 1e6,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.DB.CreateResult(ctx, result); err != nil {
		log.Printf("bridge: journal result error: %v", err)
	}
}
