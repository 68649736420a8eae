package rail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"execution-core/internal/bridge"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/signal"
	"execution-core/pkg/db"
)

// Rail couples one risk manager and one execution bridge for a single
// instrument, with its own session window and daily trade cap.
type Rail struct {
	Config Config
	Risk   *risk.Manager
	Bridge *bridge.Bridge

	mu        sync.Mutex
	dailyDate string // UTC date of the current counter window, "2006-01-02"
	dailyUsed int
}

// sessionOpen reports whether hour falls inside the trading window.
// start > end means the session wraps midnight; start == end means the
// rail trades around the clock.
func (r *Rail) sessionOpen(hour int) bool {
	start, end := r.Config.SessionStartHour, r.Config.SessionEndHour
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// tryConsumeDailySlot increments the rolling daily counter, resetting it at
// UTC midnight. Returns false when the cap is already reached.
func (r *Rail) tryConsumeDailySlot(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := now.UTC().Format("2006-01-02")
	if r.dailyDate != today {
		r.dailyDate = today
		r.dailyUsed = 0
	}
	if r.Config.MaxDailyTrades > 0 && r.dailyUsed >= r.Config.MaxDailyTrades {
		return false
	}
	r.dailyUsed++
	return true
}

// releaseDailySlot undoes a slot consumption when the order never reached
// the broker.
func (r *Rail) releaseDailySlot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dailyUsed > 0 {
		r.dailyUsed--
	}
}

// DailyUsed returns trades consumed in the current UTC day.
func (r *Rail) DailyUsed(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dailyDate != now.UTC().Format("2006-01-02") {
		return 0
	}
	return r.dailyUsed
}

// Dispatcher routes signals to per-instrument rails and enforces the
// cross-rail exposure ceiling. Rails process independent instruments
// concurrently; the one shared outbound connector is serialized behind a
// single mutex.
type Dispatcher struct {
	Bus     *events.Bus
	Metrics *monitor.DispatchMetrics

	global    GlobalConfig
	balanceFn func() float64

	railsMu sync.RWMutex
	rails   map[string]*Rail

	// transportMu guards the shared broker connector; no two rails may use
	// it at the same time.
	transportMu sync.Mutex
	connector   bridge.Connector

	// now is the clock; tests pin it to exercise session windows.
	now func() time.Time
}

// NewDispatcher creates a dispatcher around one shared connector.
func NewDispatcher(global GlobalConfig, conn bridge.Connector, bus *events.Bus, metrics *monitor.DispatchMetrics, balanceFn func() float64) *Dispatcher {
	return &Dispatcher{
		Bus:       bus,
		Metrics:   metrics,
		global:    global,
		balanceFn: balanceFn,
		rails:     make(map[string]*Rail),
		connector: conn,
		now:       time.Now,
	}
}

// SetClock overrides the dispatcher clock (tests only).
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// AddRail builds the (risk manager, bridge) pair for one instrument. Each
// rail gets its own registry snapshot file under dataDir.
func (d *Dispatcher) AddRail(cfg Config, dataDir string, database *db.Database, lockFile, persistAsync bool) (*Rail, error) {
	if !cfg.IsActive {
		return nil, fmt.Errorf("rail %s is not active", cfg.Symbol)
	}

	limits := risk.Limits{
		Symbol:    cfg.Symbol,
		MinVolume: cfg.LotSizeMin,
		MaxVolume: cfg.LotSizeMax,
		UnitValue: 1.0,
		RiskPct:   cfg.RiskPct,
		TPPct:     cfg.TPPct,
		SLPct:     cfg.SLPct,
	}

	var store *risk.Store
	if dataDir != "" {
		path := filepath.Join(dataDir, fmt.Sprintf("registry_%s.json", strings.ToUpper(cfg.Symbol)))
		s, err := risk.NewStore(path, lockFile)
		if err != nil {
			return nil, fmt.Errorf("rail %s: %w", cfg.Symbol, err)
		}
		store = s
	}

	riskMgr, err := risk.NewManager(limits, store, persistAsync)
	if err != nil {
		return nil, fmt.Errorf("rail %s: %w", cfg.Symbol, err)
	}

	r := &Rail{
		Config: cfg,
		Risk:   riskMgr,
		Bridge: bridge.New(riskMgr, d.Bus, database, cfg.Magic, d.balanceFn),
	}

	d.railsMu.Lock()
	d.rails[strings.ToUpper(cfg.Symbol)] = r
	d.railsMu.Unlock()

	log.Printf("rail: registered %s session=%02d-%02d lots=[%v, %v] daily_cap=%d",
		cfg.Symbol, cfg.SessionStartHour, cfg.SessionEndHour, cfg.LotSizeMin, cfg.LotSizeMax, cfg.MaxDailyTrades)
	return r, nil
}

// Rail returns the rail for a symbol, if registered.
func (d *Dispatcher) Rail(symbol string) (*Rail, bool) {
	d.railsMu.RLock()
	defer d.railsMu.RUnlock()
	r, ok := d.rails[strings.ToUpper(symbol)]
	return r, ok
}

// Rails returns all registered rails.
func (d *Dispatcher) Rails() []*Rail {
	d.railsMu.RLock()
	defer d.railsMu.RUnlock()
	out := make([]*Rail, 0, len(d.rails))
	for _, r := range d.rails {
		out = append(out, r)
	}
	return out
}

// TotalExposure sums open notional across every rail.
func (d *Dispatcher) TotalExposure() float64 {
	d.railsMu.RLock()
	defer d.railsMu.RUnlock()
	var total float64
	for _, r := range d.rails {
		total += r.Risk.Exposure()
	}
	return total
}

// Dispatch routes one signal to its rail and returns the execution result.
// Expiry is re-checked here so queueing delay can never execute a stale
// signal.
func (d *Dispatcher) Dispatch(ctx context.Context, sig signal.Signal) order.ExecutionResult {
	start := d.now()
	if d.Bus != nil {
		d.Bus.Publish(events.EventSignalReceived, sig)
	}
	res := d.dispatch(ctx, sig)
	if d.Metrics != nil {
		d.Metrics.Record(res.Outcome, time.Since(start))
	}
	if d.Bus != nil {
		d.Bus.Publish(events.EventResult, res)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, sig signal.Signal) order.ExecutionResult {
	now := d.now()

	r, ok := d.Rail(sig.Symbol)
	if !ok {
		return reject(order.OutcomeRejected, sig.Symbol,
			fmt.Sprintf("no rail configured for symbol %q", sig.Symbol))
	}

	if sig.Expired(now) {
		return reject(order.OutcomeInvalidSignal, sig.Symbol,
			fmt.Sprintf("signal expired (created %s, expiry %v)", sig.CreatedAt.Format(time.RFC3339), sig.Expiry))
	}

	switch sig.Direction {
	case signal.DirectionClose:
		return d.closeSymbol(r, sig.Symbol)
	case signal.DirectionCloseAll:
		return d.closeAll()
	case signal.DirectionNeutral:
		return order.ExecutionResult{
			Outcome: order.OutcomeRejected,
			Message: "no action for NEUTRAL direction",
			Symbol:  sig.Symbol,
		}
	}

	if !r.sessionOpen(now.UTC().Hour()) {
		return reject(order.OutcomeRiskRejected, sig.Symbol,
			fmt.Sprintf("session closed: hour %d outside window %02d-%02d",
				now.UTC().Hour(), r.Config.SessionStartHour, r.Config.SessionEndHour))
	}

	if !r.tryConsumeDailySlot(now) {
		return reject(order.OutcomeRiskRejected, sig.Symbol,
			fmt.Sprintf("daily trade cap reached: %d/%d", r.Config.MaxDailyTrades, r.Config.MaxDailyTrades))
	}

	o, err := r.Bridge.SignalToOrder(sig)
	if err != nil {
		r.releaseDailySlot()
		outcome := order.OutcomeRiskRejected
		if errors.Is(err, bridge.ErrInvalidSignal) {
			outcome = order.OutcomeInvalidSignal
		}
		return reject(outcome, sig.Symbol, err.Error())
	}
	if o == nil {
		r.releaseDailySlot()
		return order.ExecutionResult{
			Outcome: order.OutcomeRejected,
			Message: "signal produced no order",
			Symbol:  sig.Symbol,
		}
	}

	// Admission and the outbound call form one critical section. The
	// position cap and exposure ceiling read registry state that the
	// registration below mutates; checked outside the lock, two in-flight
	// dispatches could both pass before either registers. The connector is
	// serialized across rails anyway, so the same lock covers both.
	d.transportMu.Lock()

	if open := r.Risk.OpenCount(); r.Config.MaxPositions > 0 && open >= r.Config.MaxPositions {
		d.transportMu.Unlock()
		r.releaseDailySlot()
		return reject(order.OutcomeRiskRejected, sig.Symbol,
			fmt.Sprintf("rail position cap reached: %d/%d", open, r.Config.MaxPositions))
	}

	if msg, ok := d.exposureAllows(o.Volume * o.Price); !ok {
		d.transportMu.Unlock()
		r.releaseDailySlot()
		if d.Bus != nil {
			d.Bus.Publish(events.EventRiskAlert, msg)
		}
		return reject(order.OutcomeRiskRejected, sig.Symbol, msg)
	}

	results := r.Bridge.Execute(ctx, []order.Order{*o}, d.connector)
	d.transportMu.Unlock()

	res := results[0]
	if !res.OK() {
		r.releaseDailySlot()
	}
	return res
}

// exposureAllows checks the cross-rail exposure ceiling for an additional
// notional amount.
func (d *Dispatcher) exposureAllows(addNotional float64) (string, bool) {
	if d.global.MaxTotalExposurePct <= 0 || d.balanceFn == nil {
		return "", true
	}
	ceiling := d.balanceFn() * d.global.MaxTotalExposurePct
	current := d.TotalExposure()
	if current+addNotional > ceiling {
		return fmt.Sprintf("total exposure %.2f + %.2f exceeds ceiling %.2f",
			current, addNotional, ceiling), false
	}
	return "", true
}

// closeSymbol releases any open-order records for one symbol on its rail.
func (d *Dispatcher) closeSymbol(r *Rail, symbol string) order.ExecutionResult {
	released := 0
	for _, side := range []string{string(order.SideBuy), string(order.SideSell)} {
		if _, open := r.Risk.OpenOrders()[risk.Key(symbol, side)]; !open {
			continue
		}
		if err := r.Risk.Unregister(symbol, side); err != nil {
			return reject(order.OutcomeRiskRejected, symbol, err.Error())
		}
		released++
	}
	return order.ExecutionResult{
		Outcome: order.OutcomeSuccess,
		Message: fmt.Sprintf("released %d open-order record(s) for %s", released, symbol),
		Symbol:  symbol,
	}
}

// closeAll releases open-order records on every rail.
func (d *Dispatcher) closeAll() order.ExecutionResult {
	released := 0
	for _, r := range d.Rails() {
		for key, rec := range r.Risk.OpenOrders() {
			if err := r.Risk.Unregister(rec.Symbol, rec.Side); err != nil {
				return reject(order.OutcomeRiskRejected, rec.Symbol,
					fmt.Sprintf("release %s: %v", key, err))
			}
			released++
		}
	}
	return order.ExecutionResult{
		Outcome: order.OutcomeSuccess,
		Message: fmt.Sprintf("released %d open-order record(s) across all rails", released),
	}
}

// Close shuts down the per-rail risk managers.
func (d *Dispatcher) Close() {
	for _, r := range d.Rails() {
		r.Risk.Close()
	}
}

func reject(outcome order.Outcome, symbol, msg string) order.ExecutionResult {
	log.Printf("dispatch: %s rejected: %s", symbol, msg)
	return order.ExecutionResult{
		Outcome: outcome,
		Message: msg,
		Symbol:  symbol,
	}
}
