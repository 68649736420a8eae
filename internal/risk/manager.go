package risk

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"execution-core/internal/order"
)

// Limits holds the per-instrument risk parameters consumed by a Manager.
type Limits struct {
	Symbol    string  `json:"symbol"`
	MinVolume float64 `json:"min_volume"`
	MaxVolume float64 `json:"max_volume"`
	// UnitValue is the account-currency value of a one-point move for one
	// unit of volume, used by position sizing.
	UnitValue float64 `json:"unit_value"`
	RiskPct   float64 `json:"risk_pct"`
	TPPct     float64 `json:"tp_pct"`
	SLPct     float64 `json:"sl_pct"`
	// MaxDeviationPct rejects orders whose entry price strays too far from
	// the current market price. Zero disables the check.
	MaxDeviationPct float64 `json:"max_deviation_pct"`
}

// DefaultLimits returns conservative limits for one instrument.
func DefaultLimits(symbol string) Limits {
	return Limits{
		Symbol:          symbol,
		MinVolume:       0.01,
		MaxVolume:       100.0,
		UnitValue:       1.0,
		RiskPct:         0.02,
		TPPct:           0.05,
		SLPct:           0.02,
		MaxDeviationPct: 0,
	}
}

// Manager is the sole authority over which (symbol, side) pairs are open
// and how much may be risked on the next order. It owns the open-order
// registry and its durable snapshot.
type Manager struct {
	limits Limits
	store  *Store

	mu     sync.RWMutex
	orders map[string]OpenOrderRecord

	// Async persistence (optional): mutations mark the registry dirty and a
	// single-writer goroutine flushes it. Trades lock-hold time during I/O
	// for a window where the newest mutation is memory-only.
	persistAsync bool
	dirty        chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

// NewManager loads the persisted registry (if any) and returns a manager.
func NewManager(limits Limits, store *Store, persistAsync bool) (*Manager, error) {
	m := &Manager{
		limits:       limits,
		store:        store,
		orders:       map[string]OpenOrderRecord{},
		persistAsync: persistAsync,
		dirty:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("load open-order registry: %w", err)
		}
		m.orders = loaded
		if len(loaded) > 0 {
			log.Printf("risk: recovered %d open order(s) for %s from %s", len(loaded), limits.Symbol, store.Path())
		}
	}

	if persistAsync && store != nil {
		go m.persistLoop()
	}
	return m, nil
}

// NewInMemory creates a manager without durable persistence (tests, dry runs).
func NewInMemory(limits Limits) *Manager {
	m, _ := NewManager(limits, nil, false)
	return m
}

// Limits returns a copy of the configured limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// CalculateLotSize sizes an order so that being stopped out loses at most
// balance*riskPct, clamped to the configured volume bounds.
//
//	volume = (balance * riskPct) / (|entry - stop| * unitValue)
func (m *Manager) CalculateLotSize(entryPrice, stopLossPrice, balance, riskPct float64) (float64, error) {
	if entryPrice <= 0 || math.IsNaN(entryPrice) || math.IsInf(entryPrice, 0) {
		return 0, &ConfigError{Op: "CalculateLotSize", Reason: fmt.Sprintf("entry price %v is not positive", entryPrice)}
	}
	if balance <= 0 {
		return 0, &ConfigError{Op: "CalculateLotSize", Reason: fmt.Sprintf("balance %v is not positive", balance)}
	}
	if riskPct <= 0 || riskPct > 1 {
		return 0, &ConfigError{Op: "CalculateLotSize", Reason: fmt.Sprintf("risk percent %v outside (0, 1]", riskPct)}
	}
	if m.limits.UnitValue <= 0 {
		return 0, &ConfigError{Op: "CalculateLotSize", Reason: fmt.Sprintf("unit value %v is not positive", m.limits.UnitValue)}
	}

	distance := math.Abs(entryPrice - stopLossPrice)
	if distance == 0 || math.IsNaN(distance) {
		return 0, &ConfigError{Op: "CalculateLotSize", Reason: "entry price equals stop loss price"}
	}

	volume := (balance * riskPct) / (distance * m.limits.UnitValue)
	if volume < m.limits.MinVolume {
		volume = m.limits.MinVolume
	}
	if m.limits.MaxVolume > 0 && volume > m.limits.MaxVolume {
		volume = m.limits.MaxVolume
	}
	return volume, nil
}

// CalculateTPSL derives take-profit and stop-loss levels from the entry
// price. The construction guarantees the side-specific ordering invariant:
// BUY yields sl < entry < tp, SELL yields tp < entry < sl.
func (m *Manager) CalculateTPSL(entryPrice float64, side order.Side, tpPct, slPct float64) (takeProfit, stopLoss float64) {
	if side == order.SideBuy {
		return entryPrice * (1 + tpPct), entryPrice * (1 - slPct)
	}
	return entryPrice * (1 - tpPct), entryPrice * (1 + slPct)
}

// ValidateOrder runs pre-trade checks against the configured limits and the
// current market price. Failures come back as *ValidationError.
func (m *Manager) ValidateOrder(o order.Order, currentPrice float64) error {
	if o.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "missing symbol"}
	}
	if o.Side != order.SideBuy && o.Side != order.SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", o.Side)}
	}
	for _, field := range []struct {
		name string
		val  float64
	}{
		{"volume", o.Volume},
		{"price", o.Price},
		{"stop_loss", o.StopLoss},
		{"take_profit", o.TakeProfit},
	} {
		if math.IsNaN(field.val) || math.IsInf(field.val, 0) {
			return &ValidationError{Field: field.name, Reason: fmt.Sprintf("%s is not a finite number", field.name)}
		}
	}
	if o.Price <= 0 {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("entry price %v is not positive", o.Price)}
	}
	if o.Volume < m.limits.MinVolume || (m.limits.MaxVolume > 0 && o.Volume > m.limits.MaxVolume) {
		return &ValidationError{
			Field:  "volume",
			Reason: fmt.Sprintf("volume %v outside bounds [%v, %v]", o.Volume, m.limits.MinVolume, m.limits.MaxVolume),
		}
	}
	if err := o.CheckLevels(); err != nil {
		return &ValidationError{Field: "levels", Reason: err.Error()}
	}
	if m.limits.MaxDeviationPct > 0 && currentPrice > 0 {
		deviation := math.Abs(o.Price-currentPrice) / currentPrice
		if deviation > m.limits.MaxDeviationPct {
			return &ValidationError{
				Field:  "price",
				Reason: fmt.Sprintf("entry %v deviates %.4f from market %v (max %.4f)", o.Price, deviation, currentPrice, m.limits.MaxDeviationPct),
			}
		}
	}
	return nil
}

// CheckAndRegister atomically checks for an existing open record under the
// (symbol, side) key and inserts a new one if absent. Check and insert run
// under one lock acquisition; callers must never split them.
func (m *Manager) CheckAndRegister(symbol, side string, volume, price float64) error {
	key := Key(symbol, side)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.orders[key]; ok {
		return fmt.Errorf("%w: %s opened at %s with volume %v",
			ErrDuplicateOrder, key, existing.RegisteredAt.Format(time.RFC3339), existing.Volume)
	}

	m.orders[key] = OpenOrderRecord{
		Symbol:       symbol,
		Side:         side,
		Volume:       volume,
		Price:        price,
		RegisteredAt: time.Now().UTC(),
	}

	if err := m.persistLocked(); err != nil {
		// Keep memory and disk in agreement: undo the insert.
		delete(m.orders, key)
		return fmt.Errorf("%w: register %s: %v", ErrPersistence, key, err)
	}
	return nil
}

// Unregister removes the record for (symbol, side). Removing an absent key
// is a no-op.
func (m *Manager) Unregister(symbol, side string) error {
	key := Key(symbol, side)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.orders[key]
	if !ok {
		return nil
	}
	delete(m.orders, key)

	if err := m.persistLocked(); err != nil {
		m.orders[key] = existing
		return fmt.Errorf("%w: unregister %s: %v", ErrPersistence, key, err)
	}
	return nil
}

// OpenOrders returns a snapshot copy of the registry.
func (m *Manager) OpenOrders() map[string]OpenOrderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]OpenOrderRecord, len(m.orders))
	for k, v := range m.orders {
		out[k] = v
	}
	return out
}

// OpenCount returns the number of registered open orders.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// Exposure returns the summed notional (volume * entry price) of all open
// records under this manager.
func (m *Manager) Exposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, rec := range m.orders {
		total += rec.Volume * rec.Price
	}
	return total
}

// persistLocked writes the snapshot; callers hold m.mu. In async mode it
// only marks the registry dirty and the single-writer goroutine flushes.
func (m *Manager) persistLocked() error {
	if m.store == nil {
		return nil
	}
	if m.persistAsync {
		select {
		case m.dirty <- struct{}{}:
		default:
		}
		return nil
	}
	return m.store.Save(m.orders)
}

func (m *Manager) persistLoop() {
	for {
		select {
		case <-m.dirty:
			snap := m.OpenOrders()
			if err := m.store.Save(snap); err != nil {
				log.Printf("risk: async registry write failed: %v", err)
			}
		case <-m.done:
			// Final flush so a clean shutdown never loses the last mutation.
			snap := m.OpenOrders()
			if err := m.store.Save(snap); err != nil {
				log.Printf("risk: final registry write failed: %v", err)
			}
			return
		}
	}
}

// Close stops the async persistence worker after a final flush. Safe to
// call on managers without async persistence.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.persistAsync && m.store != nil {
			close(m.done)
		}
	})
}
