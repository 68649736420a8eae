package signal

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the action requested by the upstream strategy.
type Direction string

const (
	DirectionBuy      Direction = "BUY"
	DirectionSell     Direction = "SELL"
	DirectionNeutral  Direction = "NEUTRAL"
	DirectionClose    Direction = "CLOSE"
	DirectionCloseAll Direction = "CLOSE_ALL"
)

// Source identifies who produced a signal.
type Source string

const (
	SourceStrategy Source = "strategy"
	SourceManual   Source = "manual"
	SourceRisk     Source = "risk-manager"
	SourceSystem   Source = "system"
)

// Signal is a directional trading intent emitted by the upstream strategy.
// A signal is consumed exactly once by the execution bridge or discarded.
type Signal struct {
	Symbol     string            `json:"symbol"`
	Direction  Direction         `json:"direction"`
	Source     Source            `json:"source"`
	Price      float64           `json:"price,omitempty"`  // optional limit price; 0 = market
	Volume     float64           `json:"volume,omitempty"` // optional explicit volume; 0 = sized by risk manager
	StopLoss   float64           `json:"stop_loss,omitempty"`
	TakeProfit float64           `json:"take_profit,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Expiry     time.Duration     `json:"expiry"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// New builds a signal stamped with the current time.
func New(symbol string, dir Direction, src Source, expiry time.Duration) Signal {
	return Signal{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Direction: dir,
		Source:    src,
		CreatedAt: time.Now().UTC(),
		Expiry:    expiry,
	}
}

// Expired reports whether the signal has outlived its expiry at time now.
// A zero expiry means the signal never expires.
func (s Signal) Expired(now time.Time) bool {
	if s.Expiry <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) > s.Expiry
}

// Actionable reports whether the direction produces an order at all.
func (s Signal) Actionable() bool {
	switch s.Direction {
	case DirectionBuy, DirectionSell:
		return true
	}
	return false
}

// Validate checks the signal's own well-formedness. Expiry is evaluated at
// time now so a queued signal can be re-checked right before execution.
func (s Signal) Validate(now time.Time) error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("signal has no symbol")
	}
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionNeutral, DirectionClose, DirectionCloseAll:
	default:
		return fmt.Errorf("unknown direction %q", s.Direction)
	}
	if s.Price < 0 {
		return fmt.Errorf("negative price %v", s.Price)
	}
	if s.Volume < 0 {
		return fmt.Errorf("negative volume %v", s.Volume)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("signal has no creation timestamp")
	}
	if s.Expired(now) {
		return fmt.Errorf("signal expired %v ago (expiry %v)", now.Sub(s.CreatedAt)-s.Expiry, s.Expiry)
	}
	return nil
}
