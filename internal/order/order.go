package order

import (
	"fmt"
	"time"
)

// Side of a broker order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is the broker-ready order produced by the execution bridge.
// Field names and types form the outbound wire contract and must stay
// stable for broker compatibility.
type Order struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Magic      int64     `json:"magic"` // routing/ownership tag for downstream consumers
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CheckLevels verifies the direction-specific SL/TP ordering:
// BUY requires stop_loss < price < take_profit, SELL the reverse.
// Zero SL/TP means the level is unset and is not checked.
func (o Order) CheckLevels() error {
	switch o.Side {
	case SideBuy:
		if o.StopLoss > 0 && o.StopLoss >= o.Price {
			return fmt.Errorf("BUY stop loss %v must be below entry %v", o.StopLoss, o.Price)
		}
		if o.TakeProfit > 0 && o.TakeProfit <= o.Price {
			return fmt.Errorf("BUY take profit %v must be above entry %v", o.TakeProfit, o.Price)
		}
	case SideSell:
		if o.StopLoss > 0 && o.StopLoss <= o.Price {
			return fmt.Errorf("SELL stop loss %v must be above entry %v", o.StopLoss, o.Price)
		}
		if o.TakeProfit > 0 && o.TakeProfit >= o.Price {
			return fmt.Errorf("SELL take profit %v must be below entry %v", o.TakeProfit, o.Price)
		}
	default:
		return fmt.Errorf("unknown side %q", o.Side)
	}
	return nil
}

// Outcome classifies the result of processing one signal.
type Outcome string

const (
	OutcomeSuccess            Outcome = "SUCCESS"
	OutcomeRejected           Outcome = "REJECTED"
	OutcomeRiskRejected       Outcome = "RISK_REJECTED"
	OutcomeInvalidSignal      Outcome = "INVALID_SIGNAL"
	OutcomeInsufficientMargin Outcome = "INSUFFICIENT_MARGIN"
	OutcomeConnectionError    Outcome = "CONNECTION_ERROR"
	OutcomeTimeout            Outcome = "TIMEOUT"
)

// ExecutionResult is the per-signal outcome record. It is never mutated
// after creation.
type ExecutionResult struct {
	Outcome        Outcome       `json:"outcome"`
	Message        string        `json:"message"`
	Ticket         string        `json:"ticket,omitempty"` // broker ticket, when the connector returned one
	Symbol         string        `json:"symbol,omitempty"`
	ExecutedPrice  float64       `json:"executed_price,omitempty"`
	ExecutedVolume float64       `json:"executed_volume,omitempty"`
	Slippage       float64       `json:"slippage,omitempty"`
	Latency        time.Duration `json:"latency,omitempty"`
}

// OK reports whether the signal resulted in a live order.
func (r ExecutionResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}
