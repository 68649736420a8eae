package bridge

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"execution-core/internal/order"
)

// SubmitResult is what the broker connectivity layer reports back for a
// submitted order.
type SubmitResult struct {
	Ticket         string
	ExecutedPrice  float64
	ExecutedVolume float64
}

// Connector is the outbound broker collaborator. Implementations own the
// wire protocol; the bridge only hands over finished orders.
type Connector interface {
	SubmitOrder(ctx context.Context, o order.Order) (SubmitResult, error)
}

// PaperConnector simulates broker fills in memory with configurable
// slippage. Used when live execution is disabled and by tests.
type PaperConnector struct {
	SlippageBps float64 // basis points applied against the order direction
	LatencyMin  time.Duration
	LatencyMax  time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	tickets int
}

// NewPaperConnector creates a paper connector seeded from the clock.
func NewPaperConnector(slippageBps float64, latencyMin, latencyMax time.Duration) *PaperConnector {
	if latencyMax < latencyMin {
		latencyMin, latencyMax = latencyMax, latencyMin
	}
	return &PaperConnector{
		SlippageBps: slippageBps,
		LatencyMin:  latencyMin,
		LatencyMax:  latencyMax,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SubmitOrder fills the order immediately at the entry price plus simulated
// slippage.
func (p *PaperConnector) SubmitOrder(ctx context.Context, o order.Order) (SubmitResult, error) {
	if delay := p.simulatedLatency(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return SubmitResult{}, ctx.Err()
		}
	}

	price := o.Price
	p.mu.Lock()
	if p.SlippageBps > 0 {
		noise := p.rng.Float64() * p.SlippageBps / 10000.0
		if strings.EqualFold(string(o.Side), "BUY") {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
	}
	p.tickets++
	ticket := fmt.Sprintf("PAPER-%06d-%s", p.tickets, uuid.NewString()[:8])
	p.mu.Unlock()

	log.Printf("paper: filled %s %s vol=%.4f at %.5f (ticket %s)", o.Side, o.Symbol, o.Volume, price, ticket)
	return SubmitResult{
		Ticket:         ticket,
		ExecutedPrice:  price,
		ExecutedVolume: o.Volume,
	}, nil
}

func (p *PaperConnector) simulatedLatency() time.Duration {
	if p.LatencyMax <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	span := p.LatencyMax - p.LatencyMin
	if span <= 0 {
		return p.LatencyMin
	}
	return p.LatencyMin + time.Duration(p.rng.Int63n(int64(span)))
}
