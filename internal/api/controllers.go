package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/order"
	"execution-core/internal/signal"
)

// signalRequest is the inbound wire form of a Signal. Numeric fields must
// arrive as JSON numbers; gin's binding rejects type mismatches.
type signalRequest struct {
	Symbol        string            `json:"symbol" binding:"required"`
	Direction     string            `json:"direction" binding:"required"`
	Source        string            `json:"source"`
	Price         float64           `json:"price"`
	Volume        float64           `json:"volume"`
	StopLoss      float64           `json:"stop_loss"`
	TakeProfit    float64           `json:"take_profit"`
	Comment       string            `json:"comment"`
	ExpirySeconds int               `json:"expiry_seconds"`
	Metadata      map[string]string `json:"metadata"`
}

func (r signalRequest) toSignal() signal.Signal {
	src := signal.Source(r.Source)
	if src == "" {
		src = signal.SourceStrategy
	}
	sig := signal.New(r.Symbol, signal.Direction(r.Direction), src,
		time.Duration(r.ExpirySeconds)*time.Second)
	sig.Price = r.Price
	sig.Volume = r.Volume
	sig.StopLoss = r.StopLoss
	sig.TakeProfit = r.TakeProfit
	sig.Comment = r.Comment
	sig.Metadata = r.Metadata
	return sig
}

func statusFor(res order.ExecutionResult) int {
	switch res.Outcome {
	case order.OutcomeSuccess:
		return http.StatusOK
	case order.OutcomeInvalidSignal:
		return http.StatusBadRequest
	case order.OutcomeConnectionError, order.OutcomeTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) dispatchSignal(c *gin.Context) {
	var req signalRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": err.Error(),
		})
		return
	}

	res := s.Dispatcher.Dispatch(c.Request.Context(), req.toSignal())
	c.JSON(statusFor(res), res)
}

func (s *Server) dispatchBatch(c *gin.Context) {
	var reqs []signalRequest
	if err := c.BindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": err.Error(),
		})
		return
	}

	results := make([]order.ExecutionResult, 0, len(reqs))
	for i, req := range reqs {
		if s.BatchLimit > 0 && i >= s.BatchLimit {
			results = append(results, order.ExecutionResult{
				Outcome: order.OutcomeRejected,
				Message: fmt.Sprintf("batch limit %d reached", s.BatchLimit),
				Symbol:  req.Symbol,
			})
			continue
		}
		results = append(results, s.Dispatcher.Dispatch(c.Request.Context(), req.toSignal()))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// dryRun converts signals to orders and renders them without touching the
// registry or any connector.
func (s *Server) dryRun(c *gin.Context) {
	var reqs []signalRequest
	if err := c.BindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": err.Error(),
		})
		return
	}

	var rendered string
	count := 0
	for _, req := range reqs {
		if s.BatchLimit > 0 && count >= s.BatchLimit {
			break
		}
		sig := req.toSignal()
		r, ok := s.Dispatcher.Rail(sig.Symbol)
		if !ok {
			continue
		}
		remaining := 0
		if s.BatchLimit > 0 {
			remaining = s.BatchLimit - count
		}
		orders := r.Bridge.ConvertBatch([]signal.Signal{sig}, remaining)
		rendered += r.Bridge.ExecuteDryRun(orders)
		count += len(orders)
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":   count,
		"rendered": rendered,
	})
}

func (s *Server) getRegistry(c *gin.Context) {
	out := gin.H{}
	for _, r := range s.Dispatcher.Rails() {
		for key, rec := range r.Risk.OpenOrders() {
			out[key] = gin.H{
				"symbol":        rec.Symbol,
				"side":          rec.Side,
				"volume":        rec.Volume,
				"price":         rec.Price,
				"registered_at": rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":         out,
		"total_exposure": s.Dispatcher.TotalExposure(),
	})
}

func (s *Server) getRails(c *gin.Context) {
	now := time.Now()
	rails := make([]gin.H, 0)
	for _, r := range s.Dispatcher.Rails() {
		rails = append(rails, gin.H{
			"symbol":           r.Config.Symbol,
			"session":          []int{r.Config.SessionStartHour, r.Config.SessionEndHour},
			"max_daily_trades": r.Config.MaxDailyTrades,
			"daily_used":       r.DailyUsed(now),
			"open_orders":      r.Risk.OpenCount(),
			"exposure":         r.Risk.Exposure(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rails": rails})
}

func (s *Server) getOrders(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	orders, err := s.DB.ListRecentOrders(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not configured"})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.Stats())
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"live_execution": s.Meta.LiveExecution,
		"symbols":        s.Meta.Symbols,
		"version":        s.Meta.Version,
	})
}
