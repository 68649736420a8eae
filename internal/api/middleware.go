package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ipLimiters hands out one token-bucket limiter per client IP.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	l := &ipLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	// Drop idle limiters periodically so the map cannot grow unbounded.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.mu.Lock()
			l.limiters = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// RequestIDMiddleware attaches a unique request ID for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware rejects clients exceeding the per-IP budget.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiters := newIPLimiters(rps, burst)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiters.get(ip).Allow() {
			log.Printf("api: rate limit exceeded for %s", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request with timing and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		requestID := c.GetString("RequestID")
		if len(requestID) > 8 {
			requestID = requestID[:8]
		}
		log.Printf("api: %s | %s %s | %d | %v | %s",
			requestID, method, path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}
