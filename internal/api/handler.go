package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/rail"
	"execution-core/pkg/db"
)

// Server wires HTTP endpoints around the rail dispatcher and event bus.
type Server struct {
	Router      *gin.Engine
	Bus         *events.Bus
	DB          *db.Database
	Dispatcher  *rail.Dispatcher
	Metrics     *monitor.DispatchMetrics
	JWTSecret   string
	OperatorKey string
	Meta        SystemMeta

	// BatchLimit caps signals accepted per batch request; zero = unlimited.
	BatchLimit int
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	LiveExecution bool
	Symbols       []string
	Version       string
}

func NewServer(bus *events.Bus, database *db.Database, dispatcher *rail.Dispatcher, metrics *monitor.DispatchMetrics, meta SystemMeta, jwtSecret, operatorKey string, batchLimit int) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(20, 50))

	s := &Server{
		Router:      r,
		Bus:         bus,
		DB:          database,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		JWTSecret:   jwtSecret,
		OperatorKey: operatorKey,
		Meta:        meta,
		BatchLimit:  batchLimit,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/signals", s.dispatchSignal)
			protected.POST("/signals/batch", s.dispatchBatch)
			protected.POST("/dryrun", s.dryRun)
			protected.GET("/registry", s.getRegistry)
			protected.GET("/rails", s.getRails)
			protected.GET("/orders", s.getOrders)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	if s.DB != nil {
		if err := db.Ping(s.DB); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
