package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution-core/internal/api"
	"execution-core/internal/bridge"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/rail"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("starting execution core on :%s", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewDispatchMetrics()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("init journal db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply journal migrations: %v", err)
	}

	// Rails
	railsCfg, err := rail.LoadConfig(cfg.RailsConfigPath)
	if err != nil {
		log.Fatalf("load rails config %s: %v", cfg.RailsConfigPath, err)
	}
	if err := rail.SyncConfigToDB(ctx, database, railsCfg.Rails); err != nil {
		log.Printf("sync rails to journal: %v", err)
	}

	balanceFn := func() float64 { return cfg.Balance }

	// Outbound broker connector. Live broker connectivity is a separate
	// collaborator implementing bridge.Connector; this binary ships the
	// paper connector and routes everything through it until one is wired.
	conn := bridge.NewPaperConnector(
		cfg.PaperSlippageBps,
		time.Duration(cfg.PaperLatencyMinMs)*time.Millisecond,
		time.Duration(cfg.PaperLatencyMaxMs)*time.Millisecond,
	)
	if cfg.ExecutionEnabled {
		log.Printf("EXECUTION_ENABLED is set but no live connector is compiled in; orders go to the paper connector")
	}

	dispatcher := rail.NewDispatcher(railsCfg.Global, conn, bus, metrics, balanceFn)
	defer dispatcher.Close()

	symbols := make([]string, 0, len(railsCfg.Rails))
	for _, rc := range railsCfg.Rails {
		if !rc.IsActive {
			log.Printf("rail %s inactive, skipping", rc.Symbol)
			continue
		}
		if _, err := dispatcher.AddRail(rc, cfg.DataDir, database, cfg.RegistryLock, cfg.PersistAsync); err != nil {
			log.Fatalf("add rail %s: %v", rc.Symbol, err)
		}
		symbols = append(symbols, rc.Symbol)
	}
	if len(symbols) == 0 {
		log.Fatalf("no active rails configured in %s", cfg.RailsConfigPath)
	}

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "dev"
	}

	server := api.NewServer(bus, database, dispatcher, metrics, api.SystemMeta{
		LiveExecution: cfg.ExecutionEnabled,
		Symbols:       symbols,
		Version:       version,
	}, cfg.JWTSecret, cfg.OperatorKey, cfg.BatchLimit)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")
	cancel()
	dispatcher.Close()
}
