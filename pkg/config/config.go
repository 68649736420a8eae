package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Rails
	RailsConfigPath string

	// Execution
	ExecutionEnabled bool // false routes everything to the paper connector
	BatchLimit       int  // max orders emitted per batch conversion

	// Account
	Balance float64 // fixed account balance used for position sizing

	// Paper connector simulation
	PaperSlippageBps  float64
	PaperLatencyMinMs int
	PaperLatencyMaxMs int

	// Persistence
	DataDir      string // registry snapshot directory
	DBPath       string // sqlite execution journal
	RegistryLock bool   // advisory flock around registry writes
	PersistAsync bool   // single-writer async registry persistence

	// Auth
	JWTSecret   string
	OperatorKey string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the service still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		RailsConfigPath:   getEnv("RAILS_CONFIG", "./config/rails.yaml"),
		ExecutionEnabled:  getEnv("EXECUTION_ENABLED", "false") == "true",
		BatchLimit:        getEnvInt("BATCH_LIMIT", 10),
		Balance:           getEnvFloat("ACCOUNT_BALANCE", 10000.0),
		PaperSlippageBps:  getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		PaperLatencyMinMs: getEnvInt("PAPER_LATENCY_MIN_MS", 0),
		PaperLatencyMaxMs: getEnvInt("PAPER_LATENCY_MAX_MS", 0),
		DataDir:           getEnv("DATA_DIR", "./data"),
		DBPath:            getEnv("DB_PATH", "./data/execution.db"),
		RegistryLock:      getEnv("REGISTRY_LOCK", "false") == "true",
		PersistAsync:      getEnv("PERSIST_ASYNC", "false") == "true",
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		OperatorKey:       os.Getenv("OPERATOR_KEY"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
