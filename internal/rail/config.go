package rail

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"execution-core/pkg/db"
)

// Config defines one rail: an isolated execution/risk context for a single
// traded instrument.
type Config struct {
	Symbol           string  `yaml:"symbol"`
	LotSizeMin       float64 `yaml:"lot_size_min"`
	LotSizeMax       float64 `yaml:"lot_size_max"`
	MaxPositions     int     `yaml:"max_positions"`
	MaxDailyTrades   int     `yaml:"max_daily_trades"`
	SessionStartHour int     `yaml:"session_start_hour"`
	SessionEndHour   int     `yaml:"session_end_hour"`
	RiskPct          float64 `yaml:"risk_pct"`
	TPPct            float64 `yaml:"tp_pct"`
	SLPct            float64 `yaml:"sl_pct"`
	Magic            int64   `yaml:"magic"`
	IsActive         bool    `yaml:"is_active"`
}

// GlobalConfig holds cross-rail limits.
type GlobalConfig struct {
	MaxTotalExposurePct     float64 `yaml:"max_total_exposure_pct"`
	MaxCorrelationThreshold float64 `yaml:"max_correlation_threshold"`
}

// ConfigFile is the top-level YAML structure.
type ConfigFile struct {
	Global GlobalConfig `yaml:"global"`
	Rails  []Config     `yaml:"rails"`
}

// LoadConfig reads rail definitions from a YAML file.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	for i, r := range file.Rails {
		if r.Symbol == "" {
			return nil, fmt.Errorf("rail %d has no symbol", i)
		}
		if r.SessionStartHour < 0 || r.SessionStartHour > 23 ||
			r.SessionEndHour < 0 || r.SessionEndHour > 23 {
			return nil, fmt.Errorf("rail %s: session hours must be within 0-23", r.Symbol)
		}
		if r.LotSizeMin <= 0 || (r.LotSizeMax > 0 && r.LotSizeMax < r.LotSizeMin) {
			return nil, fmt.Errorf("rail %s: invalid lot bounds [%v, %v]", r.Symbol, r.LotSizeMin, r.LotSizeMax)
		}
	}
	return &file, nil
}

// SyncConfigToDB upserts rail definitions into the journal database so the
// running configuration is queryable alongside execution history.
func SyncConfigToDB(ctx context.Context, database *db.Database, rails []Config) error {
	for _, r := range rails {
		row := db.RailRow{
			Symbol:           r.Symbol,
			LotSizeMin:       r.LotSizeMin,
			LotSizeMax:       r.LotSizeMax,
			MaxPositions:     r.MaxPositions,
			MaxDailyTrades:   r.MaxDailyTrades,
			SessionStartHour: r.SessionStartHour,
			SessionEndHour:   r.SessionEndHour,
			RiskPct:          r.RiskPct,
			TPPct:            r.TPPct,
			SLPct:            r.SLPct,
			Magic:            r.Magic,
			IsActive:         r.IsActive,
		}
		if err := database.UpsertRail(ctx, row); err != nil {
			return fmt.Errorf("sync rail %s: %w", r.Symbol, err)
		}
	}
	return nil
}
