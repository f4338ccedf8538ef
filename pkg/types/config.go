// Package types provides configuration types for the strategy arena.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskConfig contains the pre-trade risk gate limits.
type RiskConfig struct {
	MaxExposurePerMarket decimal.Decimal `json:"maxExposurePerMarket"` // fraction of portfolio per market
	Cooldown             time.Duration   `json:"cooldown"`             // min time between trades per strategy
	PositionSizePct      decimal.Decimal `json:"positionSizePct"`      // base fraction of portfolio per trade
	MinTradeSize         decimal.Decimal `json:"minTradeSize"`
	MaxTradeSize         decimal.Decimal `json:"maxTradeSize"`
}

// DefaultRiskConfig returns default risk gate limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxExposurePerMarket: decimal.NewFromFloat(0.20),
		Cooldown:             30 * time.Minute,
		PositionSizePct:      decimal.NewFromFloat(0.05),
		MinTradeSize:         decimal.NewFromInt(1),
		MaxTradeSize:         decimal.NewFromInt(100),
	}
}

// AllocatorConfig contains the ensemble allocator thresholds and bounds.
type AllocatorConfig struct {
	LookbackHours   int             `json:"lookbackHours"`
	MinTrades       int             `json:"minTrades"`   // closed trades to qualify
	MinWinRate      float64         `json:"minWinRate"`  // e.g. 0.4
	MinPnLFloor     decimal.Decimal `json:"minPnlFloor"` // total PnL floor
	MinAlloc        float64         `json:"minAlloc"`    // lower weight bound
	MaxAlloc        float64         `json:"maxAlloc"`    // upper weight bound
	MaxIterations   int             `json:"maxIterations"`
	DefaultStrategy string          `json:"defaultStrategy"` // fallback when nothing qualifies
	Disabled        []string        `json:"disabled"`
}

// DefaultAllocatorConfig returns default allocator settings.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		LookbackHours:   72,
		MinTrades:       3,
		MinWinRate:      0.40,
		MinPnLFloor:     decimal.Zero,
		MinAlloc:        0.10,
		MaxAlloc:        0.50,
		MaxIterations:   10,
		DefaultStrategy: "baseline",
	}
}

// ArenaConfig contains the evaluation-cycle and promotion settings.
type ArenaConfig struct {
	Mode               AllocationMode  `json:"mode"`
	InitialChampion    string          `json:"initialChampion"`
	ComparisonHours    int             `json:"comparisonHours"`    // trailing promotion window
	PromotionThreshold int             `json:"promotionThreshold"` // consecutive wins to promote
	MinEdge            decimal.Decimal `json:"minEdge"`            // absolute PnL margin over champion
	TakeProfitPct      float64         `json:"takeProfitPct"`      // favorable move to sweep at
	BaseAllocation     decimal.Decimal `json:"baseAllocation"`     // capital base for ensemble sizing
	CycleInterval      time.Duration   `json:"cycleInterval"`
}

// DefaultArenaConfig returns production defaults for the arena.
func DefaultArenaConfig() ArenaConfig {
	return ArenaConfig{
		Mode:               ModeChampion,
		InitialChampion:    "baseline",
		ComparisonHours:    48,
		PromotionThreshold: 3,
		MinEdge:            decimal.NewFromInt(1),
		TakeProfitPct:      0.15,
		BaseAllocation:     decimal.NewFromInt(100),
		CycleInterval:      15 * time.Minute,
	}
}

// ServerConfig represents the observation API server configuration.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
	MaxConnections int           `json:"maxConnections"`
}

// DefaultServerConfig returns default observation API settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		WebSocketPath:  "/ws",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		EnableMetrics:  true,
		MetricsPort:    9090,
		MaxConnections: 100,
	}
}
