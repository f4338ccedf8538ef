// Package config loads arena configuration from file, environment, and
// built-in defaults, in that order of precedence from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel      string                `json:"logLevel"`
	DataDir       string                `json:"dataDir"`
	Bankroll      decimal.Decimal       `json:"bankroll"`
	DefaultMarket string                `json:"defaultMarket"`
	Markets       []types.Market        `json:"markets"`
	Server        types.ServerConfig    `json:"server"`
	Risk          types.RiskConfig      `json:"risk"`
	Allocator     types.AllocatorConfig `json:"allocator"`
	Arena         types.ArenaConfig     `json:"arena"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:      "info",
		DataDir:       "data",
		Bankroll:      decimal.NewFromInt(1000),
		DefaultMarket: "crypto-btc-100k",
		Markets: []types.Market{
			{Identifier: "crypto-btc-100k", Category: "crypto"},
		},
		Server:    types.DefaultServerConfig(),
		Risk:      types.DefaultRiskConfig(),
		Allocator: types.DefaultAllocatorConfig(),
		Arena:     types.DefaultArenaConfig(),
	}
}

// Load reads arena.yaml from path (or the working directory when path is
// empty) and applies ARENA_* environment overrides. A missing config file is
// not an error; defaults apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("arena")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		decimalHook(),
	))); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch c.Arena.Mode {
	case types.ModeChampion, types.ModeEnsemble:
	default:
		return fmt.Errorf("unknown allocation mode %q", c.Arena.Mode)
	}
	if c.Arena.PromotionThreshold < 1 {
		return fmt.Errorf("promotion threshold must be at least 1, got %d", c.Arena.PromotionThreshold)
	}
	if c.Allocator.MinAlloc > c.Allocator.MaxAlloc {
		return fmt.Errorf("minAlloc %.2f exceeds maxAlloc %.2f", c.Allocator.MinAlloc, c.Allocator.MaxAlloc)
	}
	if len(c.Markets) == 0 {
		return errors.New("at least one market is required")
	}
	for _, m := range c.Markets {
		if m.Identifier == c.DefaultMarket {
			return nil
		}
	}
	return fmt.Errorf("default market %q is not in the market list", c.DefaultMarket)
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("loglevel", d.LogLevel)
	v.SetDefault("datadir", d.DataDir)
	v.SetDefault("bankroll", d.Bankroll.InexactFloat64())
	v.SetDefault("defaultmarket", d.DefaultMarket)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.websocketpath", d.Server.WebSocketPath)
	v.SetDefault("server.readtimeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.writetimeout", d.Server.WriteTimeout.String())
	v.SetDefault("server.enablemetrics", d.Server.EnableMetrics)
	v.SetDefault("server.metricsport", d.Server.MetricsPort)
	v.SetDefault("server.maxconnections", d.Server.MaxConnections)

	v.SetDefault("risk.maxexposurepermarket", d.Risk.MaxExposurePerMarket.InexactFloat64())
	v.SetDefault("risk.cooldown", d.Risk.Cooldown.String())
	v.SetDefault("risk.positionsizepct", d.Risk.PositionSizePct.InexactFloat64())
	v.SetDefault("risk.mintradesize", d.Risk.MinTradeSize.InexactFloat64())
	v.SetDefault("risk.maxtradesize", d.Risk.MaxTradeSize.InexactFloat64())

	v.SetDefault("allocator.lookbackhours", d.Allocator.LookbackHours)
	v.SetDefault("allocator.mintrades", d.Allocator.MinTrades)
	v.SetDefault("allocator.minwinrate", d.Allocator.MinWinRate)
	v.SetDefault("allocator.minpnlfloor", d.Allocator.MinPnLFloor.InexactFloat64())
	v.SetDefault("allocator.minalloc", d.Allocator.MinAlloc)
	v.SetDefault("allocator.maxalloc", d.Allocator.MaxAlloc)
	v.SetDefault("allocator.maxiterations", d.Allocator.MaxIterations)
	v.SetDefault("allocator.defaultstrategy", d.Allocator.DefaultStrategy)

	v.SetDefault("arena.mode", string(d.Arena.Mode))
	v.SetDefault("arena.initialchampion", d.Arena.InitialChampion)
	v.SetDefault("arena.comparisonhours", d.Arena.ComparisonHours)
	v.SetDefault("arena.promotionthreshold", d.Arena.PromotionThreshold)
	v.SetDefault("arena.minedge", d.Arena.MinEdge.InexactFloat64())
	v.SetDefault("arena.takeprofitpct", d.Arena.TakeProfitPct)
	v.SetDefault("arena.baseallocation", d.Arena.BaseAllocation.InexactFloat64())
	v.SetDefault("arena.cycleinterval", d.Arena.CycleInterval.String())
}

// decimalHook converts yaml scalars and env strings into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}
