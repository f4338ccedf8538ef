// Package main provides the entry point for the strategy arena server.
// The arena runs competing trading strategies against two-sided probability
// markets, promotes challengers that consistently beat the incumbent, and
// exposes its state over a read-only HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianlabs/strategy-arena/internal/allocator"
	"github.com/meridianlabs/strategy-arena/internal/api"
	"github.com/meridianlabs/strategy-arena/internal/arena"
	"github.com/meridianlabs/strategy-arena/internal/config"
	"github.com/meridianlabs/strategy-arena/internal/execution"
	"github.com/meridianlabs/strategy-arena/internal/ledger"
	"github.com/meridianlabs/strategy-arena/internal/market"
	"github.com/meridianlabs/strategy-arena/internal/metrics"
	"github.com/meridianlabs/strategy-arena/internal/riskgate"
	"github.com/meridianlabs/strategy-arena/internal/statestore"
	"github.com/meridianlabs/strategy-arena/internal/strategy"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

func main() {
	configPath := pflag.String("config", "", "Directory containing arena.yaml")
	host := pflag.String("host", "", "Server host (overrides config)")
	port := pflag.Int("port", 0, "Server port (overrides config)")
	dataDir := pflag.String("data", "", "State directory (overrides config)")
	logLevel := pflag.String("log-level", "", "Log level (debug, info, warn, error)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting strategy arena",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataDir", cfg.DataDir),
		zap.String("mode", string(cfg.Arena.Mode)),
		zap.Duration("cycleInterval", cfg.Arena.CycleInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := statestore.NewStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize state store", zap.Error(err))
	}

	tradeLedger := ledger.New(logger, store)
	gate := riskgate.New(logger, cfg.Risk, tradeLedger)
	capitalAllocator := allocator.New(logger, cfg.Allocator, tradeLedger)

	registry := strategy.NewRegistry(logger)
	registry.Register(strategy.NewBaselineStrategy())
	registry.Register(strategy.NewMomentumStrategy(0.02))
	registry.Register(strategy.NewContrarianStrategy(0.10))
	logger.Info("Registered strategies", zap.Strings("strategies", registry.List()))

	markets := market.NewRegistry(cfg.Markets, cfg.DefaultMarket)

	// Every market opens at even odds until the feed moves it.
	quotes := make(map[string]types.PricePoint, len(cfg.Markets))
	for _, m := range cfg.Markets {
		quotes[m.Identifier] = types.PricePoint{
			Up:   decimal.NewFromFloat(0.5),
			Down: decimal.NewFromFloat(0.5),
		}
	}
	priceSource := market.NewStaticPriceSource(quotes)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	arenaMetrics := metrics.New(promRegistry)

	executor := execution.NewPaperClient(logger)

	bankroll := cfg.Bankroll
	a := arena.New(logger, cfg.Arena, arena.Deps{
		Registry:  registry,
		Markets:   markets,
		Prices:    priceSource,
		Signals:   priceSource,
		Ledger:    tradeLedger,
		Gate:      gate,
		Allocator: capitalAllocator,
		Executor:  executor,
		Store:     store,
		Portfolio: func(ctx context.Context) decimal.Decimal { return bankroll },
		Metrics:   arenaMetrics,
	})
	logger.Info("Arena restored", zap.String("champion", a.Champion()))

	server := api.NewServer(logger, cfg.Server, a, tradeLedger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var metricsServer *http.Server
	if cfg.Server.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler: mux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	go runCycles(ctx, logger, a, cfg.Arena.CycleInterval)

	logger.Info("Arena started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during metrics shutdown", zap.Error(err))
		}
	}

	logger.Info("Arena stopped")
}

// runCycles drives the evaluation loop. An immediate first cycle runs on
// startup; overlapping ticks are skipped, never queued.
func runCycles(ctx context.Context, logger *zap.Logger, a *arena.Arena, interval time.Duration) {
	runOne := func() {
		if err := a.RunCycle(ctx); err != nil {
			if errors.Is(err, arena.ErrCycleInProgress) {
				logger.Warn("Cycle still running, skipping tick")
				return
			}
			logger.Error("Cycle failed", zap.Error(err))
		}
	}

	runOne()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOne()
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
