// Package arena drives the evaluation cycle: every registered strategy is
// invoked against its best-fit market, proposals pass through the risk gate
// and the allocator, accepted trades are recorded to the ledger, and trailing
// performance decides promotion of a challenger over the incumbent.
package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/allocator"
	"github.com/meridianlabs/strategy-arena/internal/execution"
	"github.com/meridianlabs/strategy-arena/internal/ledger"
	"github.com/meridianlabs/strategy-arena/internal/market"
	"github.com/meridianlabs/strategy-arena/internal/metrics"
	"github.com/meridianlabs/strategy-arena/internal/riskgate"
	"github.com/meridianlabs/strategy-arena/internal/statestore"
	"github.com/meridianlabs/strategy-arena/internal/strategy"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

const (
	arenaSnapshotName      = "arena_state"
	allocationSnapshotName = "allocation_state"
)

// ErrCycleInProgress is returned when RunCycle is invoked while another
// cycle is still running. The invocation is skipped, never queued.
var ErrCycleInProgress = errors.New("evaluation cycle already in progress")

// PortfolioFunc supplies the current portfolio value. The arena never
// fetches balances itself; the wallet is an external collaborator.
type PortfolioFunc func(ctx context.Context) decimal.Decimal

// Arena is the orchestrator and promotion state machine.
type Arena struct {
	logger  *zap.Logger
	config  types.ArenaConfig
	metrics *metrics.Metrics

	registry *strategy.Registry
	markets  *market.Registry
	prices   market.PriceSource
	signals  market.SignalSource
	ledger   *ledger.Ledger
	gate     *riskgate.Gate
	alloc    *allocator.Allocator
	exec     execution.Client
	store    *statestore.Store

	portfolio PortfolioFunc

	mu         sync.RWMutex
	state      types.ArenaState
	allocState types.AllocationState

	cycleRunning atomic.Bool

	onTrade     func(*types.Trade)
	onPromotion func(types.PromotionEvent)
}

// Deps bundles the collaborators an Arena needs.
type Deps struct {
	Registry  *strategy.Registry
	Markets   *market.Registry
	Prices    market.PriceSource
	Signals   market.SignalSource
	Ledger    *ledger.Ledger
	Gate      *riskgate.Gate
	Allocator *allocator.Allocator
	Executor  execution.Client
	Store     *statestore.Store
	Portfolio PortfolioFunc
	Metrics   *metrics.Metrics
}

// New creates an arena, restoring promotion and allocation state from the
// last snapshots. Missing or corrupt state starts fresh with the configured
// initial champion.
func New(logger *zap.Logger, config types.ArenaConfig, deps Deps) *Arena {
	a := &Arena{
		logger:    logger.Named("arena"),
		config:    config,
		metrics:   deps.Metrics,
		registry:  deps.Registry,
		markets:   deps.Markets,
		prices:    deps.Prices,
		signals:   deps.Signals,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		alloc:     deps.Allocator,
		exec:      deps.Executor,
		store:     deps.Store,
		portfolio: deps.Portfolio,
	}

	found, err := deps.Store.Load(arenaSnapshotName, &a.state)
	if err != nil || !found {
		a.state = types.ArenaState{
			Champion:       types.CanonicalStrategyID(config.InitialChampion),
			ChallengerWins: make(map[string]int),
		}
	}
	if a.state.ChallengerWins == nil {
		a.state.ChallengerWins = make(map[string]int)
	}

	found, err = deps.Store.Load(allocationSnapshotName, &a.allocState)
	if err != nil || !found {
		a.allocState = types.AllocationState{
			Mode:        config.Mode,
			Allocations: make(map[string]float64),
		}
	}

	a.logger.Info("Arena initialized",
		zap.String("champion", a.state.Champion),
		zap.String("mode", string(a.allocState.Mode)),
		zap.Int("promotions", len(a.state.PromotionHistory)))

	return a
}

// SetOnTrade registers a callback for every recorded trade.
func (a *Arena) SetOnTrade(fn func(*types.Trade)) { a.onTrade = fn }

// SetOnPromotion registers a callback for promotion events.
func (a *Arena) SetOnPromotion(fn func(types.PromotionEvent)) { a.onPromotion = fn }

// RunCycle executes one full evaluation cycle. A cycle invoked while another
// is in flight returns ErrCycleInProgress and does nothing.
func (a *Arena) RunCycle(ctx context.Context) error {
	if !a.cycleRunning.CompareAndSwap(false, true) {
		a.metrics.CyclesSkipped.Inc()
		a.logger.Warn("Cycle skipped, previous cycle still running")
		return ErrCycleInProgress
	}
	defer a.cycleRunning.Store(false)

	start := time.Now()
	prices := market.SnapshotPrices(ctx, a.prices, a.markets)

	swept, err := a.ledger.SweepTakeProfits(prices, a.config.TakeProfitPct)
	if err != nil {
		return fmt.Errorf("take-profit sweep failed: %w", err)
	}
	a.metrics.TakeProfitsSwept.Add(float64(len(swept)))

	if a.allocState.Mode == types.ModeEnsemble {
		weights := a.alloc.ComputeWeights(time.Duration(a.config.ComparisonHours)*time.Hour, prices)
		a.mu.Lock()
		a.allocState.Allocations = weights
		a.allocState.LastUpdate = time.Now()
		a.mu.Unlock()
		for id, w := range weights {
			a.metrics.AllocationWeight.WithLabelValues(id).Set(w)
		}
	}

	portfolioValue := a.portfolio(ctx)

	for _, s := range a.registry.All() {
		a.evaluateStrategy(ctx, s, prices, portfolioValue)
	}

	if err := a.CompareAndPromote(prices); err != nil {
		return err
	}

	if err := a.persistAllocationState(); err != nil {
		return err
	}

	a.metrics.CyclesTotal.Inc()
	a.metrics.OpenExposure.Set(a.ledger.OpenExposure().InexactFloat64())

	a.logger.Info("Cycle complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("sweeps", len(swept)),
		zap.String("champion", a.Champion()))

	return nil
}

// evaluateStrategy runs one strategy through market routing, analysis, the
// risk gate, allocation sizing and trade recording. Failures are contained:
// an erroring or panicking strategy holds for the cycle and never aborts the
// cycle for the others.
func (a *Arena) evaluateStrategy(ctx context.Context, s strategy.Strategy, prices map[string]types.PricePoint, portfolioValue decimal.Decimal) {
	id := s.ID()

	marketID, ok := a.routeMarket(s)
	if !ok {
		a.logger.Debug("Strategy abstains, no target market matched",
			zap.String("strategy", id))
		return
	}

	sig, err := a.safeAnalyze(ctx, s, marketID)
	if err != nil {
		a.metrics.StrategyFailures.WithLabelValues(id).Inc()
		a.logger.Warn("Strategy evaluation failed, treating as hold",
			zap.String("strategy", id),
			zap.Error(err))
		return
	}
	if sig.Action == types.ActionHold {
		return
	}

	verdict := a.gate.Validate(id, marketID, sig.Action, sig.Confidence, portfolioValue)
	if !verdict.Valid {
		a.metrics.RiskRejections.WithLabelValues(string(verdict.Rule)).Inc()
		a.logger.Info("Trade rejected by risk gate",
			zap.String("strategy", id),
			zap.String("market", marketID),
			zap.String("rule", string(verdict.Rule)),
			zap.String("reason", verdict.Reason))
		return
	}

	size, isReal := a.sizeTrade(id, verdict.Size)
	if size.LessThan(decimal.NewFromInt(1)) {
		a.logger.Debug("Trade below one unit, dropped",
			zap.String("strategy", id),
			zap.String("size", size.String()))
		return
	}

	quote, ok := prices[marketID]
	if !ok {
		a.logger.Warn("No quote for routed market, skipping",
			zap.String("strategy", id),
			zap.String("market", marketID))
		return
	}
	entryPrice := quote.SideOf(sig.Action)
	one := decimal.NewFromInt(1)
	if !entryPrice.IsPositive() || entryPrice.GreaterThanOrEqual(one) {
		a.logger.Warn("Unusable entry price, skipping",
			zap.String("strategy", id),
			zap.String("market", marketID),
			zap.String("price", entryPrice.String()))
		return
	}

	// A real order is placed before anything is recorded: the ledger must
	// never hold an open trade for an order that failed to place.
	if isReal {
		result, err := a.exec.PlaceOrder(ctx, marketID, sig.Action, entryPrice, size)
		if err != nil || !result.Success {
			a.logger.Error("Order placement failed",
				zap.String("strategy", id),
				zap.String("market", marketID),
				zap.Error(err))
			return
		}
	}

	trade, err := a.ledger.LogTrade(ledger.TradeParams{
		StrategyID: id,
		IsReal:     isReal,
		Market:     marketID,
		Action:     sig.Action,
		EntryPrice: entryPrice,
		Size:       size,
		Score:      sig.Score,
		Confidence: sig.Confidence,
	})
	if err != nil {
		a.logger.Error("Failed to record trade",
			zap.String("strategy", id),
			zap.Error(err))
		return
	}

	mode := "paper"
	if isReal {
		mode = "real"
	}
	a.metrics.TradesLogged.WithLabelValues(mode).Inc()
	if a.onTrade != nil {
		a.onTrade(trade)
	}
}

// routeMarket resolves the market a strategy trades this cycle. Declared
// targets are matched as substrings against the registry; a strategy that
// declares targets and matches none abstains rather than defaulting.
func (a *Arena) routeMarket(s strategy.Strategy) (string, bool) {
	targeter, ok := s.(strategy.MarketTargeter)
	if !ok || len(targeter.TargetMarkets()) == 0 {
		return a.markets.Default(), true
	}
	for _, pattern := range targeter.TargetMarkets() {
		if id, found := a.markets.Match(pattern); found {
			return id, true
		}
	}
	return "", false
}

// safeAnalyze invokes a strategy with panic containment.
func (a *Arena) safeAnalyze(ctx context.Context, s strategy.Strategy, marketID string) (sig strategy.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.ID(), r)
		}
	}()

	signals, err := a.signals.Signals(ctx, marketID)
	if err != nil {
		return strategy.Hold("no signals"), nil
	}
	return s.Analyze(ctx, marketID, signals)
}

// sizeTrade applies the allocation policy to a risk-gated size: ensemble
// mode scales by the strategy's weight, champion mode gives the incumbent
// the full size. Non-selected strategies keep the full size on paper so
// their performance stays measurable.
func (a *Arena) sizeTrade(strategyID string, gatedSize decimal.Decimal) (decimal.Decimal, bool) {
	key := types.CanonicalStrategyID(strategyID)

	a.mu.RLock()
	mode := a.allocState.Mode
	champion := a.state.Champion
	a.mu.RUnlock()

	if mode == types.ModeEnsemble {
		alloc := a.alloc.GetAllocation(key, gatedSize)
		if alloc.CanTrade {
			return alloc.Size, true
		}
		return gatedSize, false
	}

	return gatedSize, key == champion
}

// Champion returns the current incumbent strategy id.
func (a *Arena) Champion() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Champion
}

// State returns a copy of the promotion state.
func (a *Arena) State() types.ArenaState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	wins := make(map[string]int, len(a.state.ChallengerWins))
	for k, v := range a.state.ChallengerWins {
		wins[k] = v
	}
	history := make([]types.PromotionEvent, len(a.state.PromotionHistory))
	copy(history, a.state.PromotionHistory)

	return types.ArenaState{
		Champion:         a.state.Champion,
		ChallengerWins:   wins,
		PromotionHistory: history,
		LastUpdate:       a.state.LastUpdate,
	}
}

// AllocationState returns a copy of the allocation state.
func (a *Arena) AllocationState() types.AllocationState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	allocs := make(map[string]float64, len(a.allocState.Allocations))
	for k, v := range a.allocState.Allocations {
		allocs[k] = v
	}
	return types.AllocationState{
		Mode:        a.allocState.Mode,
		Allocations: allocs,
		LastUpdate:  a.allocState.LastUpdate,
	}
}

func (a *Arena) persistArenaState() error {
	if err := a.store.Save(arenaSnapshotName, a.state); err != nil {
		return fmt.Errorf("failed to persist arena state: %w", err)
	}
	return nil
}

func (a *Arena) persistAllocationState() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.store.Save(allocationSnapshotName, a.allocState); err != nil {
		return fmt.Errorf("failed to persist allocation state: %w", err)
	}
	return nil
}
