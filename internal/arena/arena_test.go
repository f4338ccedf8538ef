package arena_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/allocator"
	"github.com/meridianlabs/strategy-arena/internal/arena"
	"github.com/meridianlabs/strategy-arena/internal/execution"
	"github.com/meridianlabs/strategy-arena/internal/ledger"
	"github.com/meridianlabs/strategy-arena/internal/market"
	"github.com/meridianlabs/strategy-arena/internal/metrics"
	"github.com/meridianlabs/strategy-arena/internal/riskgate"
	"github.com/meridianlabs/strategy-arena/internal/statestore"
	"github.com/meridianlabs/strategy-arena/internal/strategy"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// stubStrategy proposes a fixed signal each cycle.
type stubStrategy struct {
	id      string
	signal  strategy.Signal
	err     error
	panics  bool
	targets []string
}

func (s *stubStrategy) ID() string { return s.id }

func (s *stubStrategy) TargetMarkets() []string { return s.targets }

func (s *stubStrategy) Analyze(ctx context.Context, market string, signals strategy.Signals) (strategy.Signal, error) {
	if s.panics {
		panic("stub strategy exploded")
	}
	if s.err != nil {
		return strategy.Signal{}, s.err
	}
	return s.signal, nil
}

// fnStrategy delegates analysis to a closure.
type fnStrategy struct {
	id string
	fn func(ctx context.Context) (strategy.Signal, error)
}

func (s *fnStrategy) ID() string { return s.id }

func (s *fnStrategy) Analyze(ctx context.Context, market string, signals strategy.Signals) (strategy.Signal, error) {
	return s.fn(ctx)
}

// failingExec rejects every order.
type failingExec struct{}

func (failingExec) PlaceOrder(ctx context.Context, market string, action types.TradeAction, price, size decimal.Decimal) (execution.OrderResult, error) {
	return execution.OrderResult{}, errors.New("venue offline")
}

type harness struct {
	arena  *arena.Arena
	ledger *ledger.Ledger
	source *market.StaticPriceSource
}

func buyUp(confidence float64) strategy.Signal {
	return strategy.Signal{Action: types.ActionBuyUp, Score: 0.5, Confidence: confidence, Reason: "test"}
}

func newHarness(t *testing.T, config types.ArenaConfig, exec execution.Client, strategies ...strategy.Strategy) *harness {
	t.Helper()
	logger := zap.NewNop()

	store, err := statestore.NewStore(logger, t.TempDir())
	require.NoError(t, err)

	l := ledger.New(logger, store)

	riskConfig := types.DefaultRiskConfig()
	riskConfig.Cooldown = 0 // cycles repeat within a test
	gate := riskgate.New(logger, riskConfig, l)

	alloc := allocator.New(logger, types.DefaultAllocatorConfig(), l)

	registry := strategy.NewRegistry(logger)
	for _, s := range strategies {
		registry.Register(s)
	}

	markets := market.NewRegistry([]types.Market{
		{Identifier: "crypto-btc-100k", Category: "crypto"},
		{Identifier: "rates-fed-cut", Category: "macro"},
	}, "crypto-btc-100k")

	source := market.NewStaticPriceSource(map[string]types.PricePoint{
		"crypto-btc-100k": {Up: decimal.NewFromFloat(0.5), Down: decimal.NewFromFloat(0.5)},
		"rates-fed-cut":   {Up: decimal.NewFromFloat(0.3), Down: decimal.NewFromFloat(0.7)},
	})

	if exec == nil {
		exec = execution.NewPaperClient(logger)
	}

	a := arena.New(logger, config, arena.Deps{
		Registry:  registry,
		Markets:   markets,
		Prices:    source,
		Signals:   source,
		Ledger:    l,
		Gate:      gate,
		Allocator: alloc,
		Executor:  exec,
		Store:     store,
		Portfolio: func(ctx context.Context) decimal.Decimal { return decimal.NewFromInt(1000) },
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})

	return &harness{arena: a, ledger: l, source: source}
}

// bookWin books one closed winning trade with the given PnL for a strategy.
func (h *harness) bookWin(t *testing.T, strategyID string, pnl float64) {
	t.Helper()
	marketID := strategyID + "-" + time.Now().Format("150405.000000000")
	_, err := h.ledger.LogTrade(ledger.TradeParams{
		StrategyID: strategyID,
		Market:     marketID,
		Action:     types.ActionBuyUp,
		EntryPrice: decimal.NewFromFloat(0.5),
		Size:       decimal.NewFromFloat(pnl),
	})
	require.NoError(t, err)
	_, err = h.ledger.CloseTrade(marketID, types.ActionBuyUp)
	require.NoError(t, err)
}

func defaultConfig() types.ArenaConfig {
	config := types.DefaultArenaConfig()
	config.InitialChampion = "baseline"
	return config
}

func TestPromotionAfterThreeConsecutiveWins(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	for cycle := 1; cycle <= 3; cycle++ {
		h.bookWin(t, "momentum", 5)
		require.NoError(t, h.arena.CompareAndPromote(nil))

		state := h.arena.State()
		if cycle < 3 {
			require.Equal(t, "baseline", state.Champion, "cycle %d", cycle)
			require.Equal(t, cycle, state.ChallengerWins["momentum"], "cycle %d", cycle)
			require.Empty(t, state.PromotionHistory)
		} else {
			require.Equal(t, "momentum", state.Champion)
			require.Empty(t, state.ChallengerWins)
			require.Len(t, state.PromotionHistory, 1)
			require.Equal(t, "baseline", state.PromotionHistory[0].OldChampion)
			require.Equal(t, "momentum", state.PromotionHistory[0].NewChampion)
			require.NotEmpty(t, state.PromotionHistory[0].Reason)
		}
	}
}

func TestNonWinCycleResetsAllCounters(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	// Two wins for momentum.
	h.bookWin(t, "momentum", 5)
	require.NoError(t, h.arena.CompareAndPromote(nil))
	h.bookWin(t, "momentum", 5)
	require.NoError(t, h.arena.CompareAndPromote(nil))
	require.Equal(t, 2, h.arena.State().ChallengerWins["momentum"])

	// Champion surges ahead: nobody is a win candidate this cycle.
	h.bookWin(t, "baseline", 50)
	require.NoError(t, h.arena.CompareAndPromote(nil))

	state := h.arena.State()
	require.Equal(t, "baseline", state.Champion)
	require.Empty(t, state.ChallengerWins, "a single non-win cycle erases all progress")
}

func TestTiePolicyStrictGreaterAndMinEdge(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	// Exactly equal PnL never counts as a win.
	h.bookWin(t, "baseline", 10)
	h.bookWin(t, "momentum", 10)
	require.NoError(t, h.arena.CompareAndPromote(nil))
	require.Empty(t, h.arena.State().ChallengerWins)

	// Strictly greater but below the minimum edge does not count either.
	h.bookWin(t, "momentum", 0.5)
	require.NoError(t, h.arena.CompareAndPromote(nil))
	require.Empty(t, h.arena.State().ChallengerWins)

	// Clearing the edge counts.
	h.bookWin(t, "momentum", 2)
	require.NoError(t, h.arena.CompareAndPromote(nil))
	require.Equal(t, 1, h.arena.State().ChallengerWins["momentum"])
}

func TestChallengerWinResetsOtherChallengers(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	h.bookWin(t, "momentum", 5)
	require.NoError(t, h.arena.CompareAndPromote(nil))
	require.Equal(t, 1, h.arena.State().ChallengerWins["momentum"])

	// Contrarian overtakes: it is the unique winner, momentum resets.
	h.bookWin(t, "contrarian", 20)
	require.NoError(t, h.arena.CompareAndPromote(nil))

	state := h.arena.State()
	require.Equal(t, 1, state.ChallengerWins["contrarian"])
	require.Zero(t, state.ChallengerWins["momentum"])
}

func TestFiveCycleScenario(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	// Cycles 1-3: momentum beats the baseline champion by >= 1 each cycle.
	for cycle := 1; cycle <= 3; cycle++ {
		h.bookWin(t, "momentum", 5)
		require.NoError(t, h.arena.CompareAndPromote(nil))
	}
	require.Equal(t, "momentum", h.arena.Champion())
	require.Len(t, h.arena.State().PromotionHistory, 1)

	// Cycle 4: baseline outperforms the new champion.
	h.bookWin(t, "baseline", 25)
	require.NoError(t, h.arena.CompareAndPromote(nil))
	require.Equal(t, 1, h.arena.State().ChallengerWins["baseline"])

	// Cycle 5: contrarian posts the highest PnL of all challengers.
	h.bookWin(t, "contrarian", 40)
	require.NoError(t, h.arena.CompareAndPromote(nil))

	state := h.arena.State()
	require.Equal(t, "momentum", state.Champion)
	require.Len(t, state.PromotionHistory, 1)
	require.Equal(t, 1, state.ChallengerWins["contrarian"])
	require.Zero(t, state.ChallengerWins["baseline"])
}

func TestRunCycleRecordsTrades(t *testing.T) {
	champion := &stubStrategy{id: "baseline", signal: buyUp(0.9)}
	challenger := &stubStrategy{id: "momentum", signal: buyUp(0.8)}

	h := newHarness(t, defaultConfig(), nil, champion, challenger)
	require.NoError(t, h.arena.RunCycle(context.Background()))

	require.Equal(t, 2, h.ledger.TradeCount())
	for _, trade := range h.ledger.RecentTrades(0) {
		switch trade.StrategyID {
		case "baseline":
			require.True(t, trade.IsReal, "incumbent routes to real execution")
		case "momentum":
			require.False(t, trade.IsReal, "challengers trade on paper")
		}
	}
}

func TestRunCycleContainsStrategyFailures(t *testing.T) {
	bad := &stubStrategy{id: "broken", err: errors.New("no data")}
	worse := &stubStrategy{id: "crasher", panics: true}
	good := &stubStrategy{id: "momentum", signal: buyUp(0.8)}

	h := newHarness(t, defaultConfig(), nil, bad, worse, good)
	require.NoError(t, h.arena.RunCycle(context.Background()))

	// The healthy strategy still traded.
	require.Equal(t, 1, h.ledger.TradeCount())
	require.Equal(t, "momentum", h.ledger.RecentTrades(1)[0].StrategyID)
}

func TestRealOrderFailureLeavesNoTrade(t *testing.T) {
	champion := &stubStrategy{id: "baseline", signal: buyUp(0.9)}

	h := newHarness(t, defaultConfig(), failingExec{}, champion)
	require.NoError(t, h.arena.RunCycle(context.Background()))

	require.Zero(t, h.ledger.TradeCount(), "no open trade may exist for an unplaced order")
}

func TestTargetedStrategyAbstainsWithoutMatch(t *testing.T) {
	targeted := &stubStrategy{id: "sector", signal: buyUp(0.9), targets: []string{"sports"}}
	routed := &stubStrategy{id: "macro", signal: buyUp(0.9), targets: []string{"fed"}}

	h := newHarness(t, defaultConfig(), nil, targeted, routed)
	require.NoError(t, h.arena.RunCycle(context.Background()))

	trades := h.ledger.RecentTrades(0)
	require.Len(t, trades, 1)
	require.Equal(t, "macro", trades[0].StrategyID)
	require.Equal(t, "rates-fed-cut", trades[0].Market)
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	var h *harness
	var inner error

	// The probe tries to start a second cycle while the first is still
	// evaluating; the guard must skip it, not queue it.
	probe := &fnStrategy{id: "probe", fn: func(ctx context.Context) (strategy.Signal, error) {
		inner = h.arena.RunCycle(ctx)
		return strategy.Hold("probing"), nil
	}}

	h = newHarness(t, defaultConfig(), nil, probe)
	require.NoError(t, h.arena.RunCycle(context.Background()))
	require.ErrorIs(t, inner, arena.ErrCycleInProgress)

	// The guard clears once the cycle finishes.
	require.NoError(t, h.arena.RunCycle(context.Background()))
}

func TestArenaStateSurvivesRestart(t *testing.T) {
	logger := zap.NewNop()
	dir := t.TempDir()

	store, err := statestore.NewStore(logger, dir)
	require.NoError(t, err)
	l := ledger.New(logger, store)
	gate := riskgate.New(logger, types.DefaultRiskConfig(), l)
	alloc := allocator.New(logger, types.DefaultAllocatorConfig(), l)
	registry := strategy.NewRegistry(logger)
	markets := market.NewRegistry([]types.Market{{Identifier: "m"}}, "m")
	source := market.NewStaticPriceSource(nil)

	deps := arena.Deps{
		Registry: registry, Markets: markets, Prices: source, Signals: source,
		Ledger: l, Gate: gate, Allocator: alloc,
		Executor:  execution.NewPaperClient(logger),
		Store:     store,
		Portfolio: func(ctx context.Context) decimal.Decimal { return decimal.NewFromInt(1000) },
		Metrics:   metrics.New(prometheus.NewRegistry()),
	}

	a := arena.New(logger, defaultConfig(), deps)
	h := &harness{arena: a, ledger: l}
	h.bookWin(t, "momentum", 5)
	require.NoError(t, a.CompareAndPromote(nil))
	require.Equal(t, 1, a.State().ChallengerWins["momentum"])

	deps.Metrics = metrics.New(prometheus.NewRegistry())
	restored := arena.New(logger, defaultConfig(), deps)
	require.Equal(t, 1, restored.State().ChallengerWins["momentum"])
	require.Equal(t, a.Champion(), restored.Champion())
}
