package strategy_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/strategy"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

func signalsWithMove(up float64, move float64) strategy.Signals {
	return strategy.Signals{
		Prices: types.PricePoint{
			Up:   decimal.NewFromFloat(up),
			Down: decimal.NewFromFloat(1 - up),
		},
		Change24h: move,
	}
}

func TestRegistry(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	r.Register(strategy.NewBaselineStrategy())
	r.Register(strategy.NewMomentumStrategy(0.05))
	r.Register(strategy.NewContrarianStrategy(0.10))

	require.Equal(t, []string{"baseline", "contrarian", "momentum"}, r.List())

	s, ok := r.Get("momentum")
	require.True(t, ok)
	require.Equal(t, "momentum", s.ID())

	_, ok = r.Get("missing")
	require.False(t, ok)
}

func TestMomentumFollowsMove(t *testing.T) {
	s := strategy.NewMomentumStrategy(0.05)
	ctx := context.Background()

	sig, err := s.Analyze(ctx, "m", signalsWithMove(0.6, 0.12))
	require.NoError(t, err)
	require.Equal(t, types.ActionBuyUp, sig.Action)
	require.Greater(t, sig.Score, 0.0)
	require.NotEmpty(t, sig.Reason)

	sig, err = s.Analyze(ctx, "m", signalsWithMove(0.4, -0.12))
	require.NoError(t, err)
	require.Equal(t, types.ActionBuyDown, sig.Action)

	sig, err = s.Analyze(ctx, "m", signalsWithMove(0.5, 0.01))
	require.NoError(t, err)
	require.Equal(t, types.ActionHold, sig.Action)
}

func TestContrarianFadesMove(t *testing.T) {
	s := strategy.NewContrarianStrategy(0.10, "crypto")
	ctx := context.Background()

	sig, err := s.Analyze(ctx, "m", signalsWithMove(0.7, 0.2))
	require.NoError(t, err)
	require.Equal(t, types.ActionBuyDown, sig.Action)

	require.Equal(t, []string{"crypto"}, s.TargetMarkets())
}

func TestBaselinePrefersCheapSide(t *testing.T) {
	s := strategy.NewBaselineStrategy()
	ctx := context.Background()

	sig, err := s.Analyze(ctx, "m", signalsWithMove(0.3, 0))
	require.NoError(t, err)
	require.Equal(t, types.ActionBuyUp, sig.Action)

	sig, err = s.Analyze(ctx, "m", signalsWithMove(0.8, 0))
	require.NoError(t, err)
	require.Equal(t, types.ActionBuyDown, sig.Action)
}

func TestScoreAndConfidenceBounds(t *testing.T) {
	ctx := context.Background()
	strategies := []strategy.Strategy{
		strategy.NewBaselineStrategy(),
		strategy.NewMomentumStrategy(0.05),
		strategy.NewContrarianStrategy(0.10),
	}

	for _, s := range strategies {
		for _, move := range []float64{-5, -0.2, 0, 0.2, 5} {
			sig, err := s.Analyze(ctx, "m", signalsWithMove(0.5, move))
			require.NoError(t, err)
			require.GreaterOrEqual(t, sig.Score, -1.0, "%s move %v", s.ID(), move)
			require.LessOrEqual(t, sig.Score, 1.0, "%s move %v", s.ID(), move)
			require.GreaterOrEqual(t, sig.Confidence, 0.0)
			require.LessOrEqual(t, sig.Confidence, 1.0)
		}
	}
}
