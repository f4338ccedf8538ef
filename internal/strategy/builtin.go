package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// BaselineStrategy buys the cheaper side with low conviction. It exists to
// give the allocator a never-empty fallback and the arena an incumbent to
// beat.
type BaselineStrategy struct{}

// NewBaselineStrategy creates the baseline strategy.
func NewBaselineStrategy() *BaselineStrategy { return &BaselineStrategy{} }

func (s *BaselineStrategy) ID() string { return "baseline" }

func (s *BaselineStrategy) Analyze(ctx context.Context, market string, signals Signals) (Signal, error) {
	up := signals.Prices.Up.InexactFloat64()
	if up <= 0 || up >= 1 {
		return Hold("no usable quote"), nil
	}

	// Mild preference for the underpriced side.
	if up < 0.5 {
		return Signal{
			Action:     types.ActionBuyUp,
			Score:      0.5 - up,
			Confidence: 0.3,
			Reason:     fmt.Sprintf("up side underpriced at %.2f", up),
		}, nil
	}
	return Signal{
		Action:     types.ActionBuyDown,
		Score:      -(up - 0.5),
		Confidence: 0.3,
		Reason:     fmt.Sprintf("down side underpriced at %.2f", 1-up),
	}, nil
}

// MomentumStrategy follows the trailing move: a sustained drift of the up
// price is expected to continue.
type MomentumStrategy struct {
	Threshold float64 // min 24h move to act on
}

// NewMomentumStrategy creates a momentum strategy with the given move
// threshold.
func NewMomentumStrategy(threshold float64) *MomentumStrategy {
	return &MomentumStrategy{Threshold: threshold}
}

func (s *MomentumStrategy) ID() string { return "momentum" }

func (s *MomentumStrategy) Analyze(ctx context.Context, market string, signals Signals) (Signal, error) {
	move := signals.Change24h
	if math.Abs(move) < s.Threshold {
		return Hold(fmt.Sprintf("move %.3f below threshold %.3f", move, s.Threshold)), nil
	}

	score := clampScore(move / (s.Threshold * 4))
	confidence := math.Min(math.Abs(score)+0.3, 1)
	if move > 0 {
		return Signal{Action: types.ActionBuyUp, Score: score, Confidence: confidence,
			Reason: fmt.Sprintf("24h up-move %.3f", move)}, nil
	}
	return Signal{Action: types.ActionBuyDown, Score: score, Confidence: confidence,
		Reason: fmt.Sprintf("24h down-move %.3f", move)}, nil
}

// ContrarianStrategy fades large moves, betting on reversion.
type ContrarianStrategy struct {
	Threshold float64
	targets   []string
}

// NewContrarianStrategy creates a contrarian strategy. When targets is
// non-empty the strategy trades only markets matching those patterns.
func NewContrarianStrategy(threshold float64, targets ...string) *ContrarianStrategy {
	return &ContrarianStrategy{Threshold: threshold, targets: targets}
}

func (s *ContrarianStrategy) ID() string { return "contrarian" }

// TargetMarkets returns the market patterns this strategy trades.
func (s *ContrarianStrategy) TargetMarkets() []string { return s.targets }

func (s *ContrarianStrategy) Analyze(ctx context.Context, market string, signals Signals) (Signal, error) {
	move := signals.Change24h
	if math.Abs(move) < s.Threshold {
		return Hold(fmt.Sprintf("move %.3f too small to fade", move)), nil
	}

	score := clampScore(-move / (s.Threshold * 4))
	confidence := math.Min(math.Abs(score)+0.2, 1)
	if move > 0 {
		return Signal{Action: types.ActionBuyDown, Score: score, Confidence: confidence,
			Reason: fmt.Sprintf("fading 24h up-move %.3f", move)}, nil
	}
	return Signal{Action: types.ActionBuyUp, Score: score, Confidence: confidence,
		Reason: fmt.Sprintf("fading 24h down-move %.3f", move)}, nil
}

func clampScore(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
