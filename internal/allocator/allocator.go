// Package allocator converts trailing per-strategy performance into a
// normalized capital-weight distribution with bounded weights.
package allocator

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/ledger"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// Allocation is the sizing answer for one strategy.
type Allocation struct {
	CanTrade bool            `json:"canTrade"`
	Size     decimal.Decimal `json:"size"`
	Weight   float64         `json:"weight"`
}

// Allocator computes risk-adjusted ensemble weights from ledger statistics.
// Weights are recomputed each cycle; the last computed distribution is held
// for per-strategy lookups within the cycle.
type Allocator struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	config   types.AllocatorConfig
	ledger   *ledger.Ledger
	weights  map[string]float64
	disabled map[string]bool
}

// New creates an allocator over the given ledger.
func New(logger *zap.Logger, config types.AllocatorConfig, l *ledger.Ledger) *Allocator {
	disabled := make(map[string]bool, len(config.Disabled))
	for _, id := range config.Disabled {
		disabled[types.CanonicalStrategyID(id)] = true
	}
	return &Allocator{
		logger:   logger.Named("allocator"),
		config:   config,
		ledger:   l,
		weights:  make(map[string]float64),
		disabled: disabled,
	}
}

// ComputeWeights derives the weight distribution over the lookback window.
// The returned weights sum to 1. When no strategy passes the eligibility
// filter, the designated default strategy receives weight 1.0 — the system
// is never zero-allocated.
func (a *Allocator) ComputeWeights(lookback time.Duration, prices map[string]types.PricePoint) map[string]float64 {
	windows := a.ledger.PerformanceWindow(lookback, prices)
	samples := a.ledger.ClosedTradePnLs(lookback)

	raw := make(map[string]float64)
	for key, w := range windows {
		if a.disabled[key] {
			continue
		}

		closed := samples[key]
		if len(closed) < a.config.MinTrades {
			continue
		}
		winRate := float64(w.Wins) / float64(len(closed))
		if winRate < a.config.MinWinRate {
			continue
		}
		if w.TotalPnL.LessThan(a.config.MinPnLFloor) {
			continue
		}

		switch sharpe := sharpeLike(closed); {
		case sharpe > 0:
			raw[key] = sharpe
		case w.TotalPnL.IsPositive():
			// Participation credit for profitable but not Sharpe-positive
			// performers.
			raw[key] = 0.1
		}
	}

	if len(raw) == 0 {
		fallback := types.CanonicalStrategyID(a.config.DefaultStrategy)
		a.logger.Info("No eligible strategies, falling back to default",
			zap.String("strategy", fallback))
		weights := map[string]float64{fallback: 1.0}
		a.setWeights(weights)
		return weights
	}

	weights := normalize(raw)
	weights = Rebalance(weights, a.config.MinAlloc, a.config.MaxAlloc, a.config.MaxIterations)
	a.setWeights(weights)

	a.logger.Info("Allocation weights computed",
		zap.Int("eligible", len(weights)),
		zap.Any("weights", rounded(weights)))

	return weights
}

// GetAllocation returns the capital share for a strategy against the last
// computed distribution: size = baseSize * weight.
func (a *Allocator) GetAllocation(strategyID string, baseSize decimal.Decimal) Allocation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	weight := a.weights[types.CanonicalStrategyID(strategyID)]
	return Allocation{
		CanTrade: weight > 0,
		Size:     baseSize.Mul(decimal.NewFromFloat(weight)),
		Weight:   weight,
	}
}

// Weights returns a copy of the last computed distribution.
func (a *Allocator) Weights() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]float64, len(a.weights))
	for k, v := range a.weights {
		out[k] = v
	}
	return out
}

func (a *Allocator) setWeights(w map[string]float64) {
	a.mu.Lock()
	a.weights = w
	a.mu.Unlock()
}

// Rebalance clamps every nonzero weight into [minAlloc, maxAlloc] and
// renormalizes, repeating until no clamp fires or maxIter is reached. The
// fixed-point iteration is needed because clamping one weight changes the
// normalization base for the others. Pure function: the input map is not
// mutated.
func Rebalance(weights map[string]float64, minAlloc, maxAlloc float64, maxIter int) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for k, v := range weights {
		out[k] = v
	}

	for iter := 0; iter < maxIter; iter++ {
		clamped := make(map[string]bool)
		for k, v := range out {
			if v <= 0 {
				continue
			}
			if v < minAlloc {
				out[k] = minAlloc
				clamped[k] = true
			} else if v > maxAlloc {
				out[k] = maxAlloc
				clamped[k] = true
			}
		}

		if len(clamped) > 0 {
			// Redistribute the mass left over by the clamps across the
			// unclamped weights, preserving their proportions.
			fixed, free := 0.0, 0.0
			for k, v := range out {
				if v <= 0 {
					continue
				}
				if clamped[k] {
					fixed += v
				} else {
					free += v
				}
			}
			if free == 0 {
				// Every weight is pinned: with this few strategies the
				// bounds cannot hold together with summing to 1, and
				// summing to 1 takes precedence. A single eligible
				// strategy ends at exactly 1.0 here.
				if fixed > 0 {
					for k, v := range out {
						if v > 0 {
							out[k] = v / fixed
						}
					}
				}
				break
			}
			if fixed < 1 {
				for k, v := range out {
					if v > 0 && !clamped[k] {
						out[k] = v * (1 - fixed) / free
					}
				}
			}
			continue
		}

		sum := 0.0
		for _, v := range out {
			sum += v
		}
		if math.Abs(sum-1) < 1e-9 {
			break
		}
		if sum > 0 {
			for k := range out {
				out[k] /= sum
			}
		}
	}

	return out
}

// sharpeLike is mean(pnl)/stdev(pnl) over the per-trade samples, 0 with
// fewer than 2 samples or zero variance.
func sharpeLike(pnls []decimal.Decimal) float64 {
	if len(pnls) < 2 {
		return 0
	}

	n := float64(len(pnls))
	mean := 0.0
	for _, p := range pnls {
		mean += p.InexactFloat64()
	}
	mean /= n

	variance := 0.0
	for _, p := range pnls {
		d := p.InexactFloat64() - mean
		variance += d * d
	}
	variance /= n

	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

func normalize(weights map[string]float64) map[string]float64 {
	sum := 0.0
	for _, v := range weights {
		sum += v
	}

	out := make(map[string]float64, len(weights))
	if sum <= 0 {
		return out
	}
	for k, v := range weights {
		out[k] = v / sum
	}
	return out
}

// rounded renders weights compactly for logging.
func rounded(weights map[string]float64) map[string]float64 {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]float64, len(weights))
	for _, k := range keys {
		out[k] = math.Round(weights[k]*10000) / 10000
	}
	return out
}
