// Package strategy defines the pluggable strategy contract and the registry
// the arena evaluates each cycle.
package strategy

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// Signals is the market-state snapshot a strategy analyzes: the current
// two-sided quote plus simple derived features.
type Signals struct {
	Prices    types.PricePoint `json:"prices"`
	Change24h float64          `json:"change24h"` // relative move of the up price
	Volume    float64          `json:"volume"`
}

// Signal is a strategy's verdict for one market on one cycle.
type Signal struct {
	Action     types.TradeAction `json:"action"`
	Score      float64           `json:"score"`      // [-1, 1]
	Confidence float64           `json:"confidence"` // [0, 1]
	Reason     string            `json:"reason"`
}

// Hold returns an abstaining signal with the given reason.
func Hold(reason string) Signal {
	return Signal{Action: types.ActionHold, Reason: reason}
}

// Strategy is the interface all strategies must implement. Analyze is a pure
// scored function over the market snapshot; it may fail, and a failure is
// treated as an abstention for that cycle, never a cycle abort.
type Strategy interface {
	ID() string
	Analyze(ctx context.Context, market string, signals Signals) (Signal, error)
}

// MarketTargeter is optionally implemented by strategies that trade only a
// subset of markets. Patterns are matched as substrings against market
// identifiers in the registry.
type MarketTargeter interface {
	TargetMarkets() []string
}

// Registry manages the registered strategy pool.
type Registry struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:     logger.Named("strategies"),
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the pool, replacing any previous registration
// under the same id.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID()] = s
	r.logger.Info("Strategy registered", zap.String("id", s.ID()))
}

// Get returns a strategy by id.
func (r *Registry) Get(id string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	return s, ok
}

// All returns every registered strategy in stable id order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Strategy, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.strategies[id])
	}
	return out
}

// List returns all registered strategy ids in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
