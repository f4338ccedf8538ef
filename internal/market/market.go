// Package market provides the read-only market registry and the price source
// contract the arena consumes.
package market

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/meridianlabs/strategy-arena/internal/strategy"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// Registry is the read-only list of active markets plus one designated
// default identifier.
type Registry struct {
	markets       []types.Market
	defaultMarket string
}

// NewRegistry creates a registry. defaultMarket should be one of the listed
// identifiers; it is where strategies without declared targets trade.
func NewRegistry(markets []types.Market, defaultMarket string) *Registry {
	return &Registry{markets: markets, defaultMarket: defaultMarket}
}

// Markets returns the active market list.
func (r *Registry) Markets() []types.Market {
	out := make([]types.Market, len(r.markets))
	copy(out, r.markets)
	return out
}

// Default returns the designated default market identifier.
func (r *Registry) Default() string { return r.defaultMarket }

// Match returns the first active market whose identifier contains pattern as
// a substring (case-insensitive).
func (r *Registry) Match(pattern string) (string, bool) {
	p := strings.ToLower(pattern)
	for _, m := range r.markets {
		if strings.Contains(strings.ToLower(m.Identifier), p) {
			return m.Identifier, true
		}
	}
	return "", false
}

// PriceSource supplies two-sided quotes for markets. Mark-to-market and
// take-profit sweeps require it.
type PriceSource interface {
	CurrentPrices(ctx context.Context, market string) (types.PricePoint, error)
}

// SignalSource derives the per-market snapshot strategies analyze. A live
// implementation wraps the external market-data feed; StaticPriceSource
// serves tests and dry runs.
type SignalSource interface {
	Signals(ctx context.Context, market string) (strategy.Signals, error)
}

// StaticPriceSource is an in-memory PriceSource and SignalSource for tests
// and dry runs.
type StaticPriceSource struct {
	mu     sync.RWMutex
	quotes map[string]types.PricePoint
	moves  map[string]float64
}

// NewStaticPriceSource creates a price source seeded with the given quotes.
func NewStaticPriceSource(quotes map[string]types.PricePoint) *StaticPriceSource {
	if quotes == nil {
		quotes = make(map[string]types.PricePoint)
	}
	return &StaticPriceSource{quotes: quotes, moves: make(map[string]float64)}
}

// SetPrice updates the quote for a market.
func (s *StaticPriceSource) SetPrice(market string, quote types.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[market] = quote
}

// SetChange24h sets the trailing move reported for a market.
func (s *StaticPriceSource) SetChange24h(market string, move float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves[market] = move
}

// Signals returns the stored quote and trailing move for a market.
func (s *StaticPriceSource) Signals(ctx context.Context, market string) (strategy.Signals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quote, ok := s.quotes[market]
	if !ok {
		return strategy.Signals{}, fmt.Errorf("no quote for market %s", market)
	}
	return strategy.Signals{Prices: quote, Change24h: s.moves[market]}, nil
}

// CurrentPrices returns the stored quote for a market.
func (s *StaticPriceSource) CurrentPrices(ctx context.Context, market string) (types.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quote, ok := s.quotes[market]
	if !ok {
		return types.PricePoint{}, fmt.Errorf("no quote for market %s", market)
	}
	return quote, nil
}

// SnapshotPrices collects quotes for every market in the registry, skipping
// markets the source cannot quote.
func SnapshotPrices(ctx context.Context, source PriceSource, registry *Registry) map[string]types.PricePoint {
	prices := make(map[string]types.PricePoint)
	for _, m := range registry.Markets() {
		quote, err := source.CurrentPrices(ctx, m.Identifier)
		if err != nil {
			continue
		}
		prices[m.Identifier] = quote
	}
	return prices
}
