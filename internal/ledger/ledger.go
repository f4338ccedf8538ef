// Package ledger provides the append-only trade log and per-strategy
// performance accounting, including mark-to-market valuation of open
// positions over arbitrary trailing windows.
package ledger

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/statestore"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

const snapshotName = "trade_ledger"

// Ledger is the system of record for trades. Trades are only ever appended
// and transitioned open -> closed; the full log is snapshot-persisted after
// each mutation.
type Ledger struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	store   *statestore.Store
	trades  []*types.Trade
	entropy *ulid.MonotonicEntropy
}

// TradeParams are the inputs to LogTrade. Economic soundness is the risk
// gate's job and is checked before a trade reaches the ledger.
type TradeParams struct {
	StrategyID string
	IsReal     bool
	Market     string
	Action     types.TradeAction
	EntryPrice decimal.Decimal
	Size       decimal.Decimal
	Score      float64
	Confidence float64

	// Timestamp overrides the trade's creation time when nonzero. Replays
	// and tests use it; live trading leaves it zero.
	Timestamp time.Time
}

// New creates a ledger backed by store. A missing or corrupt snapshot yields
// an empty ledger; the system must always be able to start cold.
func New(logger *zap.Logger, store *statestore.Store) *Ledger {
	l := &Ledger{
		logger:  logger.Named("ledger"),
		store:   store,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}

	var trades []*types.Trade
	found, err := store.Load(snapshotName, &trades)
	if err != nil {
		l.logger.Warn("Failed to load trade ledger, starting empty", zap.Error(err))
	} else if found {
		l.trades = trades
		l.logger.Info("Loaded trade ledger", zap.Int("trades", len(trades)))
	}

	return l
}

// LogTrade appends a new open trade and persists the log.
func (l *Ledger) LogTrade(params TradeParams) (*types.Trade, error) {
	one := decimal.NewFromInt(1)
	if !params.EntryPrice.IsPositive() || params.EntryPrice.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("entry price %s outside (0,1)", params.EntryPrice)
	}
	if !params.Size.IsPositive() {
		return nil, fmt.Errorf("trade size %s must be positive", params.Size)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := params.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	trade := &types.Trade{
		ID:         ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		Timestamp:  now,
		StrategyID: params.StrategyID,
		IsReal:     params.IsReal,
		Market:     params.Market,
		Action:     params.Action,
		EntryPrice: params.EntryPrice,
		Size:       params.Size,
		Score:      params.Score,
		Confidence: params.Confidence,
		Status:     types.TradeStatusOpen,
	}
	l.trades = append(l.trades, trade)

	if err := l.persistLocked(); err != nil {
		return nil, err
	}

	l.logger.Info("Trade logged",
		zap.String("id", trade.ID),
		zap.String("strategy", trade.StrategyID),
		zap.String("market", trade.Market),
		zap.String("action", string(trade.Action)),
		zap.String("size", trade.Size.String()),
		zap.Bool("real", trade.IsReal))

	// Callers get a copy; the ledger's record mutates only under its own
	// lock.
	copied := *trade
	return &copied, nil
}

// CloseTrade settles every open trade on market against a binary outcome:
// a winning trade is valued at 1.0 per share, a losing trade at 0.0.
// Returns the trades that were closed.
func (l *Ledger) CloseTrade(market string, winningSide types.TradeAction) ([]*types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closed []*types.Trade
	now := time.Now()

	for _, t := range l.trades {
		if t.Status != types.TradeStatusOpen || t.Market != market {
			continue
		}

		exit := decimal.Zero
		if t.Action == winningSide {
			exit = decimal.NewFromInt(1)
		}
		settle(t, exit, types.CloseReasonResolution, now)
		closed = append(closed, t)
	}

	if len(closed) == 0 {
		return nil, nil
	}

	if err := l.persistLocked(); err != nil {
		return nil, err
	}

	for _, t := range closed {
		l.logger.Info("Trade resolved",
			zap.String("id", t.ID),
			zap.String("strategy", t.StrategyID),
			zap.String("market", t.Market),
			zap.String("pnl", t.PnL.String()))
	}

	return closed, nil
}

// MarkToMarketPnL values a trade at current prices. For a closed trade the
// recorded PnL is returned unchanged: the call is idempotent and never
// recomputes from price.
func (l *Ledger) MarkToMarketPnL(t *types.Trade, prices types.PricePoint) decimal.Decimal {
	if t.Status == types.TradeStatusClosed {
		return t.PnL
	}
	currentValue := t.Shares().Mul(prices.SideOf(t.Action))
	return currentValue.Sub(t.Size)
}

// PerformanceWindow aggregates per-strategy statistics over the trailing
// duration. Strategy keys are normalized so variant-prefixed identifiers
// aggregate together. Closed trades contribute realized PnL; open trades
// contribute a mark-to-market estimate when a quote is available, and
// nothing otherwise (valuing the position at its own entry price).
func (l *Ledger) PerformanceWindow(lookback time.Duration, prices map[string]types.PricePoint) map[string]*types.PerformanceWindow {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := time.Now().Add(-lookback)
	windows := make(map[string]*types.PerformanceWindow)

	for _, t := range l.trades {
		if t.Timestamp.Before(cutoff) {
			continue
		}

		key := types.CanonicalStrategyID(t.StrategyID)
		w, ok := windows[key]
		if !ok {
			w = &types.PerformanceWindow{StrategyID: key}
			windows[key] = w
		}

		w.TradeCount++
		if t.Status == types.TradeStatusClosed {
			w.ClosedPnL = w.ClosedPnL.Add(t.PnL)
			if t.PnL.IsPositive() {
				w.Wins++
			}
		} else if quote, ok := prices[t.Market]; ok {
			w.OpenPnL = w.OpenPnL.Add(l.MarkToMarketPnL(t, quote))
		}
		w.TotalPnL = w.ClosedPnL.Add(w.OpenPnL)
	}

	return windows
}

// ClosedTradePnLs returns the realized per-trade PnLs per canonical strategy
// key over the trailing duration, in log order. Used for dispersion-based
// performance ratios that need the individual samples, not just the sum.
func (l *Ledger) ClosedTradePnLs(lookback time.Duration) map[string][]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := time.Now().Add(-lookback)
	pnls := make(map[string][]decimal.Decimal)
	for _, t := range l.trades {
		if t.Status != types.TradeStatusClosed || t.Timestamp.Before(cutoff) {
			continue
		}
		key := types.CanonicalStrategyID(t.StrategyID)
		pnls[key] = append(pnls[key], t.PnL)
	}
	return pnls
}

// SweepTakeProfits closes every open trade whose favorable-direction price
// move since entry meets thresholdPct, at the current quote. It runs once per
// cycle before the performance comparison so realized gains are reflected.
func (l *Ledger) SweepTakeProfits(prices map[string]types.PricePoint, thresholdPct float64) ([]*types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := decimal.NewFromFloat(thresholdPct)
	now := time.Now()
	var swept []*types.Trade

	for _, t := range l.trades {
		if t.Status != types.TradeStatusOpen {
			continue
		}
		quote, ok := prices[t.Market]
		if !ok {
			continue
		}

		current := quote.SideOf(t.Action)
		if !current.IsPositive() {
			continue
		}
		move := current.Sub(t.EntryPrice).Div(t.EntryPrice)
		if move.LessThan(threshold) {
			continue
		}

		settle(t, current, types.CloseReasonTakeProfit, now)
		swept = append(swept, t)
	}

	if len(swept) == 0 {
		return nil, nil
	}

	if err := l.persistLocked(); err != nil {
		return nil, err
	}

	for _, t := range swept {
		l.logger.Info("Take-profit swept",
			zap.String("id", t.ID),
			zap.String("strategy", t.StrategyID),
			zap.String("market", t.Market),
			zap.String("pnl", t.PnL.String()))
	}

	return swept, nil
}

// MarketExposure returns the total committed size of open trades on market.
func (l *Ledger) MarketExposure(market string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	exposure := decimal.Zero
	for _, t := range l.trades {
		if t.Status == types.TradeStatusOpen && t.Market == market {
			exposure = exposure.Add(t.Size)
		}
	}
	return exposure
}

// OpenExposure returns the total committed size across all open trades.
func (l *Ledger) OpenExposure() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	exposure := decimal.Zero
	for _, t := range l.trades {
		if t.Status == types.TradeStatusOpen {
			exposure = exposure.Add(t.Size)
		}
	}
	return exposure
}

// HasOpenTrade reports whether an open trade already exists for the same
// (strategy, market, action) triple. Strategy ids compare canonically.
func (l *Ledger) HasOpenTrade(strategyID, market string, action types.TradeAction) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key := types.CanonicalStrategyID(strategyID)
	for _, t := range l.trades {
		if t.Status == types.TradeStatusOpen &&
			t.Market == market &&
			t.Action == action &&
			types.CanonicalStrategyID(t.StrategyID) == key {
			return true
		}
	}
	return false
}

// LastTradeTime returns the timestamp of the strategy's most recent trade.
func (l *Ledger) LastTradeTime(strategyID string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key := types.CanonicalStrategyID(strategyID)
	var last time.Time
	var found bool
	for _, t := range l.trades {
		if types.CanonicalStrategyID(t.StrategyID) != key {
			continue
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
			found = true
		}
	}
	return last, found
}

// OpenTrades returns a copy of the open-position view.
func (l *Ledger) OpenTrades() []*types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var open []*types.Trade
	for _, t := range l.trades {
		if t.Status == types.TradeStatusOpen {
			copied := *t
			open = append(open, &copied)
		}
	}
	return open
}

// RecentTrades returns up to limit trades, newest first.
func (l *Ledger) RecentTrades(limit int) []*types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.trades)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*types.Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		copied := *l.trades[i]
		out = append(out, &copied)
	}
	return out
}

// TradeCount returns the total number of recorded trades.
func (l *Ledger) TradeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

func (l *Ledger) persistLocked() error {
	if err := l.store.Save(snapshotName, l.trades); err != nil {
		return fmt.Errorf("failed to persist trade ledger: %w", err)
	}
	return nil
}

// settle closes t at the given exit price:
// shares = size/entry, pnl = shares*exit - size.
func settle(t *types.Trade, exit decimal.Decimal, reason types.CloseReason, now time.Time) {
	t.Status = types.TradeStatusClosed
	t.ExitPrice = exit
	t.PnL = t.Shares().Mul(exit).Sub(t.Size)
	t.CloseReason = reason
	closedAt := now
	t.ClosedAt = &closedAt
}
