// Package types provides shared type definitions for the strategy arena.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction represents the direction of a position on a two-sided market.
type TradeAction string

const (
	ActionBuyUp   TradeAction = "buy_up"
	ActionBuyDown TradeAction = "buy_down"
	ActionHold    TradeAction = "hold"
)

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// CloseReason records why an open trade was closed.
type CloseReason string

const (
	CloseReasonResolution CloseReason = "resolution"
	CloseReasonTakeProfit CloseReason = "take_profit"
)

// AllocationMode selects between single-champion and ensemble execution.
type AllocationMode string

const (
	ModeChampion AllocationMode = "champion"
	ModeEnsemble AllocationMode = "ensemble"
)

// Trade is one strategy's position attempt. Trades are append-only: a trade
// transitions open -> closed exactly once and is never deleted.
type Trade struct {
	ID          string          `json:"id"` // ULID, unique and creation-ordered
	Timestamp   time.Time       `json:"timestamp"`
	StrategyID  string          `json:"strategyId"`
	IsReal      bool            `json:"isReal"`
	Market      string          `json:"market"`
	Action      TradeAction     `json:"action"`
	EntryPrice  decimal.Decimal `json:"entryPrice"` // probability-as-price, in (0,1)
	Size        decimal.Decimal `json:"size"`
	Score       float64         `json:"score"`
	Confidence  float64         `json:"confidence"`
	Status      TradeStatus     `json:"status"`
	ExitPrice   decimal.Decimal `json:"exitPrice,omitempty"`
	PnL         decimal.Decimal `json:"pnl,omitempty"` // authoritative only once closed
	CloseReason CloseReason     `json:"closeReason,omitempty"`
	ClosedAt    *time.Time      `json:"closedAt,omitempty"`
}

// Shares returns the number of outcome shares the trade controls.
func (t *Trade) Shares() decimal.Decimal {
	if t.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return t.Size.Div(t.EntryPrice)
}

// PricePoint is a two-sided market quote: the price of the "up" outcome and
// the price of the "down" outcome.
type PricePoint struct {
	Up   decimal.Decimal `json:"up"`
	Down decimal.Decimal `json:"down"`
}

// SideOf returns the quoted price for the side a trade action is long.
func (p PricePoint) SideOf(action TradeAction) decimal.Decimal {
	if action == ActionBuyDown {
		return p.Down
	}
	return p.Up
}

// PerformanceWindow holds derived per-strategy statistics over a trailing
// duration. It is recomputed from the trade log on demand, never stored.
type PerformanceWindow struct {
	StrategyID string          `json:"strategyId"`
	TradeCount int             `json:"tradeCount"`
	Wins       int             `json:"wins"`
	ClosedPnL  decimal.Decimal `json:"closedPnl"`
	OpenPnL    decimal.Decimal `json:"openPnl"` // mark-to-market estimate
	TotalPnL   decimal.Decimal `json:"totalPnl"`
}

// PromotionEvent is one entry of the arena's promotion history.
type PromotionEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	OldChampion string    `json:"oldChampion"`
	NewChampion string    `json:"newChampion"`
	Reason      string    `json:"reason"`
}

// ArenaState is the persisted promotion state machine: the incumbent champion
// plus per-challenger consecutive-win counters. At most one challenger holds a
// nonzero counter at any time.
type ArenaState struct {
	Champion         string           `json:"champion"`
	ChallengerWins   map[string]int   `json:"challengerWins"`
	PromotionHistory []PromotionEvent `json:"promotionHistory"`
	LastUpdate       time.Time        `json:"lastUpdate"`
}

// AllocationState is the persisted capital-weight distribution. Allocations
// are recomputed each cycle; only the mode flag carries forward as state.
type AllocationState struct {
	Mode        AllocationMode     `json:"mode"`
	Allocations map[string]float64 `json:"allocations"`
	LastUpdate  time.Time          `json:"lastUpdate"`
}

// Market identifies one tradable market in the registry.
type Market struct {
	Identifier string `json:"identifier"`
	Category   string `json:"category"`
}

// CanonicalStrategyID normalizes a strategy identifier to its canonical
// aggregation key. Variant-group prefixes ("lab:momentum", "gen2:momentum")
// refer to the same underlying strategy and must aggregate as one. The
// function is idempotent: applying it twice yields the same key.
func CanonicalStrategyID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, ":"); i >= 0 {
		id = id[i+1:]
	}
	return id
}
