// Package riskgate validates proposed trades against exposure, cooldown and
// duplication rules and computes a bounded position size.
package riskgate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/ledger"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// Rule is a machine-readable tag for the risk check that rejected a trade.
type Rule string

const (
	RuleMaxExposure Rule = "max_exposure"
	RuleCooldown    Rule = "cooldown"
	RuleNoStacking  Rule = "no_stacking"
)

// Verdict is the outcome of a pre-trade risk check. A rejection is a normal
// control-flow result, not an error: Rule and Reason say exactly which check
// failed and why.
type Verdict struct {
	Valid  bool            `json:"valid"`
	Size   decimal.Decimal `json:"size"`
	Rule   Rule            `json:"rule,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Gate runs the fixed sequence of pre-trade checks against the ledger's
// open-position view. The first failing check is authoritative.
type Gate struct {
	logger *zap.Logger
	config types.RiskConfig
	ledger *ledger.Ledger
}

// New creates a risk gate over the given ledger.
func New(logger *zap.Logger, config types.RiskConfig, l *ledger.Ledger) *Gate {
	return &Gate{
		logger: logger.Named("riskgate"),
		config: config,
		ledger: l,
	}
}

// Validate checks a proposed trade in fixed order: market exposure, strategy
// cooldown, anti-duplication, sizing, then a post-size exposure re-check that
// shrinks the size to fit under the cap, rejecting if the shrunk size falls
// below the minimum. portfolioValue is supplied by the caller; the gate never
// fetches it.
func (g *Gate) Validate(strategyID, market string, action types.TradeAction, confidence float64, portfolioValue decimal.Decimal) Verdict {
	exposure := g.ledger.MarketExposure(market)

	// 1. Exposure check.
	if portfolioValue.IsPositive() {
		ratio := exposure.Div(portfolioValue)
		if ratio.GreaterThanOrEqual(g.config.MaxExposurePerMarket) {
			return g.reject(strategyID, market, RuleMaxExposure,
				fmt.Sprintf("market exposure %s of portfolio at or above cap %s",
					ratio.Round(4), g.config.MaxExposurePerMarket))
		}
	}

	// 2. Cooldown check.
	if last, ok := g.ledger.LastTradeTime(strategyID); ok {
		elapsed := time.Since(last)
		if elapsed < g.config.Cooldown {
			remaining := (g.config.Cooldown - elapsed).Round(time.Second)
			return g.reject(strategyID, market, RuleCooldown,
				fmt.Sprintf("cooldown active, %s remaining", remaining))
		}
	}

	// 3. Anti-duplication.
	if g.ledger.HasOpenTrade(strategyID, market, action) {
		return g.reject(strategyID, market, RuleNoStacking,
			"open trade already exists for this strategy, market and action")
	}

	// 4. Sizing: base fraction scaled into [0.5, 1.0] by confidence.
	scale := decimal.NewFromFloat(0.5 + 0.5*confidence)
	size := portfolioValue.Mul(g.config.PositionSizePct).Mul(scale)
	if size.LessThan(g.config.MinTradeSize) {
		size = g.config.MinTradeSize
	}
	if size.GreaterThan(g.config.MaxTradeSize) {
		size = g.config.MaxTradeSize
	}

	// 5. Post-size exposure re-check: shrink to fit under the cap.
	headroom := g.config.MaxExposurePerMarket.Mul(portfolioValue).Sub(exposure)
	if size.GreaterThan(headroom) {
		size = headroom
		if size.LessThan(g.config.MinTradeSize) {
			return g.reject(strategyID, market, RuleMaxExposure,
				fmt.Sprintf("remaining exposure headroom %s below minimum trade size %s",
					size.Round(4), g.config.MinTradeSize))
		}
	}

	return Verdict{Valid: true, Size: size}
}

func (g *Gate) reject(strategyID, market string, rule Rule, reason string) Verdict {
	g.logger.Debug("Trade rejected",
		zap.String("strategy", strategyID),
		zap.String("market", market),
		zap.String("rule", string(rule)),
		zap.String("reason", reason))
	return Verdict{Valid: false, Size: decimal.Zero, Rule: rule, Reason: reason}
}
