package arena

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// CompareAndPromote compares trailing performance over the comparison
// horizon and advances the promotion state machine.
//
// A challenger is a win candidate only when its windowed PnL strictly beats
// the champion's, is itself positive, and clears the absolute minimum edge —
// a positive delta alone is noise, not a win. Among candidates the strictly
// highest PnL is the cycle's unique winner: its consecutive-win counter
// increments and every other challenger resets. A cycle with no candidate
// resets every counter; partial progress does not survive a non-win cycle.
// Reaching the promotion threshold swaps the champion and zeroes all
// counters.
func (a *Arena) CompareAndPromote(prices map[string]types.PricePoint) error {
	horizon := time.Duration(a.config.ComparisonHours) * time.Hour
	windows := a.ledger.PerformanceWindow(horizon, prices)

	a.mu.Lock()
	defer a.mu.Unlock()

	champion := a.state.Champion
	championPnL := decimal.Zero
	if w, ok := windows[champion]; ok {
		championPnL = w.TotalPnL
	}

	ids := make([]string, 0, len(windows))
	for id := range windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	winner := ""
	winnerPnL := decimal.Zero
	for _, id := range ids {
		w := windows[id]
		if id == champion {
			continue
		}
		if !w.TotalPnL.GreaterThan(championPnL) || !w.TotalPnL.IsPositive() {
			continue
		}
		if w.TotalPnL.Sub(championPnL).LessThan(a.config.MinEdge) {
			continue
		}
		if winner == "" || w.TotalPnL.GreaterThan(winnerPnL) {
			winner = id
			winnerPnL = w.TotalPnL
		}
	}

	if winner == "" {
		// The incumbent retained the cycle: every challenger starts over.
		for id := range a.state.ChallengerWins {
			a.metrics.ChallengerStreaks.WithLabelValues(id).Set(0)
		}
		a.state.ChallengerWins = make(map[string]int)
		a.state.LastUpdate = time.Now()
		return a.persistArenaState()
	}

	wins := a.state.ChallengerWins[winner] + 1
	for id := range a.state.ChallengerWins {
		if id != winner {
			a.metrics.ChallengerStreaks.WithLabelValues(id).Set(0)
		}
	}
	a.state.ChallengerWins = map[string]int{winner: wins}
	a.metrics.ChallengerStreaks.WithLabelValues(winner).Set(float64(wins))

	a.logger.Info("Challenger won cycle",
		zap.String("challenger", winner),
		zap.String("challengerPnl", winnerPnL.String()),
		zap.String("championPnl", championPnL.String()),
		zap.Int("consecutiveWins", wins),
		zap.Int("threshold", a.config.PromotionThreshold))

	if wins >= a.config.PromotionThreshold {
		event := types.PromotionEvent{
			Timestamp:   time.Now(),
			OldChampion: champion,
			NewChampion: winner,
			Reason: fmt.Sprintf("%d consecutive wins, pnl %s vs champion %s over %dh",
				wins, winnerPnL, championPnL, a.config.ComparisonHours),
		}
		a.state.PromotionHistory = append(a.state.PromotionHistory, event)
		a.state.Champion = winner
		a.state.ChallengerWins = make(map[string]int)
		a.metrics.PromotionsTotal.Inc()
		a.metrics.ChallengerStreaks.WithLabelValues(winner).Set(0)

		a.logger.Info("Champion promoted",
			zap.String("old", event.OldChampion),
			zap.String("new", event.NewChampion),
			zap.String("reason", event.Reason))

		if a.onPromotion != nil {
			a.onPromotion(event)
		}
	}

	a.state.LastUpdate = time.Now()
	return a.persistArenaState()
}
