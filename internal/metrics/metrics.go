// Package metrics provides Prometheus instrumentation for the arena.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the arena's Prometheus collectors.
type Metrics struct {
	CyclesTotal       prometheus.Counter
	CyclesSkipped     prometheus.Counter
	TradesLogged      *prometheus.CounterVec
	RiskRejections    *prometheus.CounterVec
	PromotionsTotal   prometheus.Counter
	TakeProfitsSwept  prometheus.Counter
	StrategyFailures  *prometheus.CounterVec
	OpenExposure      prometheus.Gauge
	AllocationWeight  *prometheus.GaugeVec
	ChallengerStreaks *prometheus.GaugeVec
}

// New registers the arena collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_cycles_total",
			Help: "Evaluation cycles completed.",
		}),
		CyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_cycles_skipped_total",
			Help: "Cycles skipped because another cycle was still running.",
		}),
		TradesLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_trades_logged_total",
			Help: "Trades recorded to the ledger.",
		}, []string{"mode"}), // real | paper
		RiskRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_risk_rejections_total",
			Help: "Proposed trades rejected by the risk gate.",
		}, []string{"rule"}),
		PromotionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_promotions_total",
			Help: "Champion promotions.",
		}),
		TakeProfitsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_take_profits_swept_total",
			Help: "Open trades closed by the take-profit sweep.",
		}),
		StrategyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_strategy_failures_total",
			Help: "Strategy evaluations that errored or panicked.",
		}, []string{"strategy"}),
		OpenExposure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_open_exposure",
			Help: "Total capital committed to open trades.",
		}),
		AllocationWeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arena_allocation_weight",
			Help: "Current capital weight per strategy.",
		}, []string{"strategy"}),
		ChallengerStreaks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arena_challenger_win_streak",
			Help: "Consecutive-win counter per challenger.",
		}, []string{"strategy"}),
	}
}
