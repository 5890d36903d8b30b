// Package metrics exposes prometheus collectors for the grid engine.
//
//   - griddca_ticks_total{outcome}         ticks by outcome (paused|skip|allow|continue|reset|error)
//   - griddca_broker_calls_total{op,result} broker calls (ok|transient|rejected|exhausted|open)
//   - griddca_fills_total{side}            ladder fills
//   - griddca_orders_placed_total{side}    ladder orders accepted by the broker
//   - griddca_closes_total{side}           ladder positions closed at their take profit
//   - griddca_tick_duration_seconds        tick latency histogram
//   - griddca_guard_trips_total{reason}    risk decisions other than a plain allow
//   - griddca_cycle_resets_total{result}   take-profit resets (confirmed|pending)
//   - griddca_equity, griddca_cycle_pnl, griddca_max_drawdown
//   - griddca_active_orders, griddca_open_positions
//   - griddca_status{status}               1 for the current status, 0 otherwise
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "griddca_ticks_total", Help: "Engine ticks by outcome"},
		[]string{"outcome"},
	)

	BrokerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "griddca_broker_calls_total", Help: "Broker calls by operation and result"},
		[]string{"op", "result"},
	)

	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "griddca_fills_total", Help: "Ladder orders filled"},
		[]string{"side"},
	)

	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "griddca_orders_placed_total", Help: "Ladder orders accepted by the broker"},
		[]string{"side"},
	)

	Closes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "griddca_closes_total", Help: "Ladder positions closed at their take profit"},
		[]string{"side"},
	)

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "griddca_tick_duration_seconds",
		Help:    "Engine tick latency",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	GuardTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "griddca_guard_trips_total", Help: "Risk guard decisions by reason"},
		[]string{"reason"},
	)

	CycleResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "griddca_cycle_resets_total", Help: "Take-profit cycle resets"},
		[]string{"result"},
	)

	Equity = prometheus.NewGauge(prometheus.GaugeOpts{Name: "griddca_equity", Help: "Account equity at last tick"})

	CyclePnL = prometheus.NewGauge(prometheus.GaugeOpts{Name: "griddca_cycle_pnl", Help: "Open plus closed P&L of the current cycle"})

	MaxDrawdown = prometheus.NewGauge(prometheus.GaugeOpts{Name: "griddca_max_drawdown", Help: "Worst drawdown of the current cycle"})

	ActiveOrders = prometheus.NewGauge(prometheus.GaugeOpts{Name: "griddca_active_orders", Help: "Pending ladder orders"})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{Name: "griddca_open_positions", Help: "Open ladder positions"})

	Status = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "griddca_status", Help: "Engine status indicator"},
		[]string{"status"},
	)
)

var statusNames = []string{"running", "paused_manual", "paused_scheduled", "paused_blackout", "paused_drawdown", "paused_withdrawal"}

func init() {
	prometheus.MustRegister(Ticks, BrokerCalls, Fills, OrdersPlaced, Closes, TickDuration, GuardTrips, CycleResets,
		Equity, CyclePnL, MaxDrawdown, ActiveOrders, OpenPositions, Status)
}

// SetStatus flips the status series so exactly one reads 1.
func SetStatus(current string) {
	for _, name := range statusNames {
		v := 0.0
		if name == current {
			v = 1
		}
		Status.WithLabelValues(name).Set(v)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
