// Package monitor exposes Prometheus metrics for the execution core.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	riskChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_core_risk_checks_total",
			Help: "Total number of admission checks",
		},
		[]string{"result"},
	)

	riskDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_core_risk_denials_total",
			Help: "Admission denials by rule",
		},
		[]string{"rule"},
	)

	breakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_core_breaker_trips_total",
			Help: "Circuit breaker trips by scope kind",
		},
		[]string{"scope"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_core_orders_total",
			Help: "Orders placed by type and terminal status",
		},
		[]string{"type", "status"},
	)

	exchangeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_core_exchange_errors_total",
			Help: "Exchange call failures by class",
		},
		[]string{"class"},
	)

	portfolioHeat = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execution_core_portfolio_heat_usd",
			Help: "Capital at risk across open positions",
		},
		[]string{"portfolio"},
	)

	rebalanceRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_core_rebalance_runs_total",
			Help: "Rebalance executions by mode",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(riskChecksTotal)
	prometheus.MustRegister(riskDenialsTotal)
	prometheus.MustRegister(breakerTripsTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(exchangeErrorsTotal)
	prometheus.MustRegister(portfolioHeat)
	prometheus.MustRegister(rebalanceRunsTotal)
}

// RecordRiskCheck records an admission check outcome ("allowed"/"denied").
func RecordRiskCheck(result string) {
	riskChecksTotal.WithLabelValues(result).Inc()
}

// RecordRiskDenial records which rule denied admission.
func RecordRiskDenial(rule string) {
	riskDenialsTotal.WithLabelValues(rule).Inc()
}

// RecordBreakerTrip records a trip by scope kind ("asset"/"cluster"/"global").
func RecordBreakerTrip(scope string) {
	breakerTripsTotal.WithLabelValues(scope).Inc()
}

// RecordOrder records an order by type and status.
func RecordOrder(orderType, status string) {
	ordersTotal.WithLabelValues(orderType, status).Inc()
}

// RecordExchangeError records an exchange failure class ("timeout"/"rejected"/"other").
func RecordExchangeError(class string) {
	exchangeErrorsTotal.WithLabelValues(class).Inc()
}

// SetPortfolioHeat publishes the current capital at risk for a portfolio.
func SetPortfolioHeat(portfolioID string, heatUSD float64) {
	portfolioHeat.WithLabelValues(portfolioID).Set(heatUSD)
}

// RecordRebalance records a rebalance run ("dry_run"/"live").
func RecordRebalance(mode string) {
	rebalanceRunsTotal.WithLabelValues(mode).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
