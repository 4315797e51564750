package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	PaymentsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_payments_total",
		Help: "The total number of orchestrated payments by outcome",
	}, []string{"chain_id", "backend", "status"})

	PaymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_payment_seconds",
		Help:    "Time taken to run a payment attempt end to end",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"chain_id", "backend"})

	PaymentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_errors_total",
		Help: "Total number of payment errors by kind",
	}, []string{"chain_id", "kind"})

	ChargesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_charges_created_total",
		Help: "The total number of charges created through the resolver",
	})

	RoutesPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_routes_planned_total",
		Help: "The total number of planned routes by kind",
	}, []string{"chain_id", "route_kind"})

	StaleQuotesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_stale_quotes_discarded_total",
		Help: "Speculative route or gas results discarded by the generation guard",
	})

	GasEstimationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_gas_estimation_failures_total",
		Help: "Gas estimations that failed and left the displayed fee unreliable",
	}, []string{"chain_id"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_gas_price_gwei",
		Help: "Current buffered gas price in gwei",
	}, []string{"chain_id"})

	TransactionsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_transactions_broadcast_total",
		Help: "On-chain transactions broadcast by the execution backends",
	}, []string{"chain_id", "backend"})

	TransactionsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_transactions_confirmed_total",
		Help: "On-chain transactions with a successful receipt",
	}, []string{"chain_id", "backend"})

	PartialExecutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_partial_execution_failures_total",
		Help: "Multi-transaction routes where an earlier leg confirmed and a later one failed",
	}, []string{"chain_id"})

	SettlementsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_settlements_recorded_total",
		Help: "Payments reported back to the charge ledger",
	}, []string{"chain_id", "status"})

	TokenPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_token_price_usd",
		Help: "Cached token price in USD",
	}, []string{"chain_id", "symbol"})
)
