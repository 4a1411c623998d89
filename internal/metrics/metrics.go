// Package metrics declares the Prometheus instruments used across the service
// and the small ops HTTP server that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BetsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_bets_placed_total",
		Help: "Bets accepted by the bet engine",
	}, []string{"source", "currency"})

	BetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_bets_rejected_total",
		Help: "Bets rejected before any write",
	}, []string{"reason"})

	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_stake_volume_total",
		Help: "Sum of accepted stakes in minor units",
	}, []string{"currency"})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_settlements_total",
		Help: "Events settled, by source and outcome (payout|refund|cancel)",
	}, []string{"source", "outcome"})

	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betledger_settlement_duration_seconds",
		Help:    "Time spent inside the settlement unit of work",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	PayoutDust = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betledger_payout_dust_total",
		Help: "Minor units left undistributed by proportional payout truncation",
	})

	LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_ledger_ops_total",
		Help: "Ledger credits and debits by transaction type",
	}, []string{"direction", "type"})

	InsufficientFunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betledger_insufficient_funds_total",
		Help: "Debits refused because the balance was too low",
	})

	PaymentConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_payment_confirmations_total",
		Help: "Payment confirmations by purpose, replays counted separately",
	}, []string{"purpose", "replayed"})

	OracleJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_oracle_jobs_total",
		Help: "Oracle jobs by outcome (decided|refund|timeout|error)",
	}, []string{"outcome"})

	OracleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betledger_oracle_job_duration_seconds",
		Help:    "Submit-to-decision latency of oracle jobs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "betledger_queue_depth",
		Help: "Items currently buffered in a background queue",
	}, []string{"queue"})

	QueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_queue_dropped_total",
		Help: "Items dropped because a background queue was full or closed",
	}, []string{"queue"})

	DialogueTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_dialogue_transitions_total",
		Help: "Dialogue state changes by resulting state",
	}, []string{"to"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_http_requests_total",
		Help: "HTTP requests by router, route and status",
	}, []string{"router", "route", "status"})
)
