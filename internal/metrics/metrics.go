package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExchangeTransactions counts exchange transactions by type and the
	// terminal status they reached.
	ExchangeTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_transactions_total",
		Help: "Exchange transactions by type and terminal status",
	}, []string{"type", "status"})

	// ExchangeRetries counts scheduled leg retries by failure step.
	ExchangeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_retries_total",
		Help: "Retries scheduled by failure step",
	}, []string{"step"})

	// ManualEscalations counts transitions to manual_required.
	ManualEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_manual_escalations_total",
		Help: "Transactions escalated to manual resolution",
	})

	// CasinoRequestDuration observes remote casino API latency.
	CasinoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casino_request_duration_seconds",
		Help:    "747Live API call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})
)
