// Package metrics exposes Prometheus instrumentation for the workflows and the
// chain gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campaign"

var (
	// WorkflowTransitions counts state-machine entries per workflow and state.
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "State transitions taken by the staking and creator-token workflows",
	}, []string{"workflow", "state"})

	// ChainTx counts transactions by step kind and outcome.
	ChainTx = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "tx_total",
		Help:      "Transactions submitted, by step kind and final status",
	}, []string{"kind", "status"})

	// ChainErrors counts classified gateway errors.
	ChainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "errors_total",
		Help:      "Chain gateway errors by classified kind",
	}, []string{"kind"})

	// ReceiptWait observes time spent polling for receipts.
	ReceiptWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "receipt_wait_seconds",
		Help:      "Time spent waiting for transaction receipts",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	// Claims counts claim submissions by result.
	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "claims_total",
		Help:      "Claim submissions by result (created, duplicate, not_eligible, error)",
	}, []string{"result"})

	// ReconciledIntents counts deploy intents resolved by the reconciler.
	ReconciledIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "intents_total",
		Help:      "Deploy intents resolved by the reconciler, by outcome",
	}, []string{"outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
