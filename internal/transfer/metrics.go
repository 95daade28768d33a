package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidential",
			Subsystem: "transfer",
			Name:      "transfers_total",
			Help:      "Transfers by final outcome",
		},
		[]string{"outcome"},
	)

	proofGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "confidential",
			Subsystem: "transfer",
			Name:      "proof_generation_seconds",
			Help:      "Time to generate and check the transfer proofs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "confidential",
			Subsystem: "transfer",
			Name:      "stage_seconds",
			Help:      "Time spent reaching each stage",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	rollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidential",
			Subsystem: "transfer",
			Name:      "rollbacks_total",
			Help:      "Rollbacks by result",
		},
		[]string{"result"},
	)
)
