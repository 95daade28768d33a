package settlement

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidential",
			Subsystem: "settlement",
			Name:      "calls_total",
			Help:      "Settlement calls by method and result",
		},
		[]string{"method", "result"},
	)

	commitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidential",
			Subsystem: "settlement",
			Name:      "commits_total",
			Help:      "Committed operations by kind",
		},
		[]string{"operation"},
	)

	openContexts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "confidential",
			Subsystem: "settlement",
			Name:      "open_contexts",
			Help:      "Settlement contexts created and not yet closed",
		},
	)

	currentSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "confidential",
			Subsystem: "settlement",
			Name:      "slot",
			Help:      "Current ledger slot",
		},
	)
)

// resultLabels maps sentinel errors to metric labels.
var resultLabels = []struct {
	err   error
	label string
}{
	{ErrStaleFreshness, "stale"},
	{ErrThrottled, "throttled"},
	{ErrContextExists, "exists"},
	{ErrAlreadyPublished, "already_published"},
	{ErrContextNotFound, "not_found"},
	{ErrProofRejected, "rejected"},
	{ErrPayloadTooLarge, "too_large"},
}

func observe(method string, err error) {
	callsTotal.WithLabelValues(method, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range resultLabels {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "error"
}
