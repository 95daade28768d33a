// metrics.go - Prometheus exposition for the daemon
package main

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var buildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "confidential",
		Name:      "build_info",
		Help:      "Build information of the running daemon",
	},
	[]string{"version", "go_version"},
)

// metricsHandler serves the default registry, which the settlement and
// transfer packages register into.
func metricsHandler() http.Handler {
	buildInfo.WithLabelValues(version, runtime.Version()).Set(1)
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
