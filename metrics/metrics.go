// Package metrics defines the Prometheus collectors the gateway exposes on
// /metrics: admission outcomes by reason, relay latency, and chain oracle
// refresh latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AdmissionsTotal counts every admission decision, labeled by its
	// outcome: "accepted" or one of the error taxonomy reasons
	// (missing_header, malformed, unknown_channel, signature_invalid,
	// non_monotonic, insufficient_balance, channel_closed, pricing_error,
	// ledger_unavailable, rate_limited).
	AdmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pcgw",
		Subsystem: "middleware",
		Name:      "admissions_total",
		Help:      "Payment admission decisions by outcome.",
	}, []string{"outcome"})

	// RelayLatencySeconds observes end-to-end upstream relay latency.
	RelayLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pcgw",
		Subsystem: "relay",
		Name:      "latency_seconds",
		Help:      "Latency of proxied upstream requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	// OracleRefreshLatencySeconds observes how long a Chain Oracle cache
	// miss takes to resolve against the chain RPC endpoint.
	OracleRefreshLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pcgw",
		Subsystem: "chainoracle",
		Name:      "refresh_latency_seconds",
		Help:      "Latency of chain oracle cache-miss refreshes.",
		Buckets:   prometheus.DefBuckets,
	})

	// OpenChannels tracks how many channels the closer's sweep currently
	// considers open (not yet settled).
	OpenChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pcgw",
		Subsystem: "closer",
		Name:      "open_channels",
		Help:      "Number of channels not yet settled.",
	})
)

func init() {
	prometheus.MustRegister(AdmissionsTotal, RelayLatencySeconds, OracleRefreshLatencySeconds, OpenChannels)
}

// ObserveRelayLatency records the time elapsed since start in
// RelayLatencySeconds under the given status label. Callers invoke it once
// the response status is known.
func ObserveRelayLatency(start time.Time, status string) {
	RelayLatencySeconds.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
