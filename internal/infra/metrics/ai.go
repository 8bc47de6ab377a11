package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)


func init() {
	register(
		remoteCallLatencyMs,
		remoteTokensTotal,
	)
}


var (
	remoteCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bigcontext_remote_call_latency_ms",
			Help:    "Remote model call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	remoteTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigcontext_remote_tokens_total",
			Help: "Sum of tokens exchanged with remote models, by direction.",
		},
		[]string{"provider", "model", "direction"}, // direction: 'input', 'output'
	)
)


func ObserveRemoteCall(provider, model string, latencyMs int, success bool, tokensIn, tokensOut int) {
	p, m := norm(provider), norm(model)
	remoteCallLatencyMs.WithLabelValues(p, m, strconv.FormatBool(success)).Observe(float64(latencyMs))
	remoteTokensTotal.WithLabelValues(p, m, "input").Add(float64(tokensIn))
	remoteTokensTotal.WithLabelValues(p, m, "output").Add(float64(tokensOut))
}
