package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(bigcontextStitchTotal) }

var bigcontextStitchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bigcontext_stitch_total",
		Help: "Total number of stitch operations, labeled by outcome.",
	},
	[]string{"outcome"}, // 'skipped', 'remote'
)

func IncStitch(outcome string) {
	bigcontextStitchTotal.WithLabelValues(norm(outcome)).Inc()
}
