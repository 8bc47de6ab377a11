package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(bigcontextJobsTotal, bigcontextChunksTotal, bigcontextChunkRetriesTotal) }

var bigcontextJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bigcontext_jobs_total",
		Help: "Total number of big-context jobs, labeled by terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed', 'cancelled'
)

var bigcontextChunksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bigcontext_chunks_total",
		Help: "Total number of chunks processed, labeled by terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed', 'cancelled'
)

var bigcontextChunkRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bigcontext_chunk_retries_total",
		Help: "Total number of chunk retry attempts due to rate limiting.",
	},
	[]string{"model"},
)

func IncJob(status string) {
	bigcontextJobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncChunk(status string) {
	bigcontextChunksTotal.WithLabelValues(norm(status)).Inc()
}

func IncChunkRetry(model string) {
	bigcontextChunkRetriesTotal.WithLabelValues(norm(model)).Inc()
}
