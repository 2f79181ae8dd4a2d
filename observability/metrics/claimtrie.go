package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ClaimtrieMetrics struct {
	queries         *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	disconnectSteps prometheus.Counter
	replayFailures  *prometheus.CounterVec
	blocksConnected prometheus.Counter
}

var (
	claimtrieOnce     sync.Once
	claimtrieRegistry *ClaimtrieMetrics
)

func Claimtrie() *ClaimtrieMetrics {
	claimtrieOnce.Do(func() {
		claimtrieRegistry = &ClaimtrieMetrics{
			queries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "claimtrie_queries_total",
				Help: "Count of claim queries by method and outcome.",
			}, []string{"method", "outcome"}),
			queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "claimtrie_query_duration_seconds",
				Help:    "Wall-clock duration of claim queries by method.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			}, []string{"method"}),
			disconnectSteps: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "claimtrie_replay_disconnects_total",
				Help: "Count of blocks disconnected onto query overlays.",
			}),
			replayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "claimtrie_replay_failures_total",
				Help: "Count of failed historical replays by reason.",
			}, []string{"reason"}),
			blocksConnected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "claimtrie_blocks_connected_total",
				Help: "Count of blocks connected to the chain tip.",
			}),
		}
		prometheus.MustRegister(
			claimtrieRegistry.queries,
			claimtrieRegistry.queryDuration,
			claimtrieRegistry.disconnectSteps,
			claimtrieRegistry.replayFailures,
			claimtrieRegistry.blocksConnected,
		)
	})
	return claimtrieRegistry
}

func (m *ClaimtrieMetrics) ObserveQuery(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.queries.WithLabelValues(method, outcome).Inc()
	m.queryDuration.WithLabelValues(method).Observe(seconds)
}

func (m *ClaimtrieMetrics) IncDisconnectStep() {
	if m == nil {
		return
	}
	m.disconnectSteps.Inc()
}

func (m *ClaimtrieMetrics) IncReplayFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.replayFailures.WithLabelValues(reason).Inc()
}

func (m *ClaimtrieMetrics) IncBlockConnected() {
	if m == nil {
		return
	}
	m.blocksConnected.Inc()
}
