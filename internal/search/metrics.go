package search

import "github.com/prometheus/client_golang/prometheus"

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scatter_queries_total",
			Help: "Total number of orchestrated queries by final status.",
		},
		[]string{"status"},
	)

	queriesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scatter_queries_in_flight",
			Help: "Number of queries currently being orchestrated.",
		},
	)

	queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scatter_query_duration_seconds",
			Help:    "Wall-clock duration of orchestrated queries, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	branchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scatter_branch_results_total",
			Help: "Total number of branch results by outcome.",
		},
		[]string{"outcome"},
	)

	replicaAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scatter_replica_attempts_total",
			Help: "Total number of replica attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(queriesTotal)
	prometheus.MustRegister(queriesInFlight)
	prometheus.MustRegister(queryDuration)
	prometheus.MustRegister(branchResults)
	prometheus.MustRegister(replicaAttempts)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, s := range []Status{StatusCompleted, StatusPartial, StatusTimedOut} {
		queriesTotal.WithLabelValues(string(s))
	}
	for _, o := range []Outcome{OutcomeSuccess, OutcomeFailed, OutcomeCancelled} {
		branchResults.WithLabelValues(string(o))
		replicaAttempts.WithLabelValues(string(o))
	}
}
