// Package runmetrics exposes Prometheus counters and histograms for a
// scan run: pairs sent, connection churn, verdicts reached, and pair
// latency. An operator running many fleet workers in parallel can
// scrape /metrics on each to watch progress without tailing logs.
package runmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// pairsTotal counts H2 request pairs sent, by state and outcome.
	// Labels:
	// - state: "pair" for every pair sent; randomized-round and
	//   fixed-round pairs are not told apart
	// - outcome: ok/error
	pairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcdscan_pairs_total",
			Help: "Total H2 request pairs sent, by state label and outcome",
		},
		[]string{"state", "outcome"},
	)

	// pairDuration captures the wall-clock time one pair took from
	// send to both responses observed.
	pairDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wcdscan_pair_duration_seconds",
			Help:    "Time spent sending one request pair and awaiting both responses",
			Buckets: prometheus.DefBuckets,
		},
	)

	// connectionsTotal counts H2 connections opened, by outcome.
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcdscan_connections_total",
			Help: "Total H2 connections opened, by outcome",
		},
		[]string{"outcome"},
	)

	// verdictsTotal counts analyser verdicts reached, by prediction.
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcdscan_verdicts_total",
			Help: "Total analyser verdicts reached, by statistics_prediction",
		},
		[]string{"prediction"},
	)

	// urlsInflight tracks how many URLs are currently being processed
	// by the controller in this process.
	urlsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wcdscan_urls_inflight",
			Help: "Number of URLs currently being processed",
		},
	)

	// errorsTotal counts classified errors encountered, by type.
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcdscan_errors_total",
			Help: "Total classified errors encountered, by error type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		pairsTotal,
		pairDuration,
		connectionsTotal,
		verdictsTotal,
		urlsInflight,
		errorsTotal,
	)
}

// ObservePair records one request pair's outcome and duration.
func ObservePair(state, outcome string, dur time.Duration) {
	pairsTotal.WithLabelValues(state, outcome).Inc()
	pairDuration.Observe(dur.Seconds())
}

// ObserveConnection records whether an H2 connection attempt succeeded.
func ObserveConnection(outcome string) {
	connectionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveVerdict records one analyser verdict.
func ObserveVerdict(prediction string) {
	verdictsTotal.WithLabelValues(prediction).Inc()
}

// ObserveError records one classified error by its type name.
func ObserveError(errType string) {
	errorsTotal.WithLabelValues(errType).Inc()
}

// URLsInflightInc/Dec track how many URLs are concurrently in-flight,
// which in this single-threaded controller is 0 or 1 but still worth
// exporting for a fleet dashboard aggregating across processes.
func URLsInflightInc() { urlsInflight.Inc() }
func URLsInflightDec() { urlsInflight.Dec() }

// Serve starts a /metrics HTTP endpoint on addr. It blocks; callers
// run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	return server.ListenAndServe()
}
