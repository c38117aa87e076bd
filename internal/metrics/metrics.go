// Package metrics exposes Prometheus instruments for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "convbot"

var (
	HeadsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heads_received_total",
		Help:      "New-head messages decoded by the monitor.",
	})
	HeadDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "head_duplicates_total",
		Help:      "Heights dropped because they repeated the previous one.",
	})
	HeadStalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "head_stalls_total",
		Help:      "Receives that hit the quiet interval without a message.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "head_reconnects_total",
		Help:      "Head subscription restarts after a transport failure.",
	})
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Simulations by result.",
	}, []string{"result"})
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Submissions by strategy and state.",
	}, []string{"strategy", "state"})
	Skipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_skipped_total",
		Help:      "Eligible cycles abandoned before or during submission, by stage.",
	}, []string{"stage"})
	LastProcessedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_processed_height",
		Help:      "Most recent height the engine evaluated.",
	})
	StatusRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_rows_total",
		Help:      "Status rows emitted in status mode.",
	})
)
