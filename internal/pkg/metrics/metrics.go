package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsTotal counts every plan step the Executor records, labeled by
	// step kind and the resulting ack status ("ok"/"err", or "none" for a
	// step recorded without an ack).
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlbench_steps_total",
		Help: "Total plan steps dispatched by the executor",
	}, []string{"kind", "ack_status"})

	// CorrelatorWaitSeconds observes how long each order or cancel step
	// waited for its venue confirmations, whether they eventually confirmed
	// or timed out.
	CorrelatorWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hlbench_correlator_wait_seconds",
		Help:    "Time spent waiting for effect confirmation per step",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// ScoreFinal is set once at the end of a scoring run to the report's
	// final_score, so a run's outcome can be scraped alongside its logs.
	ScoreFinal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlbench_score_final",
		Help: "Final score of the most recently completed scoring run",
	})
)
