package aligncache

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	lookups  *prometheus.CounterVec
	hits     prometheus.Counter
	misses   prometheus.Counter
	waits    prometheus.Counter
	errors   prometheus.Counter
	duration prometheus.Histogram
}

// newMetrics registers the cache collectors on reg. A nil reg keeps the
// collectors unregistered so several caches can live in one process.
func newMetrics(reg prometheus.Registerer) *metrics {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cgdist",
		Subsystem: "align_cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by result (hit, miss, wait)",
	}, []string{"result"})

	m := &metrics{
		lookups: lookups,
		hits:    lookups.WithLabelValues("hit"),
		misses:  lookups.WithLabelValues("miss"),
		waits:   lookups.WithLabelValues("wait"),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cgdist",
			Subsystem: "align_cache",
			Name:      "compute_errors_total",
			Help:      "Alignments that returned an error",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cgdist",
			Subsystem: "align_cache",
			Name:      "alignment_duration_seconds",
			Help:      "Duration of alignments computed on a cache miss",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.lookups, m.errors, m.duration)
	}
	return m
}
