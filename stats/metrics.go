// Package stats reports cache occupancy: subject counts by state, durable
// size breakdown, memory-cache and queue occupancy, and the active
// configuration, plus a Prometheus gauge set for the same figures.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	subjectsByState  *prometheus.GaugeVec
	totalSubjects    prometheus.Gauge
	durableSizeBytes *prometheus.GaugeVec
	memCacheEntries  *prometheus.GaugeVec
	queueOccupancy   *prometheus.GaugeVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		totalSubjects = promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chronikcache",
				Subsystem: "store",
				Name:      "total_subjects",
				Help:      "Number of distinct subjects with durable data.",
			},
		)
		subjectsByState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronikcache",
				Subsystem: "engine",
				Name:      "subjects_by_state",
				Help:      "Number of subjects currently in each cache state.",
			},
			[]string{"namespace", "state"},
		)
		durableSizeBytes = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronikcache",
				Subsystem: "store",
				Name:      "durable_size_bytes",
				Help:      "Durable store size in bytes, broken down by content class.",
			},
			[]string{"class"},
		)
		memCacheEntries = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronikcache",
				Subsystem: "engine",
				Name:      "mem_cache_entries",
				Help:      "Number of entries currently held in the memory-cache tier.",
			},
			[]string{"namespace"},
		)
		queueOccupancy = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chronikcache",
				Subsystem: "engine",
				Name:      "queue_occupancy",
				Help:      "Number of tasks admitted but not yet completed on a task queue.",
			},
			[]string{"queue"},
		)
	})
}

// PublishMetrics registers the Prometheus gauge set (once, process-wide)
// and pushes the current snapshot's figures into it. Callers that don't
// want Prometheus wired at all can simply never call this.
func PublishMetrics(s Snapshot) {
	initMetrics()

	totalSubjects.Set(float64(s.TotalSubjects))

	for _, sc := range s.States {
		subjectsByState.WithLabelValues(sc.Namespace, sc.State).Set(float64(sc.Count))
	}

	durableSizeBytes.WithLabelValues("transactions").Set(float64(s.Size.Transactions))
	durableSizeBytes.WithLabelValues("metadata").Set(float64(s.Size.Metadata))
	durableSizeBytes.WithLabelValues("other").Set(float64(s.Size.Other))

	memCacheEntries.WithLabelValues("address").Set(float64(s.MemCache.Address))
	memCacheEntries.WithLabelValues("token").Set(float64(s.MemCache.Token))

	queueOccupancy.WithLabelValues("build").Set(float64(s.Queues.Build))
	queueOccupancy.WithLabelValues("repair").Set(float64(s.Queues.Repair))
}
