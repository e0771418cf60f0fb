package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blobbackend/wire"
)

// metrics mirrors the STAT reply's counters as prometheus gauges, plus
// a transition counter fed by the classifier's hook, per SPEC_FULL's
// domain-stack wiring for github.com/prometheus/client_golang.
type metrics struct {
	fsUsed             prometheus.Gauge
	fsFree             prometheus.Gauge
	totalRecords       prometheus.Gauge
	removedRecords     prometheus.Gauge
	classifierFlips    *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		fsUsed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "blobbackend",
			Name:      "fs_used_bytes",
			Help:      "Used bytes on the filesystem backing the data directory.",
		}),
		fsFree: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "blobbackend",
			Name:      "fs_free_bytes",
			Help:      "Free bytes on the filesystem backing the data directory.",
		}),
		totalRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "blobbackend",
			Name:      "total_records",
			Help:      "Live committed records in the engine index, excluding removed ones.",
		}),
		removedRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "blobbackend",
			Name:      "removed_records",
			Help:      "Records marked removed but not yet reclaimed by defrag.",
		}),
		classifierFlips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blobbackend",
			Name:      "classifier_transitions_total",
			Help:      "Access-pattern classifier transitions, labeled by the verdict transitioned to.",
		}, []string{"verdict"}),
	}
}

func (m *metrics) observeTransition(random bool) {
	verdict := "sequential"
	if random {
		verdict = "random"
	}
	m.classifierFlips.WithLabelValues(verdict).Inc()
}

func (m *metrics) observeStat(st *wire.StatReply) {
	m.fsUsed.Set(float64(st.FSUsed))
	m.fsFree.Set(float64(st.FSFree))
	m.totalRecords.Set(float64(st.TotalRecords))
	m.removedRecords.Set(float64(st.RemovedRecords))
}
