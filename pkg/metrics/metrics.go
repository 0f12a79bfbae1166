// Package metrics holds the prometheus collectors for the render and edit slots.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Subsystem prefixes every collector name
	Subsystem = "segviewer"

	// SlotBase, SlotOverlay and SlotEdit name the three worker slots
	SlotBase    = "base"
	SlotOverlay = "overlay"
	SlotEdit    = "edit"
)

var (
	// WorkerLatencyBuckets run from 1ms to 10s
	WorkerLatencyBuckets = []float64{
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
	}

	slotLabels = []string{"slot"}
)

var (
	scheduledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: Subsystem,
			Name:      "requests_scheduled_total",
			Help:      "Counter of requests scheduled on a slot.",
		},
		slotLabels,
	)

	supersededCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: Subsystem,
			Name:      "requests_superseded_total",
			Help:      "Counter of pending render requests replaced by a newer one before starting.",
		},
		slotLabels,
	)

	completedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: Subsystem,
			Name:      "workers_completed_total",
			Help:      "Counter of worker runs that produced a result.",
		},
		slotLabels,
	)

	failedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: Subsystem,
			Name:      "workers_failed_total",
			Help:      "Counter of worker runs that failed or timed out, broken out by reason.",
		},
		append(slotLabels, "reason"),
	)

	droppedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: Subsystem,
			Name:      "outputs_dropped_total",
			Help:      "Counter of results replaced on the output channel before the display drained them.",
		},
		slotLabels,
	)

	editOpsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: Subsystem,
			Name:      "edit_ops_total",
			Help:      "Counter of edit operations applied, broken out by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	workerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: Subsystem,
			Name:      "worker_duration_seconds",
			Help:      "Worker run time distribution in seconds for each slot.",
			Buckets:   WorkerLatencyBuckets,
		},
		slotLabels,
	)
)

var registerMetrics sync.Once

// Register adds all collectors to the given registerer, once per process.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(scheduledCounter)
		reg.MustRegister(supersededCounter)
		reg.MustRegister(completedCounter)
		reg.MustRegister(failedCounter)
		reg.MustRegister(droppedCounter)
		reg.MustRegister(editOpsCounter)
		reg.MustRegister(workerDuration)
	})
}

// RecordScheduled counts a request submitted to slot
func RecordScheduled(slot string) {
	scheduledCounter.WithLabelValues(slot).Inc()
}

// RecordSuperseded counts a pending request that was overwritten
func RecordSuperseded(slot string) {
	supersededCounter.WithLabelValues(slot).Inc()
}

// RecordCompleted counts a finished worker and observes its run time
func RecordCompleted(slot string, d time.Duration) {
	completedCounter.WithLabelValues(slot).Inc()
	workerDuration.WithLabelValues(slot).Observe(d.Seconds())
}

// RecordFailed counts a failed or timed out worker
func RecordFailed(slot, reason string) {
	failedCounter.WithLabelValues(slot, reason).Inc()
}

// RecordDropped counts an undrained result replaced by a newer one
func RecordDropped(slot string) {
	droppedCounter.WithLabelValues(slot).Inc()
}

// RecordEditOp counts one applied edit operation
func RecordEditOp(kind, outcome string) {
	editOpsCounter.WithLabelValues(kind, outcome).Inc()
}
