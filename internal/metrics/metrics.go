package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "utility_sync"

var (
	registerOnce sync.Once

	reauthentications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reauthentications_total",
			Help:      "Re-authentications triggered by expired sessions.",
		},
		[]string{"scope", "success"},
	)
	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by record kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	recordChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "record_changes_total",
			Help:      "Tracked records added, refreshed or removed.",
		},
		[]string{"kind", "change"},
	)
	trackedRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "tracked_records",
			Help:      "Records currently tracked per kind and config entry.",
		},
		[]string{"entry", "kind"},
	)
	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "action",
			Name:      "invocations_total",
			Help:      "User-triggered actions by kind and success.",
		},
		[]string{"kind", "success"},
	)
	droppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Outcome events dropped because the publish queue was full.",
		},
	)
)

// Register registers all collectors with the default registry
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(reauthentications, pollCycles, recordChanges, trackedRecords, actions, droppedEvents)
	})
}

func RecordReauthentication(scope string, success bool) {
	reauthentications.WithLabelValues(scope, strconv.FormatBool(success)).Inc()
}

func RecordCycle(kind, outcome string) {
	pollCycles.WithLabelValues(kind, outcome).Inc()
}

func RecordChanges(kind, change string, n int) {
	if n <= 0 {
		return
	}
	recordChanges.WithLabelValues(kind, change).Add(float64(n))
}

func SetTracked(entry, kind string, n int) {
	trackedRecords.WithLabelValues(entry, kind).Set(float64(n))
}

func RecordAction(kind string, success bool) {
	actions.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func RecordDroppedEvent() {
	droppedEvents.Inc()
}
