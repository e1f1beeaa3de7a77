package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "venuebook",
			Name:      "admissions_total",
			Help:      "Count of booking admission attempts by outcome.",
		},
		[]string{"outcome"},
	)

	writeConflictRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "venuebook",
			Name:      "write_conflict_retries_total",
			Help:      "Count of admission retries after a lost write race.",
		},
	)

	recurrenceChildren = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "venuebook",
			Name:      "recurrence_children_total",
			Help:      "Count of recurring child admissions by result.",
		},
		[]string{"result"},
	)

	lifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "venuebook",
			Name:      "lifecycle_transitions_total",
			Help:      "Count of booking status transitions by target status.",
		},
		[]string{"status"},
	)

	admissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "venuebook",
			Name:      "admission_duration_seconds",
			Help:      "Time to run one admission attempt end to end.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(admissions, writeConflictRetries, recurrenceChildren,
			lifecycleTransitions, admissionDuration)
	})
}

// Admission outcomes.
const (
	OutcomeAdmitted           = "admitted"
	OutcomeValidationError    = "validation_error"
	OutcomeAvailabilityDenied = "availability_denied"
	OutcomeConflictDenied     = "conflict_denied"
	OutcomeAdmissionFailed    = "admission_failed"
	OutcomeStorageError       = "storage_error"
)

func IncAdmission(outcome string) {
	admissions.WithLabelValues(outcome).Inc()
}

func IncWriteConflictRetry() {
	writeConflictRetries.Inc()
}

func IncRecurrenceChild(result string) {
	recurrenceChildren.WithLabelValues(result).Inc()
}

func IncLifecycleTransition(status string) {
	lifecycleTransitions.WithLabelValues(status).Inc()
}

func ObserveAdmissionDuration(seconds float64) {
	admissionDuration.Observe(seconds)
}
