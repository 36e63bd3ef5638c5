package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "catalog"

	// Labels
	statusLabel    = "status"
	operationLabel = "operation"
	resultLabel    = "result"
	reasonLabel    = "reason"
)

/**
* Metrics definition
**/
var importJobTransitionsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "import_job_transitions_total",
		Help:      "number of import job status transitions by target status",
	},
	[]string{statusLabel},
)

var variantOperationsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "variant_operations_total",
		Help:      "number of variant operations by operation and result",
	},
	[]string{operationLabel, resultLabel},
)

var barcodeConflictsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "barcode_conflicts_total",
		Help:      "number of rejected barcode writes by reason",
	},
	[]string{reasonLabel},
)

var variantSyncDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "variant_sync_duration_seconds",
		Help:      "duration of variant sync operations",
		Buckets:   prometheus.DefBuckets,
	},
)

func IncreaseImportJobTransitionMetric(status string) {
	importJobTransitionsMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseVariantOperationMetric(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	variantOperationsMetric.With(prometheus.Labels{operationLabel: operation, resultLabel: result}).Inc()
}

func IncreaseBarcodeConflictMetric(reason string) {
	barcodeConflictsMetric.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

func ObserveVariantSyncDuration(start time.Time) {
	variantSyncDurationMetric.Observe(time.Since(start).Seconds())
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(importJobTransitionsMetric)
	prometheus.MustRegister(variantOperationsMetric)
	prometheus.MustRegister(barcodeConflictsMetric)
	prometheus.MustRegister(variantSyncDurationMetric)
}
