package license

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidttool",
		Subsystem: "license",
		Name:      "validations_total",
		Help:      "Validation calls by decision.",
	}, []string{"decision"})

	statusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidttool",
		Subsystem: "license",
		Name:      "device_status_changes_total",
		Help:      "Device status transitions by new status.",
	}, []string{"status"})

	licensesGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vidttool",
		Subsystem: "license",
		Name:      "keys_generated_total",
		Help:      "License keys created, single and bulk.",
	})
)
