package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	remoteCalls = prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals // registered once.
		Namespace: "coach",
		Subsystem: "reconcile",
		Name:      "remote_calls_total",
		Help:      "Remote calendar calls grouped by operation and outcome.",
	}, []string{"op", "outcome"})

	retries = prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals // registered once.
		Namespace: "coach",
		Subsystem: "reconcile",
		Name:      "retries_total",
		Help:      "Retried remote calendar calls grouped by operation.",
	}, []string{"op"})

	driftRepairs = prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals // registered once.
		Namespace: "coach",
		Subsystem: "reconcile",
		Name:      "drift_repairs_total",
		Help:      "Remote workouts recreated by the sweep grouped by reason.",
	}, []string{"reason"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{ //nolint:gochecknoglobals // registered once.
		Namespace: "coach",
		Subsystem: "reconcile",
		Name:      "queue_items",
		Help:      "Export queue items left after the last drain.",
	})
)

func init() { //nolint:gochecknoinits // metrics registration.
	prometheus.MustRegister(remoteCalls, retries, driftRepairs, queueDepth)
}

func recordCall(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	remoteCalls.WithLabelValues(op, outcome).Inc()
}
