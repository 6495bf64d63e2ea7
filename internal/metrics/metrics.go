// Package metrics exposes the parent process's pool counters to Prometheus.
// Workers are separate processes and do not report here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "forkpool"

var (
	BatchesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "batches_queued_total",
		Help:      "Batches flushed into the shared queue",
	})

	StopsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "stops_queued_total",
		Help:      "Stop markers pushed into the shared queue",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "queue_depth",
		Help:      "Items waiting in the shared queue",
	})

	ResultsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "results_recorded_total",
		Help:      "Results delivered to a reporter",
	}, []string{
		"status",
	})

	ResultsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "results_rejected_total",
		Help:      "Results refused because an embedded value could not be rebuilt",
	})

	WorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "workers_running",
		Help:      "Worker processes spawned and not yet reaped",
	})

	WorkerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "worker_exits_total",
		Help:      "Worker processes reaped, by outcome",
	}, []string{
		"outcome",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
