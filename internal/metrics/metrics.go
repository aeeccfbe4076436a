// Package metrics holds the Prometheus collectors exported by the scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ojs_scheduler"

// Discard reasons for messages dropped by GetJobToProcess.
const (
	ReasonOrphaned = "orphaned"
	ReasonStale    = "stale_version"
	ReasonInactive = "inactive"
	ReasonPoison   = "undecodable"
)

var (
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Build information about the running scheduler.",
	}, []string{"version", "backend"})

	JobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_scheduled_total",
		Help:      "Jobs accepted by ScheduleJob.",
	}, []string{"job_type"})

	MessagesDequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dequeued_total",
		Help:      "Queue messages leased by GetJobToProcess.",
	})

	MessagesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_discarded_total",
		Help:      "Dequeued messages dropped because they no longer match their job record.",
	}, []string{"reason"})

	IterationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "iterations_completed_total",
		Help:      "Occurrences acknowledged through CompleteJobIteration.",
	}, []string{"job_type"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_completed_total",
		Help:      "Jobs whose recurrence was exhausted.",
	}, []string{"job_type"})

	JobsUpdated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_updated_total",
		Help:      "UpdateJob calls by resulting state.",
	}, []string{"state"})

	StoreConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_conflicts_total",
		Help:      "Optimistic concurrency rejections from the record store.",
	}, []string{"operation"})

	ReconcileFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_failures_total",
		Help:      "Operations that left the record store and the queue out of step.",
	}, []string{"operation"})
)

// Init records static server information.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
