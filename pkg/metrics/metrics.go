package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// GenerationsTotal counts vision calls by outcome ("success" or an error kind).
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alttext",
			Name:      "generations_total",
			Help:      "Vision model generation attempts by outcome",
		},
		[]string{"outcome"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "alttext",
			Name:      "generation_duration_seconds",
			Help:      "Latency of vision model calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	// PlannedItemsTotal counts work items produced by the planner by mode.
	PlannedItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alttext",
			Name:      "planned_items_total",
			Help:      "Work items produced by the planner",
		},
		[]string{"mode"},
	)

	PlanNoticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alttext",
			Name:      "plan_notices_total",
			Help:      "Planning requests that produced no work, by notice",
		},
		[]string{"notice"},
	)

	// JobsProcessedTotal counts deferred jobs finished by the worker.
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alttext",
			Name:      "jobs_processed_total",
			Help:      "Deferred jobs finished by the worker",
		},
		[]string{"status"},
	)

	ProbeResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alttext",
			Name:      "url_probes_total",
			Help:      "Public URL reachability probes by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		GenerationsTotal,
		GenerationDuration,
		PlannedItemsTotal,
		PlanNoticesTotal,
		JobsProcessedTotal,
		ProbeResultsTotal,
	)
}
