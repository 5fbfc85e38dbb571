package metrics

import (
	"encoding/json"
	"net/http"

	"clipwave/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics

	JobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "jobs_enqueued_total",
		Help:      "Total jobs accepted into the queue, by type.",
	}, []string{"type"})

	JobsDequeuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "jobs_dequeued_total",
		Help:      "Total jobs claimed for processing, by type.",
	}, []string{"type"})

	JobsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "jobs_finished_total",
		Help:      "Total job completions reported, by type and outcome.",
	}, []string{"type", "outcome"})

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coordinator",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from retry-eligibility to a worker claiming the job.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	RetriesPromotedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "retries_promoted_total",
		Help:      "Total retrying jobs returned to the queue after backoff.",
	})

	JobsReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "jobs_reclaimed_total",
		Help:      "Total stale processing jobs swept back into the queue.",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "queue_depth",
		Help:      "Jobs per status, refreshed on every poll tick.",
	}, []string{"status"})

	// Scheduling metrics

	SchedulesCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "schedules_created_total",
		Help:      "Total publication schedules created, by coordination type.",
	}, []string{"type"})

	SchedulesExecutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "schedules_executed_total",
		Help:      "Total due schedules dispatched, by outcome.",
	}, []string{"outcome"})

	ScheduleDispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coordinator",
		Name:      "schedule_dispatch_duration_seconds",
		Help:      "Duration of one publish dispatch.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// Distribution metrics

	DistributionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "distributions_created_total",
		Help:      "Total video-to-account assignments created, by method.",
	}, []string{"method"})

	DistributionsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "distributions_skipped_total",
		Help:      "Assignments not made during matching, by reason.",
	}, []string{"reason"})

	DistributionRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "distribution_retries_total",
		Help:      "Total failed assignments returned for another attempt.",
	})

	// Tick metrics

	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "ticks_total",
		Help:      "Total poll ticks run.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coordinator",
		Name:      "tick_duration_seconds",
		Help:      "Time taken for one poll tick.",
		Buckets:   prometheus.DefBuckets,
	})

	WavesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "waves_scheduled_total",
		Help:      "Total coordinated waves scheduled.",
	})

	// Controller lifecycle

	ControllerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "controller_start_time_seconds",
		Help:      "Unix timestamp when the controller started.",
	})

	ControllerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "controller_state",
		Help:      "Controller state: 0 stopped, 1 running, 2 paused.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coordinator",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		JobsEnqueuedTotal,
		JobsDequeuedTotal,
		JobsFinishedTotal,
		JobPickupLatency,
		RetriesPromotedTotal,
		JobsReclaimedTotal,
		QueueDepth,
		SchedulesCreatedTotal,
		SchedulesExecutedTotal,
		ScheduleDispatchDuration,
		DistributionsCreatedTotal,
		DistributionsSkippedTotal,
		DistributionRetriesTotal,
		TicksTotal,
		TickDuration,
		WavesScheduledTotal,
		ControllerStartTime,
		ControllerState,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves the scrape endpoint plus the liveness and readiness
// probes, on a port separate from the public API.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
