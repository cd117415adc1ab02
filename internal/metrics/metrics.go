package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "playlistsync",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playlistsync",
		Name:      "active_jobs",
		Help:      "Number of jobs currently pending or running.",
	})

	JobsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "jobs_started_total",
		Help:      "Total jobs admitted, by kind.",
	}, []string{"kind"})

	JobsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "jobs_failed_total",
		Help:      "Total jobs that terminated with status failed.",
	})

	VideosDownloadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "videos_downloaded_total",
		Help:      "Total videos downloaded and verified on disk.",
	})

	DownloadFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "download_failures_total",
		Help:      "Total per-video download failures, by failure class.",
	}, []string{"class"})

	ExtractionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "extractions_total",
		Help:      "Total audio extractions performed.",
	})

	ExtractionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "extraction_failures_total",
		Help:      "Total audio extraction failures.",
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playlistsync",
		Name:      "ws_clients",
		Help:      "Number of connected event stream subscribers.",
	})

	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playlistsync",
		Name:      "events_dropped_total",
		Help:      "Total events dropped across all subscriber queues.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveJobs,
		JobsStartedTotal,
		JobsFailedTotal,
		VideosDownloadedTotal,
		DownloadFailuresTotal,
		ExtractionsTotal,
		ExtractionFailuresTotal,
		WSClients,
		EventsDroppedTotal,
	)
}
