package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eclipper_frames_sampled_total",
		Help: "Total number of frames handed to the classifier",
	})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eclipper_matches_total",
		Help: "Total number of classifier matches, by profile",
	}, []string{"profile"})

	RecognitionErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eclipper_recognition_errors_total",
		Help: "Total number of failed text recognitions",
	})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eclipper_scan_duration_seconds",
		Help:    "Wallclock duration of scan stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eclipper_active_workers",
		Help: "Number of scan workers currently decoding",
	})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eclipper_cache_requests_total",
		Help: "Cache lookups, by cache and result",
	}, []string{"cache", "result"})

	ClipsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eclipper_clips_written_total",
		Help: "Total number of clips remuxed into output containers",
	})
)

// CacheHit records a cache hit
func CacheHit(cache string) {
	CacheRequestsTotal.WithLabelValues(cache, "hit").Inc()
}

// CacheMiss records a cache miss
func CacheMiss(cache string) {
	CacheRequestsTotal.WithLabelValues(cache, "miss").Inc()
}
