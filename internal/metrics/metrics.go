// Package metrics exposes the pipeline's Prometheus surface: exactly the
// counters, gauges, and histograms named in §6, registered with
// promauto the way the teacher's internal/metrics package does, served
// over a small http.Server alongside a liveness endpoint.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetch_total",
			Help: "Total number of source fetch attempts",
		},
		[]string{"source", "status"},
	)

	DuplicatesRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicates_removed_total",
			Help: "Total number of records removed as duplicates",
		},
		[]string{"source"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		},
		[]string{"source", "error_type"},
	)

	DeduplicationRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deduplication_ratio",
			Help: "Most recent cycle's duplicate reduction ratio",
		},
		[]string{"source"},
	)

	SourceQualityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_quality_score",
			Help: "Most recent quality score per source and dimension",
		},
		[]string{"source", "dimension"},
	)

	ActiveSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_sources",
		Help: "Number of sources enabled in the current cycle",
	})

	TotalVulnerabilities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "total_vulnerabilities",
		Help: "Total number of unique records currently retained",
	})

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Time spent fetching from a source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "status"},
	)

	DeduplicationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deduplication_duration_seconds",
			Help:    "Time spent in a deduplication pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	QualityAnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quality_analysis_duration_seconds",
			Help:    "Time spent analyzing one source's quality",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

// RecordFetch records the outcome of one source fetch attempt.
func RecordFetch(source, status string) {
	SourceFetchTotal.WithLabelValues(source, status).Inc()
}

// RecordError records one error of kind errorType originating from source.
func RecordError(source, errorType string) {
	ErrorsTotal.WithLabelValues(source, errorType).Inc()
}

// RecordDuplicatesRemoved adds n duplicates removed for source.
func RecordDuplicatesRemoved(source string, n int) {
	if n > 0 {
		DuplicatesRemovedTotal.WithLabelValues(source).Add(float64(n))
	}
}

// SetDeduplicationRatio sets the most recent reduction ratio for source.
func SetDeduplicationRatio(source string, ratio float64) {
	DeduplicationRatio.WithLabelValues(source).Set(ratio)
}

// SetQualityScore sets one quality dimension's score for source. dimension
// is one of "freshness", "completeness", "uniqueness", "consistency",
// "accuracy", "overall".
func SetQualityScore(source, dimension string, score float64) {
	SourceQualityScore.WithLabelValues(source, dimension).Set(score)
}

// Server hosts the Prometheus /metrics endpoint and a liveness check.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer constructs a metrics Server bound to addr.
func NewServer(addr string, logger *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start launches the metrics server in the background.
func (s *Server) Start() {
	s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server stopped with error")
		}
	}()
}

// Stop shuts the metrics server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
