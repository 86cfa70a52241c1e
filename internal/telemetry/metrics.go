package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "binsource"

// Metrics holds the ingestion counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Polls            *prometheus.CounterVec
	PollDuration     *prometheus.HistogramVec
	RecordsEmitted   *prometheus.CounterVec
	BytesEmitted     *prometheus.CounterVec
	Rotations        *prometheus.CounterVec
	UnavailableReads *prometheus.CounterVec
	CursorsCommitted prometheus.Counter
	PublishFailures  prometheus.Counter
}

// NewMetrics registers the ingestion metrics on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll cycles run, by watch mode and outcome.",
		}, []string{"mode", "outcome"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		RecordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Records returned by poll cycles.",
		}, []string{"mode"}),
		BytesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_emitted_total",
			Help:      "Payload bytes returned by poll cycles.",
		}, []string{"mode"}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Generation changes detected while reading.",
		}, []string{"mode"}),
		UnavailableReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_unavailable_total",
			Help:      "Reads that failed because the resource was unavailable.",
		}, []string{"mode"}),
		CursorsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursors_committed_total",
			Help:      "Cursors committed after downstream acknowledgment.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Batches the sink failed to acknowledge.",
		}),
	}

	m.registry.MustRegister(
		m.Polls,
		m.PollDuration,
		m.RecordsEmitted,
		m.BytesEmitted,
		m.Rotations,
		m.UnavailableReads,
		m.CursorsCommitted,
		m.PublishFailures,
	)
	return m
}

// ObservePoll records the outcome of one poll cycle
func (m *Metrics) ObservePoll(mode string, started time.Time, records, bytes int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Polls.WithLabelValues(mode, outcome).Inc()
	m.PollDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	m.RecordsEmitted.WithLabelValues(mode).Add(float64(records))
	m.BytesEmitted.WithLabelValues(mode).Add(float64(bytes))
}

// IncRotation counts a generation change
func (m *Metrics) IncRotation(mode string) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(mode).Inc()
}

// IncUnavailable counts a failed read
func (m *Metrics) IncUnavailable(mode string) {
	if m == nil {
		return
	}
	m.UnavailableReads.WithLabelValues(mode).Inc()
}

// AddCommitted counts committed cursors
func (m *Metrics) AddCommitted(n int) {
	if m == nil {
		return
	}
	m.CursorsCommitted.Add(float64(n))
}

// IncPublishFailure counts a batch the sink rejected
func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Expose serves /metrics on port until ctx is done
func (m *Metrics) Expose(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Int("port", port).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}
