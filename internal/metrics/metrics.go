package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the scan counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry      *prometheus.Registry
	fetchAttempts *prometheus.CounterVec
	fetchedBytes  prometheus.Counter
	files         *prometheus.CounterVec
	codecRuns     *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distsqueeze",
			Name:      "fetch_attempts_total",
			Help:      "Download attempts per candidate URI, by result.",
		}, []string{"result"}),
		fetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distsqueeze",
			Name:      "fetched_bytes_total",
			Help:      "Bytes written by successful downloads.",
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distsqueeze",
			Name:      "files_total",
			Help:      "Files processed, by outcome.",
		}, []string{"outcome"}),
		codecRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distsqueeze",
			Name:      "codec_runs_total",
			Help:      "Codec invocations, by codec, operation and result.",
		}, []string{"codec", "op", "result"}),
	}
	m.registry.MustRegister(m.fetchAttempts, m.fetchedBytes, m.files, m.codecRuns)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// FetchAttempt records one URI attempt and, on success, its size.
func (m *Metrics) FetchAttempt(err error, n int64) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.fetchedBytes.Add(float64(n))
	}
}

// File records a per-file outcome such as "cached", "fetched" or "failed".
func (m *Metrics) File(outcome string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(outcome).Inc()
}

// CodecRun records one codec invocation.
func (m *Metrics) CodecRun(ext, op string, err error) {
	if m == nil {
		return
	}
	m.codecRuns.WithLabelValues(ext, op, result(err)).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
