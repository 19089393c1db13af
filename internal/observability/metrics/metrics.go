// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"handler", "method"})

	providerEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_events_total",
		Help:      "Events emitted by provider adapters, by kind.",
	}, []string{"provider", "kind"})

	runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Completed orchestration runs by mode and outcome.",
	}, []string{"mode", "outcome"})

	runDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of orchestration runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"mode"})

	runsInFlight = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_in_flight",
		Help:      "Runs currently producing events.",
	}, []string{"mode"})

	transportFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_failures_total",
		Help:      "Event deliveries aborted because the caller went away.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Outcome labels for RunStarted.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Mode labels. Anything else collapses into ModeInvalid so a client cannot
// grow the series count by sending arbitrary modes.
const (
	ModeComparison = "comparison"
	ModeChained    = "chained"
	ModeInvalid    = "invalid"
)

func modeLabel(mode string) string {
	switch mode {
	case ModeComparison, ModeChained:
		return mode
	}
	return ModeInvalid
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	}
	return "OTHER"
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
// Callers must pass a handler label drawn from a fixed set of routes.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	method = methodLabel(method)
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveProviderEvent counts a single event attributed to a provider.
func ObserveProviderEvent(provider, kind string) {
	providerEvents.WithLabelValues(provider, kind).Inc()
}

// RunStarted marks a run as in flight and returns a func that records its outcome.
func RunStarted(mode string) func(outcome string) {
	mode = modeLabel(mode)
	start := time.Now()
	gauge := runsInFlight.WithLabelValues(mode)
	gauge.Inc()
	return func(outcome string) {
		gauge.Dec()
		runs.WithLabelValues(mode, outcome).Inc()
		runDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
}

// ObserveRejectedRun counts a run refused before any provider was called.
func ObserveRejectedRun(mode string) {
	runs.WithLabelValues(modeLabel(mode), OutcomeRejected).Inc()
}

// ObserveTransportFailure counts a bridge delivery failure.
func ObserveTransportFailure() {
	transportFailures.Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
