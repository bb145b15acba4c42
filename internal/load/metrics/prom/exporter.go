// Package prom exposes live run metrics on a Prometheus /metrics endpoint.
package prom

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/prload/internal/load/metrics"
)

const namespace = "prload"

// Exporter mirrors engine snapshots into gauges on its own registry.
type Exporter struct {
	registry *prometheus.Registry

	requests    prometheus.Gauge
	failed      prometheus.Gauge
	iterations  prometheus.Gauge
	dropped     prometheus.Gauge
	bytes       prometheus.Gauge
	activeVUs   prometheus.Gauge
	rps         prometheus.Gauge
	checksRate  prometheus.Gauge
	checks      *prometheus.GaugeVec
	statusCodes *prometheus.GaugeVec
	latency     *prometheus.GaugeVec
}

// NewExporter creates an exporter whose series carry a run_id label.
func NewExporter(runID string) *Exporter {
	labels := prometheus.Labels{"run_id": runID}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		})
	}
	gaugeVec := func(name, help string, vars ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		}, vars)
	}

	x := &Exporter{
		registry:    prometheus.NewRegistry(),
		requests:    gauge("http_reqs", "Requests issued so far"),
		failed:      gauge("http_req_failed", "Requests that failed (transport error or unexpected status)"),
		iterations:  gauge("iterations", "Completed iterations"),
		dropped:     gauge("dropped_iterations", "Iterations not started because every VU was busy"),
		bytes:       gauge("data_received_bytes", "Response bytes received"),
		activeVUs:   gauge("vus", "VUs currently running an iteration"),
		rps:         gauge("http_reqs_per_second", "Average request rate since the run started"),
		checksRate:  gauge("checks_rate", "Fraction of passed check evaluations"),
		checks:      gaugeVec("checks", "Check evaluations by check and result", "check", "result"),
		statusCodes: gaugeVec("http_responses", "Responses by status code, 0 for transport failures", "status"),
		latency:     gaugeVec("http_req_duration_seconds", "Request duration percentiles", "quantile"),
	}

	x.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		x.requests, x.failed, x.iterations, x.dropped, x.bytes,
		x.activeVUs, x.rps, x.checksRate,
		x.checks, x.statusCodes, x.latency,
	)
	return x
}

// Update copies s into the gauges.
func (x *Exporter) Update(s *metrics.Snapshot) {
	if s == nil {
		return
	}

	x.requests.Set(float64(s.TotalRequests))
	x.failed.Set(float64(s.FailedRequests))
	x.iterations.Set(float64(s.Iterations))
	x.dropped.Set(float64(s.DroppedIterations))
	x.bytes.Set(float64(s.TotalBytes))
	x.activeVUs.Set(float64(s.ActiveVUs))
	x.rps.Set(s.RPS)
	x.checksRate.Set(s.ChecksRate)

	for _, c := range s.Checks {
		x.checks.WithLabelValues(c.Name, "pass").Set(float64(c.Passes))
		x.checks.WithLabelValues(c.Name, "fail").Set(float64(c.Fails))
	}
	for code, n := range s.StatusCodes {
		x.statusCodes.WithLabelValues(strconv.Itoa(code)).Set(float64(n))
	}

	x.latency.WithLabelValues("0.5").Set(s.Latency.P50.Seconds())
	x.latency.WithLabelValues("0.9").Set(s.Latency.P90.Seconds())
	x.latency.WithLabelValues("0.95").Set(s.Latency.P95.Seconds())
	x.latency.WithLabelValues("0.99").Set(s.Latency.P99.Seconds())
	x.latency.WithLabelValues("1").Set(s.Latency.Max.Seconds())
}

// Watch calls Update with source() every interval until ctx ends, then once
// more so the final numbers are exported.
func (x *Exporter) Watch(ctx context.Context, interval time.Duration, source func() *metrics.Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			x.Update(source())
			return
		case <-ticker.C:
			x.Update(source())
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (x *Exporter) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{}))
	return r
}

// Serve listens on addr until ctx ends.
func Serve(ctx context.Context, addr string, x *Exporter, log *zap.SugaredLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           x.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("serving metrics", "addr", addr, "path", "/metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
