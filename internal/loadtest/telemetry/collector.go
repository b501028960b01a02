// Package telemetry exposes a running step load test to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
)

const namespace = "steprate"

// Source is the live state read at scrape time. *engine.Engine satisfies it.
type Source interface {
	RunID() string
	Sink() *metrics.Sink
	TargetRate() float64
	ActiveWorkers() int
	Elapsed() time.Duration
}

// Collector is a prometheus.Collector that reads the sink and engine on
// every scrape instead of mirroring each outcome into client metrics.
type Collector struct {
	source Source
	window time.Duration

	runInfoDesc       *prometheus.Desc
	requestsDesc      *prometheus.Desc
	responsesDesc     *prometheus.Desc
	podRequestsDesc   *prometheus.Desc
	targetRateDesc    *prometheus.Desc
	observedRateDesc  *prometheus.Desc
	avgLatencyDesc    *prometheus.Desc
	p90LatencyDesc    *prometheus.Desc
	activeWorkersDesc *prometheus.Desc
	elapsedDesc       *prometheus.Desc
}

// NewCollector creates a collector over source. window is the trailing
// window used for the observed rate and latency gauges.
func NewCollector(source Source, window time.Duration) *Collector {
	return &Collector{
		source: source,
		window: window,
		runInfoDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_run_info", namespace),
			"Identifies the running load test.",
			[]string{"run_id"},
			nil,
		),
		requestsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_requests_total", namespace),
			"Requests completed, by result.",
			[]string{"result"},
			nil,
		),
		responsesDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_responses_total", namespace),
			"Requests completed, by HTTP status or failure tag.",
			[]string{"status"},
			nil,
		),
		podRequestsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_pod_requests_total", namespace),
			"Requests served, by pod.",
			[]string{"pod"},
			nil,
		),
		targetRateDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_target_rate", namespace),
			"Current target rate in requests per second.",
			nil,
			nil,
		),
		observedRateDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_observed_rate", namespace),
			"Requests per second issued within the trailing window.",
			nil,
			nil,
		),
		avgLatencyDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_window_latency_avg_seconds", namespace),
			"Mean latency within the trailing window.",
			nil,
			nil,
		),
		p90LatencyDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_window_latency_p90_seconds", namespace),
			"90th percentile latency within the trailing window, 0 below the sample threshold.",
			nil,
			nil,
		),
		activeWorkersDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_active_workers", namespace),
			"Worker loops currently running.",
			nil,
			nil,
		),
		elapsedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_elapsed_seconds", namespace),
			"Time since the run started.",
			nil,
			nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runInfoDesc
	ch <- c.requestsDesc
	ch <- c.responsesDesc
	ch <- c.podRequestsDesc
	ch <- c.targetRateDesc
	ch <- c.observedRateDesc
	ch <- c.avgLatencyDesc
	ch <- c.p90LatencyDesc
	ch <- c.activeWorkersDesc
	ch <- c.elapsedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	sink := c.source.Sink()
	totals := sink.Totals()
	window := sink.Snapshot(c.window)

	ch <- prometheus.MustNewConstMetric(c.runInfoDesc, prometheus.GaugeValue, 1, c.source.RunID())
	ch <- prometheus.MustNewConstMetric(c.requestsDesc, prometheus.CounterValue, float64(totals.Success), "success")
	ch <- prometheus.MustNewConstMetric(c.requestsDesc, prometheus.CounterValue, float64(totals.Failure), "failure")
	for status, count := range sink.StatusCounts() {
		ch <- prometheus.MustNewConstMetric(c.responsesDesc, prometheus.CounterValue, float64(count), status)
	}
	for pod, count := range sink.PodCounts() {
		ch <- prometheus.MustNewConstMetric(c.podRequestsDesc, prometheus.CounterValue, float64(count), pod)
	}

	ch <- prometheus.MustNewConstMetric(c.targetRateDesc, prometheus.GaugeValue, c.source.TargetRate())
	ch <- prometheus.MustNewConstMetric(c.observedRateDesc, prometheus.GaugeValue, window.Rate)
	ch <- prometheus.MustNewConstMetric(c.avgLatencyDesc, prometheus.GaugeValue, window.AvgLatencyMs/1000)
	ch <- prometheus.MustNewConstMetric(c.p90LatencyDesc, prometheus.GaugeValue, window.P90LatencyMs/1000)
	ch <- prometheus.MustNewConstMetric(c.activeWorkersDesc, prometheus.GaugeValue, float64(c.source.ActiveWorkers()))
	ch <- prometheus.MustNewConstMetric(c.elapsedDesc, prometheus.GaugeValue, c.source.Elapsed().Seconds())
}

// Handler returns the scrape handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{DisableCompression: true})
}

// Serve exposes reg on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown")
		}
	}()

	logger.WithField("addr", lis.Addr().String()).Info("serving metrics")
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
