package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/steprate/internal/loadtest"
	"github.com/wesleyorama2/steprate/internal/loadtest/config"
	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
)

type serverType int

const (
	serverOK serverType = iota
	serverError
	serverHang
)

func TestEngine_FaultLimitEndsRun(t *testing.T) {
	prober := loadtest.ProberFunc(func(ctx context.Context) metrics.Outcome {
		panic("probe exploded")
	})

	cfg := testConfig("http://localhost:9080")
	cfg.DurationSeconds = 60
	cfg.InitialRate = 1000
	cfg.StepSize = 0

	e, err := New(cfg, Options{Prober: prober, Logger: quietLogger()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		e.Stop()
		t.Fatal("Run() did not give up after repeated faults")
	}
	require.ErrorIs(t, err, loadtest.ErrFaultLimit)
	assert.Equal(t, StateStopped, e.State())

	report, err := e.Finalize()
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Equal(t, int64(0), report.TotalRequests)
}

// createTestServer creates a test HTTP server with the specified behavior.
func createTestServer(t *testing.T, st serverType) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		switch st {
		case serverOK:
			time.Sleep(5 * time.Millisecond)
			w.Header().Set("X-Pod-Name", "pod-1")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))

		case serverError:
			time.Sleep(5 * time.Millisecond)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"server error"}`))

		case serverHang:
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	return server, &requests
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.DurationSeconds = 2
	cfg.InitialRate = 10
	cfg.StepIntervalSeconds = 1
	cfg.StepSize = 5
	cfg.MaxWorkers = 20
	cfg.Timeout = config.Duration(2 * time.Second)
	cfg.SnapshotInterval = config.Duration(250 * time.Millisecond)
	cfg.Window = config.Duration(time.Second)
	return cfg
}

func runEngine(t *testing.T, cfg *config.Config, opts Options) (*Engine, *metrics.RunReport) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}

	e, err := New(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))
	require.Equal(t, StateStopped, e.State())

	report, err := e.Finalize()
	require.NoError(t, err)
	require.NotNil(t, report)
	return e, report
}

func TestEngineIntegration_StepRampAllSuccess(t *testing.T) {
	server, requests := createTestServer(t, serverOK)
	cfg := testConfig(server.URL)

	var mu sync.Mutex
	var changes [][2]float64
	var streamed []metrics.TimeSeriesPoint

	e, report := runEngine(t, cfg, Options{
		OnPoint: func(p metrics.TimeSeriesPoint) {
			mu.Lock()
			streamed = append(streamed, p)
			mu.Unlock()
		},
		OnTargetChange: func(from, to float64) {
			mu.Lock()
			changes = append(changes, [2]float64{from, to})
			mu.Unlock()
		},
	})

	assert.Equal(t, 10.0, e.Schedule().TargetRate(0))
	assert.Equal(t, 15.0, e.Schedule().TargetRate(1100*time.Millisecond))

	assert.Greater(t, report.TotalRequests, int64(0))
	assert.Equal(t, report.TotalRequests, report.SuccessRequests)
	assert.Equal(t, int64(0), report.FailedRequests)
	assert.Equal(t, 100.0, report.SuccessRatePercent)
	assert.Equal(t, report.TotalRequests, requests.Load())
	assert.Equal(t, report.TotalRequests, report.StatusCodes["200"])
	assert.Equal(t, report.TotalRequests, report.PodDistribution["pod-1"])
	assert.False(t, report.NoData)
	assert.False(t, report.Interrupted)
	assert.GreaterOrEqual(t, report.DurationSeconds, 2.0)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, server.URL+"/ping", report.BaseURL)

	assert.Equal(t, 10.0, report.Schedule.InitialRate)
	assert.Equal(t, 20.0, report.Schedule.FinalTargetRate)
	assert.Equal(t, 20, report.Schedule.Workers)

	require.NotEmpty(t, report.TimeSeries)
	for i := 1; i < len(report.TimeSeries); i++ {
		assert.Greater(t, report.TimeSeries[i].ElapsedMinutes, report.TimeSeries[i-1].ElapsedMinutes)
	}
	last, ok := report.LastPoint()
	require.True(t, ok)
	assert.Equal(t, report.TotalRequests, last.TotalRequests)
	assert.Equal(t, 100.0, last.SuccessRatePercent)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, report.TimeSeries, streamed)
	require.NotEmpty(t, changes)
	assert.Equal(t, [2]float64{10, 15}, changes[0])
}

func TestEngineIntegration_AllServerErrors(t *testing.T) {
	server, _ := createTestServer(t, serverError)
	cfg := testConfig(server.URL)
	cfg.DurationSeconds = 1
	cfg.InitialRate = 20

	_, report := runEngine(t, cfg, Options{})

	require.Greater(t, report.TotalRequests, int64(0))
	assert.Equal(t, int64(0), report.SuccessRequests)
	assert.Equal(t, report.TotalRequests, report.FailedRequests)
	assert.Equal(t, 100.0, report.ErrorRatePercent)
	assert.Equal(t, report.TotalRequests, report.StatusCodes["500"])
	assert.False(t, report.NoData)
	assert.Greater(t, report.Latency.P50, 0.0)
	assert.Greater(t, report.Latency.Max, 0.0)
	assert.NotEmpty(t, report.LatencyHistogram)
}

func TestEngineIntegration_HangingServerTimesOut(t *testing.T) {
	server, _ := createTestServer(t, serverHang)
	cfg := testConfig(server.URL)
	cfg.DurationSeconds = 1
	cfg.InitialRate = 5
	cfg.MaxWorkers = 5
	timeout := 200 * time.Millisecond
	cfg.Timeout = config.Duration(timeout)

	_, report := runEngine(t, cfg, Options{})

	require.Greater(t, report.TotalRequests, int64(0))
	assert.Equal(t, report.TotalRequests, report.FailedRequests)
	assert.Equal(t, report.TotalRequests, report.StatusCodes["timeout"])
	assert.GreaterOrEqual(t, report.Latency.Min, float64(timeout.Milliseconds()))
	assert.Less(t, report.Latency.Max, 1500.0)
}

func TestEngineIntegration_ZeroDuration(t *testing.T) {
	server, requests := createTestServer(t, serverOK)
	cfg := testConfig(server.URL)
	cfg.DurationSeconds = 0

	e, report := runEngine(t, cfg, Options{})

	assert.Equal(t, int64(0), report.TotalRequests)
	assert.True(t, report.NoData)
	assert.Empty(t, report.TimeSeries)
	assert.Equal(t, int64(0), requests.Load())
	assert.Equal(t, time.Duration(0), e.Elapsed())
}

func TestEngineIntegration_NoWorkersIdleMonitoring(t *testing.T) {
	server, requests := createTestServer(t, serverOK)
	cfg := testConfig(server.URL)
	cfg.DurationSeconds = 1
	cfg.MaxWorkers = 0

	_, report := runEngine(t, cfg, Options{})

	assert.Equal(t, int64(0), report.TotalRequests)
	assert.Equal(t, int64(0), requests.Load())
	assert.True(t, report.NoData)
	require.NotEmpty(t, report.TimeSeries)
	for _, p := range report.TimeSeries {
		assert.Equal(t, 0.0, p.ObservedRate)
		assert.Equal(t, 0.0, p.AvgLatencyMs)
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	server, _ := createTestServer(t, serverOK)
	cfg := testConfig(server.URL)
	cfg.DurationSeconds = 60

	e, err := New(cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return e.Sink().Totals().Total > 0 }, 2*time.Second, 10*time.Millisecond)
	e.Stop()
	e.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	e.Stop()

	assert.Equal(t, StateStopped, e.State())
	report, err := e.Finalize()
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Less(t, report.DurationSeconds, 10.0)
	assert.Equal(t, e.Sink().Totals().Total, report.TotalRequests)

	again, err := e.Finalize()
	require.NoError(t, err)
	assert.Same(t, report, again)
}

func TestEngine_ContextCancelStopsRun(t *testing.T) {
	server, _ := createTestServer(t, serverOK)
	cfg := testConfig(server.URL)
	cfg.DurationSeconds = 60

	e, err := New(cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, e.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	report, err := e.Finalize()
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
}

func TestEngine_OutcomeAfterStopIsRecorded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	prober := loadtest.ProberFunc(func(ctx context.Context) metrics.Outcome {
		issued := time.Now()
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return metrics.NewResponseOutcome(issued, time.Since(issued), http.StatusOK)
	})

	cfg := testConfig("http://localhost:9080")
	cfg.DurationSeconds = 60
	cfg.MaxWorkers = 1

	e, err := New(cfg, Options{Prober: prober, Logger: quietLogger()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	<-started
	e.Stop()
	assert.Equal(t, StateStopping, e.State())
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	report, err := e.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.TotalRequests)
	assert.Equal(t, int64(1), report.SuccessRequests)
}

func TestEngine_FinalizeBeforeStop(t *testing.T) {
	server, _ := createTestServer(t, serverOK)
	cfg := testConfig(server.URL)
	cfg.DurationSeconds = 60

	e, err := New(cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)

	_, err = e.Finalize()
	assert.ErrorIs(t, err, ErrNotStopped)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	require.Eventually(t, func() bool { return e.State() == StateRunning }, time.Second, 5*time.Millisecond)

	_, err = e.Finalize()
	assert.ErrorIs(t, err, ErrNotStopped)
	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyStarted)

	e.Stop()
	require.NoError(t, <-done)
	_, err = e.Finalize()
	assert.NoError(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("ftp://example.com")
	cfg.DurationSeconds = -1

	_, err := New(cfg, Options{Logger: quietLogger()})
	require.Error(t, err)

	var verrs *config.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs.Errors, 2)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
