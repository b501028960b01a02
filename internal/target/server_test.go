package target

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/steprate/pkg/jsonpath"
)

func newTestServer(t *testing.T, random float64) (*httptest.Server, *Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := Config{
		PodName:   "pod-7",
		ErrorRate: 0.05,
		Random:    func() float64 { return random },
		Now:       func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	s := NewServer(cfg, prometheus.NewRegistry(), logger)

	server := httptest.NewServer(s)
	t.Cleanup(server.Close)
	return server, s
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func lookup(t *testing.T, body, expr string) string {
	t.Helper()
	path, err := jsonpath.Compile(expr)
	require.NoError(t, err)

	value, ok := path.Lookup([]byte(body))
	require.True(t, ok, "%s not found in %s", expr, body)
	return value
}

func TestServer_Ping(t *testing.T) {
	server, s := newTestServer(t, 0.5)

	resp, body := get(t, server.URL+"/ping")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pod-7", resp.Header.Get(PodHeader))

	for path, want := range map[string]string{
		"$.status":    "ok",
		"$.message":   "pong",
		"$.podName":   "pod-7",
		"$.timestamp": "2024-01-02T03:04:05Z",
	} {
		assert.Equal(t, want, lookup(t, body, path), path)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(s.duration, "ping_request_duration_seconds"))
}

func TestServer_PingSimulatedError(t *testing.T) {
	server, _ := newTestServer(t, 0.01)

	resp, body := get(t, server.URL+"/ping")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "pod-7", resp.Header.Get(PodHeader))

	assert.Equal(t, "error", lookup(t, body, "$.status"))
}

func TestServer_Health(t *testing.T) {
	server, _ := newTestServer(t, 0.5)

	resp, body := get(t, server.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"UP"}`, body)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, 0.5)

	resp, err := http.Post(server.URL+"/ping", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Latency(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := NewServer(Config{
		PodName:    "pod-1",
		MinLatency: 30 * time.Millisecond,
		MaxLatency: 30 * time.Millisecond,
		Random:     func() float64 { return 0.9 },
	}, nil, logger)

	rec := httptest.NewRecorder()
	start := time.Now()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
