// Package loadtest provides the request side of a step load test: the HTTP
// probe sent to the target service and the worker pool that paces it.
package loadtest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
	"github.com/wesleyorama2/steprate/pkg/jsonpath"
	"github.com/wesleyorama2/steprate/pkg/jsonschema"
)

// maxBodyBytes caps how much of a probe response body is buffered.
const maxBodyBytes = 1 << 20

// Prober issues one request attempt and reports its outcome. Implementations
// never return errors: every failure is encoded in the outcome.
type Prober interface {
	Probe(ctx context.Context) metrics.Outcome
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) metrics.Outcome

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) metrics.Outcome {
	return f(ctx)
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// MaxConns bounds idle plus active connections kept by the transport
	MaxConns int

	// MaxConnsPerHost bounds connections to one host; excess requests wait
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns the pool sizing used by default.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		MaxConns:        1000,
		MaxConnsPerHost: 500,
		IdleConnTimeout: 90 * time.Second,
	}
}

// NewHTTPClient creates a pooled client. Per-request timeouts are applied by
// the prober through the request context, not the client.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &http.Client{Transport: transport}
}

// ProberConfig configures an HTTPProber.
type ProberConfig struct {
	// URL is the full probe URL
	URL string

	// Timeout bounds one attempt, including waiting for a connection slot
	Timeout time.Duration

	// MaxInFlight bounds concurrently outstanding attempts (0: unbounded)
	MaxInFlight int

	// PodHeader names the header that identifies the serving pod
	PodHeader string

	// PodField is a JSONPath into 200 bodies used when the header is absent
	PodField string

	// ResponseSchema is an optional JSON Schema for 200 bodies
	ResponseSchema string

	// Client overrides the HTTP client; nil builds one from HTTP
	Client *http.Client

	// HTTP sizes the client built when Client is nil
	HTTP HTTPClientConfig
}

// HTTPProber sends GET requests to a fixed URL.
//
// # Thread Safety
//
// HTTPProber is safe for concurrent use by many workers; the client pool
// and the in-flight semaphore are shared.
type HTTPProber struct {
	client    *http.Client
	url       string
	timeout   time.Duration
	slots     *semaphore.Weighted
	podHeader string
	podPath   jsonpath.Path
	schema    *jsonschema.Validator
}

// NewHTTPProber creates a prober from cfg.
func NewHTTPProber(cfg ProberConfig) (*HTTPProber, error) {
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid probe URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	p := &HTTPProber{
		client:    cfg.Client,
		url:       cfg.URL,
		timeout:   cfg.Timeout,
		podHeader: cfg.PodHeader,
	}
	if p.client == nil {
		p.client = NewHTTPClient(cfg.HTTP)
	}
	if cfg.MaxInFlight > 0 {
		p.slots = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	if cfg.PodField != "" {
		path, err := jsonpath.Compile(cfg.PodField)
		if err != nil {
			return nil, fmt.Errorf("invalid pod field: %w", err)
		}
		p.podPath = path
	}
	if cfg.ResponseSchema != "" {
		v, err := jsonschema.Compile(cfg.ResponseSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid response schema: %w", err)
		}
		p.schema = v
	}

	return p, nil
}

// Probe sends one GET and returns its outcome. The latency covers waiting
// for a connection slot, the round trip and reading the body, and is
// recorded for failures too.
func (p *HTTPProber) Probe(ctx context.Context) metrics.Outcome {
	issuedAt := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.slots != nil {
		if err := p.slots.Acquire(reqCtx, 1); err != nil {
			return metrics.NewFailureOutcome(issuedAt, time.Since(issuedAt), classifyError(err))
		}
		defer p.slots.Release(1)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.url, nil)
	if err != nil {
		return metrics.NewFailureOutcome(issuedAt, time.Since(issuedAt), metrics.ReasonError)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return metrics.NewFailureOutcome(issuedAt, time.Since(issuedAt), classifyError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err == nil {
		// Drain the rest so the connection can be reused.
		_, err = io.Copy(io.Discard, resp.Body)
	}
	latency := time.Since(issuedAt)
	if err != nil {
		return metrics.NewFailureOutcome(issuedAt, latency, classifyError(err))
	}

	outcome := metrics.NewResponseOutcome(issuedAt, latency, resp.StatusCode)
	outcome.Pod = p.podName(resp, body)

	if outcome.IsSuccess() && p.schema != nil {
		if err := p.schema.Validate(body); err != nil {
			outcome.Reason = metrics.ReasonInvalidBody
		}
	}

	return outcome
}

// Close releases idle pooled connections.
func (p *HTTPProber) Close() {
	p.client.CloseIdleConnections()
}

// podName identifies the serving pod from the configured header, falling
// back to the JSON body of a 200 response.
func (p *HTTPProber) podName(resp *http.Response, body []byte) string {
	if p.podHeader != "" {
		if name := resp.Header.Get(p.podHeader); name != "" {
			return name
		}
	}
	if resp.StatusCode == http.StatusOK {
		if name, ok := p.podPath.Lookup(body); ok {
			return name
		}
	}
	return ""
}

// classifyError maps a transport error to a failure tag.
func classifyError(err error) metrics.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return metrics.ReasonTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return metrics.ReasonTimeout
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return metrics.ReasonConnection
	}

	return metrics.ReasonError
}
