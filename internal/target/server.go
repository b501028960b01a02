// Package target implements a small demo service to point steprate at: a
// /ping endpoint that reports the serving pod, with configurable latency and
// error injection, and a /health endpoint.
package target

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PodHeader is the response header carrying the pod name.
const PodHeader = "X-Pod-Name"

// Config configures the demo target.
type Config struct {
	// PodName identifies this instance in responses
	PodName string

	// ErrorRate is the fraction of /ping requests answered with 500 (0..1)
	ErrorRate float64

	// MinLatency and MaxLatency bound the simulated processing time
	MinLatency time.Duration
	MaxLatency time.Duration

	// Random returns values in [0, 1) (default: math/rand/v2)
	Random func() float64

	// Now overrides the clock used for response timestamps
	Now func() time.Time
}

// DefaultConfig mirrors the reference ping service: 10-60ms of work and a
// 5% simulated error rate.
func DefaultConfig() Config {
	return Config{
		ErrorRate:  0.05,
		MinLatency: 10 * time.Millisecond,
		MaxLatency: 60 * time.Millisecond,
	}
}

// PingResponse is the /ping body.
type PingResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	PodName   string `json:"podName"`
}

// Server is the demo target's HTTP handler.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	duration *prometheus.HistogramVec
	log      logrus.FieldLogger
}

// NewServer creates the handler and registers its metrics with reg.
func NewServer(cfg Config, reg prometheus.Registerer, logger logrus.FieldLogger) *Server {
	if cfg.Random == nil {
		cfg.Random = rand.Float64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ping_request_duration_seconds",
			Help:    "Time taken to process ping requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		log: logger,
	}
	if reg != nil {
		reg.MustRegister(s.duration)
	}

	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		s.duration.WithLabelValues(strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	}()

	w.Header().Set(PodHeader, s.cfg.PodName)

	if s.cfg.Random() < s.cfg.ErrorRate {
		status = http.StatusInternalServerError
		s.log.Debug("simulated error")
		writeJSON(w, status, map[string]string{"status": "error", "message": "simulated error"})
		return
	}

	work := s.cfg.MinLatency + time.Duration(s.cfg.Random()*float64(s.cfg.MaxLatency-s.cfg.MinLatency))
	if work > 0 {
		timer := time.NewTimer(work)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			status = 499
			return
		}
	}

	writeJSON(w, status, PingResponse{
		Status:    "ok",
		Message:   "pong",
		Timestamp: s.cfg.Now().Format(time.RFC3339Nano),
		PodName:   s.cfg.PodName,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
