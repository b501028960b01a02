package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
	"github.com/wesleyorama2/steprate/internal/loadtest/rate"
)

// SnapshotterConfig configures a Snapshotter.
type SnapshotterConfig struct {
	Schedule *rate.Schedule
	Sink     *metrics.Sink

	// Interval is the sampling cadence (default: 5s)
	Interval time.Duration

	// Window is the trailing window for observed rate and latency (default: 10s)
	Window time.Duration

	// ActiveWorkers reports the live worker count (optional)
	ActiveWorkers func() int

	// OnPoint is called with every appended point, outside the lock
	OnPoint func(metrics.TimeSeriesPoint)

	// OnTargetChange is called when the target rate moves between points
	OnTargetChange func(from, to float64)

	Logger logrus.FieldLogger
}

// Snapshotter samples the sink and schedule at a fixed cadence and keeps the
// resulting time series. The callbacks receive exactly the values appended,
// so progress output and the series cannot disagree.
type Snapshotter struct {
	cfg SnapshotterConfig
	log logrus.FieldLogger

	mu         sync.Mutex
	points     []metrics.TimeSeriesPoint
	lastTarget float64
}

// NewSnapshotter creates a snapshotter from cfg.
func NewSnapshotter(cfg SnapshotterConfig) *Snapshotter {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.ActiveWorkers == nil {
		cfg.ActiveWorkers = func() int { return 0 }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Snapshotter{
		cfg:        cfg,
		log:        logger,
		lastTarget: cfg.Schedule.TargetRate(0),
	}
}

// Run takes a point every interval until stop is closed.
func (s *Snapshotter) Run(start time.Time, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Take(time.Since(start))
		}
	}
}

// Take samples the run at elapsed and appends the point. It reports false,
// appending nothing, when elapsed does not advance past the last point.
func (s *Snapshotter) Take(elapsed time.Duration) (metrics.TimeSeriesPoint, bool) {
	target := s.cfg.Schedule.TargetRate(elapsed)
	window := s.cfg.Sink.Snapshot(s.cfg.Window)
	totals := s.cfg.Sink.Totals()

	point := metrics.TimeSeriesPoint{
		ElapsedMinutes:     elapsed.Minutes(),
		TargetRate:         target,
		ObservedRate:       window.Rate,
		AvgLatencyMs:       window.AvgLatencyMs,
		P90LatencyMs:       window.P90LatencyMs,
		SuccessRatePercent: totals.SuccessRatePercent(),
		TotalRequests:      totals.Total,
		ActiveWorkers:      s.cfg.ActiveWorkers(),
	}

	s.mu.Lock()
	if n := len(s.points); n > 0 && point.ElapsedMinutes <= s.points[n-1].ElapsedMinutes {
		s.mu.Unlock()
		return metrics.TimeSeriesPoint{}, false
	}
	s.points = append(s.points, point)
	previous := s.lastTarget
	s.lastTarget = target
	s.mu.Unlock()

	if target != previous {
		s.log.WithFields(logrus.Fields{
			"from": previous,
			"to":   target,
		}).Info("target rate increased")
		if s.cfg.OnTargetChange != nil {
			s.cfg.OnTargetChange(previous, target)
		}
	}
	if s.cfg.OnPoint != nil {
		s.cfg.OnPoint(point)
	}

	return point, true
}

// Points returns a copy of the time series.
func (s *Snapshotter) Points() []metrics.TimeSeriesPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]metrics.TimeSeriesPoint, len(s.points))
	copy(out, s.points)
	return out
}
