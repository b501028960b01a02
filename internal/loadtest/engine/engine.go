// Package engine orchestrates a step load test: it starts the worker pool and
// the snapshotter, stops them when the duration elapses or on interrupt, and
// produces the final report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/steprate/internal/loadtest"
	"github.com/wesleyorama2/steprate/internal/loadtest/config"
	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
	"github.com/wesleyorama2/steprate/internal/loadtest/rate"
)

var (
	// ErrAlreadyStarted is returned by Run on an engine that has left Idle.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStopped is returned by Finalize before the engine has stopped.
	ErrNotStopped = errors.New("engine has not stopped")
)

// State is the engine lifecycle state.
type State int32

const (
	// StateIdle indicates the engine has not started.
	StateIdle State = iota
	// StateRunning indicates workers are sending requests.
	StateRunning
	// StateStopping indicates the stop signal is set and workers are draining.
	StateStopping
	// StateStopped indicates all workers and the snapshotter have returned.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options customizes an Engine. The zero value is usable.
type Options struct {
	// Prober overrides the HTTP probe built from the configuration
	Prober loadtest.Prober

	// Logger receives lifecycle and fault logs (default: logrus standard logger)
	Logger logrus.FieldLogger

	// OnPoint is called with every time-series point as it is appended
	OnPoint func(metrics.TimeSeriesPoint)

	// OnTargetChange is called when the target rate steps up
	OnTargetChange func(from, to float64)
}

// Engine runs one step load test.
//
// The lifecycle is Idle -> Running -> Stopping -> Stopped. A zero-duration
// run goes from Idle straight to Stopped and finalizes to an empty report.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("ramp.yaml")
//	eng, _ := engine.New(cfg, engine.Options{})
//	_ = eng.Run(ctx)
//	report, _ := eng.Finalize()
type Engine struct {
	cfg      *config.Config
	schedule *rate.Schedule
	sink     *metrics.Sink
	prober   loadtest.Prober
	closer   func()
	log      logrus.FieldLogger
	runID    string

	dispatcher  *loadtest.Dispatcher
	snapshotter *Snapshotter

	state atomic.Int32
	stop  *loadtest.StopSignal

	mu          sync.RWMutex
	startTime   time.Time
	endTime     time.Time
	interrupted bool

	finalizeOnce sync.Once
	report       *metrics.RunReport
}

// New validates cfg and builds an engine for it.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	runID := uuid.NewString()
	logger = logger.WithField("run", runID)

	e := &Engine{
		cfg:      cfg,
		schedule: rate.NewSchedule(cfg.InitialRate, cfg.StepInterval(), cfg.StepSize),
		sink:     metrics.NewSink(),
		prober:   opts.Prober,
		log:      logger,
		runID:    runID,
		stop:     loadtest.NewStopSignal(),
	}

	if e.prober == nil {
		p, err := loadtest.NewHTTPProber(loadtest.ProberConfig{
			URL:            cfg.TargetURL(),
			Timeout:        time.Duration(cfg.Timeout),
			MaxInFlight:    cfg.MaxConnections,
			PodHeader:      cfg.PodHeader,
			PodField:       cfg.PodField,
			ResponseSchema: cfg.ResponseSchema,
			HTTP: loadtest.HTTPClientConfig{
				MaxConns:        cfg.MaxConnections,
				MaxConnsPerHost: cfg.MaxConnectionsPerHost,
				IdleConnTimeout: 90 * time.Second,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create probe: %w", err)
		}
		e.prober = p
		e.closer = p.Close
	}

	e.dispatcher = loadtest.NewDispatcher(loadtest.DispatcherConfig{
		Workers:    loadtest.WorkersFor(e.schedule, cfg.Duration(), cfg.MaxWorkers),
		Schedule:   e.schedule,
		Prober:     e.prober,
		Recorder:   e.sink,
		Logger:     logger,
		FaultLimit: loadtest.DefaultFaultLimit,
	})

	e.snapshotter = NewSnapshotter(SnapshotterConfig{
		Schedule:       e.schedule,
		Sink:           e.sink,
		Interval:       time.Duration(cfg.SnapshotInterval),
		Window:         time.Duration(cfg.Window),
		ActiveWorkers:  e.dispatcher.ActiveWorkers,
		OnPoint:        opts.OnPoint,
		OnTargetChange: opts.OnTargetChange,
		Logger:         logger,
	})

	return e, nil
}

// Run executes the test and blocks until the engine is Stopped.
//
// The run ends when the configured duration elapses, when Stop is called or
// when ctx is cancelled; the latter two mark the report as interrupted.
// Requests in flight at that point complete under their own timeout and are
// recorded.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Duration() <= 0 {
		if !e.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
			return ErrAlreadyStarted
		}
		now := time.Now()
		e.mu.Lock()
		e.startTime, e.endTime = now, now
		e.mu.Unlock()
		e.stop.Stop()
		if e.closer != nil {
			e.closer()
		}
		e.log.Info("zero duration run, nothing to send")
		return nil
	}

	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	if e.closer != nil {
		defer e.closer()
	}

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"url":     e.cfg.TargetURL(),
		"workers": e.dispatcher.Workers(),
		"target":  e.schedule.TargetRate(0),
	}).Info("load test started")

	// Requests outlive the caller's cancellation so that nothing in flight
	// is lost when the run is interrupted.
	requestCtx := context.WithoutCancel(ctx)

	// failed is cancelled when the dispatcher gives up on its own.
	g, failed := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := e.dispatcher.Run(requestCtx, start, e.stop.Done()); err != nil {
			return fmt.Errorf("dispatcher: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		e.snapshotter.Run(start, e.stop.Done())
		return nil
	})

	timer := time.NewTimer(e.cfg.Duration())
	interrupted := false
	select {
	case <-timer.C:
	case <-ctx.Done():
		interrupted = true
	case <-e.stop.Done():
		interrupted = true
	case <-failed.Done():
		interrupted = true
	}
	timer.Stop()

	e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	e.stop.Stop()
	e.log.WithField("interrupted", interrupted).Info("stopping, waiting for in-flight requests")

	err := g.Wait()
	end := time.Now()

	// Final point once every outcome is in.
	e.snapshotter.Take(end.Sub(start))

	e.mu.Lock()
	e.endTime = end
	e.interrupted = interrupted
	e.mu.Unlock()
	e.state.Store(int32(StateStopped))

	e.log.WithFields(logrus.Fields{
		"elapsed":  end.Sub(start).Round(time.Millisecond),
		"requests": e.sink.Totals().Total,
		"faults":   e.dispatcher.Faults(),
	}).Info("load test stopped")

	return err
}

// Stop requests a graceful stop. It may be called any number of times from
// any goroutine; Run treats it like an external interrupt.
func (e *Engine) Stop() {
	e.stop.Stop()
	e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Finalize returns the run report. It is only valid once the engine is
// Stopped; later calls return the same report.
func (e *Engine) Finalize() (*metrics.RunReport, error) {
	if e.State() != StateStopped {
		return nil, ErrNotStopped
	}

	e.finalizeOnce.Do(func() {
		e.mu.RLock()
		start, end, interrupted := e.startTime, e.endTime, e.interrupted
		e.mu.RUnlock()

		duration := end.Sub(start)
		report := e.sink.Finalize(duration)
		report.RunID = e.runID
		report.Name = e.cfg.Name
		report.BaseURL = e.cfg.TargetURL()
		report.StartTime = start
		report.EndTime = end
		report.Interrupted = interrupted
		report.Schedule = metrics.ScheduleSummary{
			InitialRate:         e.schedule.Initial(),
			StepIntervalSeconds: e.cfg.StepIntervalSeconds,
			StepSize:            e.schedule.Step(),
			FinalTargetRate:     e.schedule.TargetRate(duration),
			Workers:             e.dispatcher.Workers(),
		}
		report.TimeSeries = e.snapshotter.Points()
		e.report = report
	})

	return e.report, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// RunID returns the identifier stamped on the report.
func (e *Engine) RunID() string {
	return e.runID
}

// Config returns the resolved configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Schedule returns the rate schedule.
func (e *Engine) Schedule() *rate.Schedule {
	return e.schedule
}

// Sink returns the metrics sink shared by the workers.
func (e *Engine) Sink() *metrics.Sink {
	return e.sink
}

// Workers returns the size of the worker pool.
func (e *Engine) Workers() int {
	return e.dispatcher.Workers()
}

// ActiveWorkers returns the number of running worker loops.
func (e *Engine) ActiveWorkers() int {
	return e.dispatcher.ActiveWorkers()
}

// Elapsed returns the time since the run started, frozen once stopped.
func (e *Engine) Elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch {
	case e.startTime.IsZero():
		return 0
	case !e.endTime.IsZero():
		return e.endTime.Sub(e.startTime)
	default:
		return time.Since(e.startTime)
	}
}

// TargetRate returns the schedule's current target.
func (e *Engine) TargetRate() float64 {
	return e.schedule.TargetRate(e.Elapsed())
}

// Points returns a copy of the time series collected so far.
func (e *Engine) Points() []metrics.TimeSeriesPoint {
	return e.snapshotter.Points()
}
