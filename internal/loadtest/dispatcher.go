package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
	"github.com/wesleyorama2/steprate/internal/loadtest/rate"
)

// idleDelay is the pause between iterations while the target rate is zero.
const idleDelay = time.Second

// DefaultFaultLimit is the fault count after which a dispatcher that has not
// completed a single iteration gives up.
const DefaultFaultLimit = 100

// ErrFaultLimit is returned by Run when every iteration faulted until the
// fault limit was reached.
var ErrFaultLimit = errors.New("fault limit reached without a completed iteration")

// Recorder receives request outcomes. metrics.Sink satisfies it.
type Recorder interface {
	Record(o metrics.Outcome)
}

// StopSignal is a one-shot broadcast observed by every worker. Closing it
// more than once is a no-op.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopSignal returns an open stop signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Stop closes the signal.
func (s *StopSignal) Stop() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once Stop has been called.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ch
}

// Stopped reports whether Stop has been called.
func (s *StopSignal) Stopped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Workers is the number of worker loops to start (0: none)
	Workers int

	// Schedule maps elapsed time to the aggregate target rate
	Schedule *rate.Schedule

	// Prober sends one request per iteration
	Prober Prober

	// Recorder receives every outcome
	Recorder Recorder

	// Logger receives worker faults (default: logrus standard logger)
	Logger logrus.FieldLogger

	// FaultLimit stops all workers once this many iterations have faulted
	// and none has completed (0: never)
	FaultLimit int64
}

// Dispatcher runs a fixed pool of workers that together approximate the
// schedule's target rate. Each worker sends a request, records the outcome,
// then sleeps 1/(target/active) seconds so that the aggregate rate tracks the
// target while it stays within what the pool can sustain.
//
// # Thread Safety
//
// Counters are atomic and may be read while Run is in progress.
type Dispatcher struct {
	workers  int
	schedule *rate.Schedule
	prober   Prober
	recorder Recorder
	log      logrus.FieldLogger

	faultLimit int64
	abort      *StopSignal

	active     atomic.Int32
	iterations atomic.Int64
	faults     atomic.Int64
}

// NewDispatcher creates a dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	workers := cfg.Workers
	if workers < 0 {
		workers = 0
	}

	return &Dispatcher{
		workers:  workers,
		schedule: cfg.Schedule,
		prober:   cfg.Prober,
		recorder:   cfg.Recorder,
		log:        logger,
		faultLimit: cfg.FaultLimit,
		abort:      NewStopSignal(),
	}
}

// Workers returns the configured pool size.
func (d *Dispatcher) Workers() int {
	return d.workers
}

// ActiveWorkers returns the number of worker loops currently running.
func (d *Dispatcher) ActiveWorkers() int {
	return int(d.active.Load())
}

// Iterations returns the number of completed iterations.
func (d *Dispatcher) Iterations() int64 {
	return d.iterations.Load()
}

// Faults returns the number of iterations abandoned after a panic.
func (d *Dispatcher) Faults() int64 {
	return d.faults.Load()
}

// Run starts the workers and blocks until all of them have exited.
//
// Workers exit once stop is closed, after finishing the request they have in
// flight; that outcome is still recorded. Requests are issued under ctx, so
// callers that want in-flight requests to complete on shutdown pass a
// context that is not cancelled by it.
//
// Run returns ErrFaultLimit if the workers gave up on their own because no
// iteration could complete.
func (d *Dispatcher) Run(ctx context.Context, start time.Time, stop <-chan struct{}) error {
	var wg sync.WaitGroup

	// Count all workers as active before any of them computes a delay.
	d.active.Add(int32(d.workers))
	for id := 1; id <= d.workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer d.active.Add(-1)
			d.runWorker(ctx, id, start, stop)
		}(id)
	}

	wg.Wait()

	if d.abort.Stopped() {
		return fmt.Errorf("%w (%d faults)", ErrFaultLimit, d.Faults())
	}
	return nil
}

// runWorker is one worker loop.
func (d *Dispatcher) runWorker(ctx context.Context, id int, start time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-d.abort.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		delay := d.iterate(ctx, id, start)

		if !sleep(ctx, stop, d.abort.Done(), delay) {
			return
		}
	}
}

// iterate runs one request cycle and returns the pause before the next one.
// A panic abandons the iteration without ending the worker.
func (d *Dispatcher) iterate(ctx context.Context, id int, start time.Time) (delay time.Duration) {
	delay = idleDelay
	defer func() {
		if r := recover(); r != nil {
			faults := d.faults.Add(1)
			d.log.WithField("worker", id).Errorf("iteration abandoned: %v", r)
			if d.faultLimit > 0 && faults >= d.faultLimit && d.iterations.Load() == 0 {
				d.abort.Stop()
			}
		}
	}()

	target := d.schedule.TargetRate(time.Since(start))
	delay = WorkerDelay(target, d.ActiveWorkers())

	outcome := d.prober.Probe(ctx)
	outcome.WorkerID = id
	d.recorder.Record(outcome)
	d.iterations.Add(1)

	return delay
}

// sleep waits for delay and reports false if the wait was cut short by stop,
// abort or ctx.
func sleep(ctx context.Context, stop, abort <-chan struct{}, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-abort:
		return false
	case <-ctx.Done():
		return false
	}
}

// WorkerDelay returns the pause one worker takes after a request so that
// active workers together approach targetRate. Each worker sends at least
// one request per second; a non-positive target idles at one per second.
func WorkerDelay(targetRate float64, active int) time.Duration {
	if targetRate <= 0 {
		return idleDelay
	}
	if active < 1 {
		active = 1
	}

	perWorker := targetRate / float64(active)
	if perWorker < 1 {
		perWorker = 1
	}
	return time.Duration(float64(time.Second) / perWorker)
}

// WorkersFor sizes the worker pool: enough workers to reach the rate
// projected at the end of the run at one request per second each, capped at
// maxWorkers. maxWorkers of zero yields an empty pool.
func WorkersFor(schedule *rate.Schedule, duration time.Duration, maxWorkers int) int {
	if maxWorkers <= 0 {
		return 0
	}

	peak := int(math.Ceil(schedule.Projected(duration)))
	if peak < 1 {
		peak = 1
	}
	if peak > maxWorkers {
		peak = maxWorkers
	}
	return peak
}
