// Package rate provides the target-rate schedule for step load tests.
package rate

import (
	"math"
	"time"
)

// Schedule is a step function from elapsed run time to an aggregate target rate.
//
// The target starts at Initial and grows by Step every Interval:
//
//	rate = Initial + floor(elapsed / Interval) * Step
//
// No upper bound is applied here; the dispatcher caps concurrency.
//
// # Thread Safety
//
// Schedule is immutable after construction and safe for concurrent use
// without locking.
type Schedule struct {
	initial  float64
	interval time.Duration
	step     float64
}

// NewSchedule creates a step schedule.
//
// A non-positive interval yields a flat schedule that always returns initial.
func NewSchedule(initial float64, interval time.Duration, step float64) *Schedule {
	return &Schedule{
		initial:  initial,
		interval: interval,
		step:     step,
	}
}

// TargetRate returns the target requests/second at the given elapsed time.
// Negative elapsed values are treated as zero.
func (s *Schedule) TargetRate(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if s.interval <= 0 {
		return s.initial
	}

	steps := math.Floor(float64(elapsed) / float64(s.interval))
	return s.initial + steps*s.step
}

// Projected returns the target rate reached at the end of a run of the given
// duration. It is used to size the worker pool and to print the run plan.
func (s *Schedule) Projected(duration time.Duration) float64 {
	return s.TargetRate(duration)
}

// Steps returns how many step increases happen within duration.
func (s *Schedule) Steps(duration time.Duration) int {
	if s.interval <= 0 || duration <= 0 {
		return 0
	}
	return int(duration / s.interval)
}

// Initial returns the starting rate.
func (s *Schedule) Initial() float64 {
	return s.initial
}

// Interval returns the time between step increases.
func (s *Schedule) Interval() time.Duration {
	return s.interval
}

// Step returns the rate added at each interval boundary.
func (s *Schedule) Step() float64 {
	return s.step
}
