package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// SinkConfig configures a Sink.
type SinkConfig struct {
	// HistogramMin is the lowest recordable latency in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the highest recordable latency in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the histogram precision (default: 3)
	HistogramSigFigs int

	// HistogramBins is the number of bars in the report distribution (default: 50)
	HistogramBins int

	// Now overrides the clock used for trailing windows (tests).
	Now func() time.Time
}

// DefaultSinkConfig returns the default configuration.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
		HistogramBins:    50,
		Now:              time.Now,
	}
}

// Sink accumulates request outcomes.
//
// Record is the only mutation entry point. Every field an outcome touches
// (the log, counters, status and second buckets, pod counts, histogram) is
// updated in one critical section, so readers never observe a partially
// recorded outcome and success+failure always equals the log length.
//
// # Thread Safety
//
// Sink is safe for concurrent use. No I/O happens while the lock is held.
type Sink struct {
	mu sync.Mutex

	outcomes      []Outcome
	recordedAt    []time.Time
	success       int64
	failure       int64
	statusCounts  map[string]int64
	secondBuckets map[int64]int64
	podCounts     map[string]int64
	latencyHist   *hdrhistogram.Histogram

	config SinkConfig
}

// NewSink creates a sink with the default configuration.
func NewSink() *Sink {
	return NewSinkWithConfig(DefaultSinkConfig())
}

// NewSinkWithConfig creates a sink with a custom configuration. Zero fields
// fall back to their defaults.
func NewSinkWithConfig(config SinkConfig) *Sink {
	def := DefaultSinkConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	if config.HistogramBins <= 0 {
		config.HistogramBins = def.HistogramBins
	}
	if config.Now == nil {
		config.Now = def.Now
	}

	return &Sink{
		statusCounts:  make(map[string]int64),
		secondBuckets: make(map[int64]int64),
		podCounts:     make(map[string]int64),
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		config:        config,
	}
}

// Record appends one outcome.
func (s *Sink) Record(o Outcome) {
	key := o.StatusKey()
	second := o.CompletedAt().Unix()
	micros := o.Latency.Microseconds()
	if micros < s.config.HistogramMin {
		micros = s.config.HistogramMin
	}
	if micros > s.config.HistogramMax {
		micros = s.config.HistogramMax
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, o)
	s.recordedAt = append(s.recordedAt, s.config.Now())
	if o.IsSuccess() {
		s.success++
	} else {
		s.failure++
	}
	s.statusCounts[key]++
	s.secondBuckets[second]++
	if o.Pod != "" {
		s.podCounts[o.Pod]++
	}
	// Value is clamped to the trackable range, so RecordValue cannot fail.
	_ = s.latencyHist.RecordValue(micros)
}

// Totals returns the cumulative counters.
func (s *Sink) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Totals{
		Total:   int64(len(s.outcomes)),
		Success: s.success,
		Failure: s.failure,
	}
}

// StatusCounts returns a copy of the status histogram.
func (s *Sink) StatusCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounts(s.statusCounts)
}

// PodCounts returns a copy of the per-pod request counts.
func (s *Sink) PodCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounts(s.podCounts)
}

// Outcomes returns a copy of the outcome log in insertion order.
func (s *Sink) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Outcome, len(s.outcomes))
	copy(result, s.outcomes)
	return result
}

// Snapshot reads the outcomes issued within [now-window, now].
//
// Rate is count/window. The mean latency is 0 for an empty window and the
// p90 is 0 unless at least MinPercentileSamples outcomes are in the window.
func (s *Sink) Snapshot(window time.Duration) WindowStats {
	stats := WindowStats{Window: window}
	if window <= 0 {
		return stats
	}

	now := s.config.Now()
	cutoff := now.Add(-window)

	var latencies []float64

	s.mu.Lock()
	for i := len(s.outcomes) - 1; i >= 0; i-- {
		// recordedAt is non-decreasing and never precedes IssuedAt, so
		// nothing earlier in the log can fall inside the window.
		if s.recordedAt[i].Before(cutoff) {
			break
		}
		o := &s.outcomes[i]
		if o.IssuedAt.Before(cutoff) || o.IssuedAt.After(now) {
			continue
		}
		latencies = append(latencies, o.LatencyMillis())
	}
	s.mu.Unlock()

	stats.Count = len(latencies)
	stats.Rate = float64(stats.Count) / window.Seconds()
	if stats.Count == 0 {
		return stats
	}

	summary := Summarize(latencies)
	stats.AvgLatencyMs = summary.Mean
	if stats.Count >= MinPercentileSamples {
		stats.P90LatencyMs = summary.P90
	}
	return stats
}

// Finalize produces the run-level report fields from everything recorded so
// far. duration is the wall-clock length of the run and is used for the mean
// throughput. The result is a snapshot; outcomes recorded afterwards are not
// reflected in it.
//
// Identity, schedule and time-series fields are left for the caller.
func (s *Sink) Finalize(duration time.Duration) *RunReport {
	s.mu.Lock()
	latencies := make([]float64, len(s.outcomes))
	for i := range s.outcomes {
		latencies[i] = s.outcomes[i].LatencyMillis()
	}
	success, failure := s.success, s.failure
	statusCounts := copyCounts(s.statusCounts)
	podCounts := copyCounts(s.podCounts)

	var maxTPS int64
	for _, c := range s.secondBuckets {
		if c > maxTPS {
			maxTPS = c
		}
	}
	bars := s.histogramBars()
	s.mu.Unlock()

	total := int64(len(latencies))
	report := &RunReport{
		DurationSeconds: duration.Seconds(),
		TotalRequests:   total,
		SuccessRequests: success,
		FailedRequests:  failure,
		StatusCodes:     statusCounts,
		NoData:          total == 0,
		Throughput:      Throughput{MaxTPS: maxTPS},
	}

	if total == 0 {
		return report
	}

	report.SuccessRatePercent = float64(success) / float64(total) * 100
	report.ErrorRatePercent = float64(failure) / float64(total) * 100
	report.Latency = Summarize(latencies)
	report.LatencyHistogram = bars
	if duration > 0 {
		report.Throughput.MeanTPS = float64(total) / duration.Seconds()
	}
	if len(podCounts) > 0 {
		report.PodDistribution = podCounts
		report.DistributionRatio = distributionRatio(podCounts)
	}

	return report
}

// histogramBars folds the HDR histogram into equal-width bars between the
// recorded min and max. Caller must hold s.mu.
func (s *Sink) histogramBars() []HistogramBar {
	if s.latencyHist.TotalCount() == 0 {
		return nil
	}

	lo := s.latencyHist.Min()
	hi := s.latencyHist.Max()
	bins := s.config.HistogramBins
	width := (hi-lo)/int64(bins) + 1

	bars := make([]HistogramBar, bins)
	for i := range bars {
		from := lo + int64(i)*width
		bars[i] = HistogramBar{
			FromMs: microsToMillis(from),
			ToMs:   microsToMillis(from + width),
		}
	}

	for _, b := range s.latencyHist.Distribution() {
		if b.Count == 0 {
			continue
		}
		idx := int((b.From - lo) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		bars[idx].Count += b.Count
	}

	return bars
}

func microsToMillis(v int64) float64 {
	return float64(v) / 1000
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
