package metrics

import (
	"math"
	"sort"
)

// LatencyStats summarises a latency set in milliseconds.
type LatencyStats struct {
	Count  int64   `json:"count" yaml:"count"`
	Min    float64 `json:"minMs" yaml:"minMs"`
	Max    float64 `json:"maxMs" yaml:"maxMs"`
	Mean   float64 `json:"meanMs" yaml:"meanMs"`
	StdDev float64 `json:"stdDevMs" yaml:"stdDevMs"`
	P50    float64 `json:"p50Ms" yaml:"p50Ms"`
	P90    float64 `json:"p90Ms" yaml:"p90Ms"`
	P95    float64 `json:"p95Ms" yaml:"p95Ms"`
	P99    float64 `json:"p99Ms" yaml:"p99Ms"`
}

// Percentile returns the p-th percentile of an ascending slice using the
// nearest-rank index floor(p/100 * N), clamped to the valid range.
// It returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	rank := int(math.Floor(p / 100 * float64(n)))
	if rank < 0 {
		rank = 0
	}
	if rank > n-1 {
		rank = n - 1
	}
	return sorted[rank]
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation around mean.
func StdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Summarize computes LatencyStats over values. The slice is sorted in place.
// An empty set yields the zero value.
func Summarize(values []float64) LatencyStats {
	if len(values) == 0 {
		return LatencyStats{}
	}

	sort.Float64s(values)
	mean := Mean(values)

	return LatencyStats{
		Count:  int64(len(values)),
		Min:    values[0],
		Max:    values[len(values)-1],
		Mean:   mean,
		StdDev: StdDev(values, mean),
		P50:    Percentile(values, 50),
		P90:    Percentile(values, 90),
		P95:    Percentile(values, 95),
		P99:    Percentile(values, 99),
	}
}
