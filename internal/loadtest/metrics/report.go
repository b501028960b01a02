package metrics

import (
	"time"
)

// MinPercentileSamples is the smallest trailing-window sample count for
// which a windowed percentile is reported. Below it the percentile is 0.
const MinPercentileSamples = 10

// WindowStats is a consistent read over a trailing time window.
type WindowStats struct {
	Window       time.Duration `json:"window"`
	Count        int           `json:"count"`
	Rate         float64       `json:"rate"`
	AvgLatencyMs float64       `json:"avgLatencyMs"`
	P90LatencyMs float64       `json:"p90LatencyMs"`
}

// Totals holds the cumulative outcome counters.
type Totals struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// SuccessRatePercent returns the cumulative success rate, or 0 with no data.
func (t Totals) SuccessRatePercent() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Success) / float64(t.Total) * 100
}

// TimeSeriesPoint is one periodic sample of the run.
type TimeSeriesPoint struct {
	ElapsedMinutes     float64 `json:"elapsedMinutes" yaml:"elapsedMinutes"`
	TargetRate         float64 `json:"targetRate" yaml:"targetRate"`
	ObservedRate       float64 `json:"observedRate" yaml:"observedRate"`
	AvgLatencyMs       float64 `json:"avgLatencyMs" yaml:"avgLatencyMs"`
	P90LatencyMs       float64 `json:"p90LatencyMs" yaml:"p90LatencyMs"`
	SuccessRatePercent float64 `json:"successRatePercent" yaml:"successRatePercent"`
	TotalRequests      int64   `json:"totalRequests" yaml:"totalRequests"`
	ActiveWorkers      int     `json:"activeWorkers" yaml:"activeWorkers"`
}

// Throughput describes request rates over the whole run.
type Throughput struct {
	MeanTPS float64 `json:"meanTps" yaml:"meanTps"`
	MaxTPS  int64   `json:"maxTps" yaml:"maxTps"`
}

// HistogramBar is one bucket of the latency distribution.
type HistogramBar struct {
	FromMs float64 `json:"fromMs" yaml:"fromMs"`
	ToMs   float64 `json:"toMs" yaml:"toMs"`
	Count  int64   `json:"count" yaml:"count"`
}

// ScheduleSummary echoes the resolved load plan.
type ScheduleSummary struct {
	InitialRate         float64 `json:"initialRate" yaml:"initialRate"`
	StepIntervalSeconds int     `json:"stepIntervalSeconds" yaml:"stepIntervalSeconds"`
	StepSize            float64 `json:"stepSize" yaml:"stepSize"`
	FinalTargetRate     float64 `json:"finalTargetRate" yaml:"finalTargetRate"`
	Workers             int     `json:"workers" yaml:"workers"`
}

// RunReport is the final, immutable result of a run.
type RunReport struct {
	RunID     string    `json:"runId" yaml:"runId"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	BaseURL   string    `json:"baseUrl" yaml:"baseUrl"`
	StartTime time.Time `json:"startTime" yaml:"startTime"`
	EndTime   time.Time `json:"endTime" yaml:"endTime"`

	DurationSeconds float64         `json:"durationSeconds" yaml:"durationSeconds"`
	Schedule        ScheduleSummary `json:"schedule" yaml:"schedule"`
	Interrupted     bool            `json:"interrupted" yaml:"interrupted"`

	TotalRequests      int64   `json:"totalRequests" yaml:"totalRequests"`
	SuccessRequests    int64   `json:"successRequests" yaml:"successRequests"`
	FailedRequests     int64   `json:"failedRequests" yaml:"failedRequests"`
	SuccessRatePercent float64 `json:"successRatePercent" yaml:"successRatePercent"`
	ErrorRatePercent   float64 `json:"errorRatePercent" yaml:"errorRatePercent"`

	// NoData is set when nothing was recorded; latency fields are then zero.
	NoData bool `json:"noData" yaml:"noData"`

	Latency          LatencyStats     `json:"latency" yaml:"latency"`
	LatencyHistogram []HistogramBar   `json:"latencyHistogram,omitempty" yaml:"latencyHistogram,omitempty"`
	Throughput       Throughput       `json:"throughput" yaml:"throughput"`
	StatusCodes      map[string]int64 `json:"statusCodes" yaml:"statusCodes"`

	PodDistribution   map[string]int64 `json:"podDistribution,omitempty" yaml:"podDistribution,omitempty"`
	DistributionRatio float64          `json:"distributionRatio,omitempty" yaml:"distributionRatio,omitempty"`

	TimeSeries []TimeSeriesPoint `json:"timeSeries" yaml:"timeSeries"`
}

// LastPoint returns the final time-series point, if any.
func (r *RunReport) LastPoint() (TimeSeriesPoint, bool) {
	if len(r.TimeSeries) == 0 {
		return TimeSeriesPoint{}, false
	}
	return r.TimeSeries[len(r.TimeSeries)-1], true
}

// distributionRatio returns max/min over the pod counts, or 0 when fewer
// than two pods were seen.
func distributionRatio(pods map[string]int64) float64 {
	if len(pods) < 2 {
		return 0
	}
	var lo, hi int64 = -1, 0
	for _, c := range pods {
		if lo < 0 || c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	if lo <= 0 {
		return 0
	}
	return float64(hi) / float64(lo)
}
