package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/steprate/internal/loadtest/config"
	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
	"github.com/wesleyorama2/steprate/internal/loadtest/rate"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatDuration(tt.duration)
			if result != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestFormatMillis(t *testing.T) {
	tests := []struct {
		ms       float64
		expected string
	}{
		{0, "0ms"},
		{0.5, "0.50ms"},
		{12.34, "12.3ms"},
		{1500, "1.50s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatMillis(tt.ms)
			if result != tt.expected {
				t.Errorf("formatMillis(%v) = %q, want %q", tt.ms, result, tt.expected)
			}
		})
	}
}

func TestFormatClock(t *testing.T) {
	if got := formatClock(90 * time.Second); got != "01:30" {
		t.Errorf("formatClock(90s) = %q, want 01:30", got)
	}
	if got := formatClock(0); got != "00:00" {
		t.Errorf("formatClock(0) = %q, want 00:00", got)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatNumber(tt.number)
			if result != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, result, tt.expected)
			}
		})
	}
}

func newTestConsole(buf *bytes.Buffer, quiet bool) *Console {
	return NewConsole(ConsoleConfig{Writer: buf, Quiet: quiet, NoColor: true})
}

func sampleReport() *metrics.RunReport {
	return &metrics.RunReport{
		RunID:              "run-1",
		Name:               "autoscaling check",
		DurationSeconds:    65,
		TotalRequests:      1000,
		SuccessRequests:    990,
		FailedRequests:     10,
		SuccessRatePercent: 99,
		ErrorRatePercent:   1,
		Latency:            metrics.LatencyStats{Count: 1000, Min: 1, Mean: 5, P50: 4, P90: 8, P95: 9, P99: 12, Max: 40},
		Throughput:         metrics.Throughput{MeanTPS: 15.4, MaxTPS: 21},
		StatusCodes:        map[string]int64{"200": 990, "timeout": 10},
		PodDistribution:    map[string]int64{"pod-a": 750, "pod-b": 250},
		DistributionRatio:  3,
		TimeSeries: []metrics.TimeSeriesPoint{
			{ElapsedMinutes: 1, TargetRate: 15, ObservedRate: 14.5, AvgLatencyMs: 5, P90LatencyMs: 8, SuccessRatePercent: 99},
		},
	}
}

func TestConsole_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintSummary(sampleReport())
	out := buf.String()

	for _, want := range []string{
		"autoscaling check - Completed ✓",
		"Total Reqs:    1,000",
		"Success Rate:  99.00%",
		"Max:       21 rps",
		"P90:       8.00ms",
		"timeout",
		"pod-a",
		"Ratio:    3.00 (uneven)",
		"Final Metrics:",
		"Observed:  14.5 rps",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("summary contains ANSI codes with colors disabled")
	}
}

func TestConsole_PrintSummaryEvenPods(t *testing.T) {
	report := sampleReport()
	report.PodDistribution = map[string]int64{"pod-a": 500, "pod-b": 500}
	report.DistributionRatio = 1

	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintSummary(report)

	if !strings.Contains(buf.String(), "(even)") {
		t.Errorf("summary missing even verdict\n%s", buf.String())
	}
}

func TestConsole_PrintSummaryNoData(t *testing.T) {
	report := &metrics.RunReport{Name: "empty", NoData: true, Interrupted: true}

	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintSummary(report)
	out := buf.String()

	if !strings.Contains(out, "No data") {
		t.Errorf("summary missing no-data notice\n%s", out)
	}
	if !strings.Contains(out, "Interrupted") {
		t.Errorf("summary missing interrupted status\n%s", out)
	}
	if strings.Contains(out, "Latency Distribution") {
		t.Error("summary printed latency for an empty run")
	}
}

func TestConsole_Quiet(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true)

	cfg := config.DefaultConfig()
	c.PrintPlan(cfg, rate.NewSchedule(10, time.Minute, 5), 10)
	c.PrintPoint(metrics.TimeSeriesPoint{ElapsedMinutes: 1})
	c.PrintTargetChange(10, 15)
	if buf.Len() != 0 {
		t.Fatalf("quiet console printed progress: %q", buf.String())
	}

	c.PrintSummary(sampleReport())
	if got := strings.TrimSpace(buf.String()); got != "requests=1000 success=99.0% p90=8.00ms maxTps=21" {
		t.Errorf("quiet summary = %q", got)
	}
}

func TestConsole_PrintPoint(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintPoint(metrics.TimeSeriesPoint{
		ElapsedMinutes:     1.5,
		TargetRate:         15,
		ObservedRate:       14.2,
		AvgLatencyMs:       12.5,
		P90LatencyMs:       20,
		SuccessRatePercent: 100,
		TotalRequests:      1234,
		ActiveWorkers:      15,
	})

	want := "[01:30] target 15.0 rps | observed 14.2 rps | avg 12.5ms | p90 20.0ms | success 100.0% | reqs 1,234 | workers 15\n"
	if buf.String() != want {
		t.Errorf("PrintPoint() = %q, want %q", buf.String(), want)
	}
}

func TestConsole_PrintPlanAndTargetChange(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false)

	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://svc:8080"
	cfg.DurationSeconds = 120
	schedule := rate.NewSchedule(10, time.Minute, 5)

	c.PrintPlan(cfg, schedule, 20)
	c.PrintTargetChange(10, 15)
	out := buf.String()

	for _, want := range []string{
		"Target:        http://svc:8080/ping",
		"Duration:      2m 00s",
		"Initial rate:  10.0 rps",
		"Step:          +5.0 rps every 1m 00s",
		"Final target:  20.0 rps (2 steps)",
		"Workers:       20 (max 500)",
		"target increased: 10 → 15",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}
