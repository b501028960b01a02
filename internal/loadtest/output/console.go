// Package output renders step load test progress and results for operators
// and writes the run report to files.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/steprate/internal/loadtest/config"
	"github.com/wesleyorama2/steprate/internal/loadtest/metrics"
	"github.com/wesleyorama2/steprate/internal/loadtest/rate"
)

const (
	boxHorizontal = "━"
	ruleWidth     = 56

	// unevenRatio is the max/min pod ratio above which traffic is reported
	// as unevenly distributed.
	unevenRatio = 2.0
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// Console prints the run plan, one line per time-series point and the final
// summary. Methods may be called from several goroutines.
type Console struct {
	writer io.Writer
	scheme *ColorScheme
	quiet  bool

	mu sync.Mutex
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	scheme := NoColorScheme()
	switch {
	case cfg.NoColor:
	case cfg.ForceColors:
		scheme = ForcedColorScheme()
	case isTerminal(cfg.Writer) && supportsColors():
		scheme = ForcedColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		scheme: scheme,
		quiet:  cfg.Quiet,
	}
}

// PrintPlan prints the load plan before the run starts.
func (c *Console) PrintPlan(cfg *config.Config, schedule *rate.Schedule, workers int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	title := cfg.Name
	if title == "" {
		title = "Step load test"
	}

	c.rule()
	c.writeln(s.Title.Sprint(title))
	c.rule()
	c.writeln(fmt.Sprintf("Target:        %s", s.Value.Sprint(cfg.TargetURL())))
	c.writeln(fmt.Sprintf("Duration:      %s", s.Value.Sprint(formatDuration(cfg.Duration()))))
	c.writeln(fmt.Sprintf("Initial rate:  %s", s.Target.Sprint(formatRate(schedule.Initial()))))
	c.writeln(fmt.Sprintf("Step:          +%s every %s",
		s.Target.Sprint(formatRate(schedule.Step())),
		s.Value.Sprint(formatDuration(schedule.Interval()))))
	c.writeln(fmt.Sprintf("Final target:  %s (%d steps)",
		s.Target.Sprint(formatRate(schedule.Projected(cfg.Duration()))),
		schedule.Steps(cfg.Duration())))
	c.writeln(fmt.Sprintf("Workers:       %s (max %d)", s.Value.Sprint(workers), cfg.MaxWorkers))
	c.writeln(fmt.Sprintf("Timeout:       %s", s.Value.Sprint(formatDuration(time.Duration(cfg.Timeout)))))
	c.writeln("")
}

// PrintPoint prints one progress line. The values are exactly those of the
// appended time-series point.
func (c *Console) PrintPoint(p metrics.TimeSeriesPoint) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme
	elapsed := time.Duration(p.ElapsedMinutes * float64(time.Minute))
	c.writeln(fmt.Sprintf("[%s] target %s | observed %s | avg %s | p90 %s | success %s | reqs %s | workers %d",
		s.Dim.Sprint(formatClock(elapsed)),
		s.Target.Sprint(formatRate(p.TargetRate)),
		s.Value.Sprint(formatRate(p.ObservedRate)),
		s.Latency.Sprint(formatMillis(p.AvgLatencyMs)),
		s.Latency.Sprint(formatMillis(p.P90LatencyMs)),
		s.rateColor(p.SuccessRatePercent).Sprintf("%.1f%%", p.SuccessRatePercent),
		formatNumber(p.TotalRequests),
		p.ActiveWorkers))
}

// PrintTargetChange announces a schedule step.
func (c *Console) PrintTargetChange(from, to float64) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(c.scheme.Highlight.Sprintf("target increased: %s → %s", trimFloat(from), trimFloat(to)))
}

// PrintSummary prints the final report.
func (c *Console) PrintSummary(report *metrics.RunReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.scheme

	if c.quiet {
		c.writeln(fmt.Sprintf("requests=%d success=%.1f%% p90=%s maxTps=%d",
			report.TotalRequests,
			report.SuccessRatePercent,
			formatMillis(report.Latency.P90),
			report.Throughput.MaxTPS))
		return
	}

	status := s.Good.Sprint("Completed ✓")
	if report.Interrupted {
		status = s.Warn.Sprint("Interrupted")
	}
	name := report.Name
	if name == "" {
		name = "Step load test"
	}

	c.writeln("")
	c.rule()
	c.writeln(fmt.Sprintf("%s - %s", s.Title.Sprint(name), status))
	c.rule()
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", s.Dim.Sprint(report.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", s.Value.Sprint(formatDuration(secondsToDuration(report.DurationSeconds)))))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", s.Value.Sprint(formatNumber(report.TotalRequests))))

	if report.NoData {
		c.writeln("")
		c.writeln(s.Warn.Sprint("No data: no requests were recorded."))
		c.writeln("")
		return
	}

	c.writeln(fmt.Sprintf("Successful:    %s", s.Good.Sprint(formatNumber(report.SuccessRequests))))
	c.writeln(fmt.Sprintf("Failed:        %s", c.failureColor(report.FailedRequests).Sprint(formatNumber(report.FailedRequests))))
	c.writeln(fmt.Sprintf("Success Rate:  %s", s.rateColor(report.SuccessRatePercent).Sprintf("%.2f%%", report.SuccessRatePercent)))
	c.writeln(fmt.Sprintf("Error Rate:    %s", c.failureColor(report.FailedRequests).Sprintf("%.2f%%", report.ErrorRatePercent)))
	c.writeln("")

	c.writeln(s.Label.Sprint("Throughput:"))
	c.writeln(fmt.Sprintf("  Mean:      %s", formatRate(report.Throughput.MeanTPS)))
	c.writeln(fmt.Sprintf("  Max:       %d rps", report.Throughput.MaxTPS))
	c.writeln("")

	l := report.Latency
	c.writeln(s.Label.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %s", s.Latency.Sprint(formatMillis(l.Min))))
	c.writeln(fmt.Sprintf("  Mean:      %s", s.Latency.Sprint(formatMillis(l.Mean))))
	c.writeln(fmt.Sprintf("  StdDev:    %s", s.Latency.Sprint(formatMillis(l.StdDev))))
	c.writeln(fmt.Sprintf("  P50:       %s", s.Latency.Sprint(formatMillis(l.P50))))
	c.writeln(fmt.Sprintf("  P90:       %s", s.Latency.Sprint(formatMillis(l.P90))))
	c.writeln(fmt.Sprintf("  P95:       %s", s.Latency.Sprint(formatMillis(l.P95))))
	c.writeln(fmt.Sprintf("  P99:       %s", s.Latency.Sprint(formatMillis(l.P99))))
	c.writeln(fmt.Sprintf("  Max:       %s", s.Latency.Sprint(formatMillis(l.Max))))
	c.writeln("")

	c.writeln(s.Label.Sprint("Status Codes:"))
	for _, key := range sortedKeys(report.StatusCodes) {
		keyColor := s.Bad
		if key == "200" {
			keyColor = s.Good
		}
		c.writeln(fmt.Sprintf("  %-17s %s", keyColor.Sprint(key), formatNumber(report.StatusCodes[key])))
	}
	c.writeln("")

	if len(report.PodDistribution) > 0 {
		c.writeln(s.Label.Sprint("Pod Distribution:"))
		for _, pod := range sortedKeys(report.PodDistribution) {
			count := report.PodDistribution[pod]
			share := float64(count) / float64(report.TotalRequests) * 100
			c.writeln(fmt.Sprintf("  %-24s %s (%.1f%%)", pod, formatNumber(count), share))
		}
		if len(report.PodDistribution) > 1 {
			verdict := s.Good.Sprint("even")
			if report.DistributionRatio > unevenRatio {
				verdict = s.Warn.Sprint("uneven")
			}
			c.writeln(fmt.Sprintf("  Ratio:    %.2f (%s)", report.DistributionRatio, verdict))
		}
		c.writeln("")
	}

	if last, ok := report.LastPoint(); ok {
		c.writeln(s.Label.Sprint("Final Metrics:"))
		c.writeln(fmt.Sprintf("  Target:    %s", s.Target.Sprint(formatRate(last.TargetRate))))
		c.writeln(fmt.Sprintf("  Observed:  %s", s.Value.Sprint(formatRate(last.ObservedRate))))
		c.writeln(fmt.Sprintf("  Avg:       %s", s.Latency.Sprint(formatMillis(last.AvgLatencyMs))))
		c.writeln(fmt.Sprintf("  P90:       %s", s.Latency.Sprint(formatMillis(last.P90LatencyMs))))
		c.writeln("")
	}
}

func (c *Console) failureColor(failures int64) *color.Color {
	if failures == 0 {
		return c.scheme.Good
	}
	return c.scheme.Bad
}

func (c *Console) rule() {
	c.writeln(c.scheme.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth)))
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// Helper functions

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatClock formats elapsed time as mm:ss.
func formatClock(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// formatMillis formats a latency given in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0ms"
	case ms < 10:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 1000:
		return fmt.Sprintf("%.1fms", ms)
	default:
		return fmt.Sprintf("%.2fs", ms/1000)
	}
}

// formatRate formats a requests/second value.
func formatRate(r float64) string {
	return fmt.Sprintf("%.1f rps", r)
}

// trimFloat formats a float without trailing zeros.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var result strings.Builder
	result.WriteString(sign)
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
