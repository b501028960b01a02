package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/steprate/internal/loadtest/config"
	"github.com/wesleyorama2/steprate/internal/loadtest/engine"
	"github.com/wesleyorama2/steprate/internal/loadtest/output"
	"github.com/wesleyorama2/steprate/internal/loadtest/telemetry"
)

func newRampCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ramp",
		Short: "Run a step-ramp load test",
		Long: `Send GET requests to a target at a rate that starts at --initial-rate and
grows by --step-size every --step-interval until --duration elapses.

Config file mode:
  steprate ramp --config ramp.yaml

Flag mode:
  steprate ramp --url http://svc:9080 --path /ping \
    --duration 10m --initial-rate 100 --step-interval 1m --step-size 50

Flags that are set explicitly override values from the config file.
Ctrl-C stops the run early; the report is still produced.`,
		Args: cobra.NoArgs,
		RunE: runRamp,
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	flags.String("name", "", "Name of the run")
	flags.String("url", "", "Base URL of the target service")
	flags.String("path", config.DefaultPath, "Path requested on every probe")
	flags.String("duration", "600", "Run length (seconds or Go duration, e.g. 10m)")
	flags.Float64("initial-rate", 100, "Starting target rate in requests/second")
	flags.String("step-interval", "60", "Time between rate steps (seconds or Go duration)")
	flags.Float64("step-size", 50, "Requests/second added at each step")
	flags.Int("max-workers", 500, "Maximum concurrent senders (0 sends nothing)")
	flags.DurationP("timeout", "t", config.DefaultTimeout, "Request timeout")
	flags.String("response-schema", "", "JSON Schema file that 200 response bodies must satisfy")
	flags.StringP("output", "o", "", "Write the run report to this file")
	flags.String("format", "json", "Report format (json, yaml)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9100)")
	flags.BoolP("quiet", "q", false, "Disable progress output, show only a one-line summary")
	flags.Bool("no-color", false, "Disable colored output")

	return cmd
}

func runRamp(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	outputPath, _ := flags.GetString("output")
	formatName, _ := flags.GetString("format")
	metricsAddr, _ := flags.GetString("metrics-addr")
	quiet, _ := flags.GetBool("quiet")
	noColor, _ := flags.GetBool("no-color")

	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}
	if outputPath != "" && !flags.Changed("format") {
		format = output.FormatForPath(outputPath, format)
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   quiet,
		NoColor: noColor,
	})

	eng, err := engine.New(cfg, engine.Options{
		Logger:         logger,
		OnPoint:        console.PrintPoint,
		OnTargetChange: console.PrintTargetChange,
	})
	if err != nil {
		return err
	}

	console.PrintPlan(eng.Config(), eng.Schedule(), eng.Workers())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(telemetry.NewCollector(eng, time.Duration(cfg.Window)))

		metricsCtx, cancelMetrics := context.WithCancel(context.Background())
		defer cancelMetrics()
		go func() {
			if err := telemetry.Serve(metricsCtx, metricsAddr, reg, logger); err != nil {
				logger.WithError(err).Error("metrics endpoint unavailable")
			}
		}()
	}

	runErr := eng.Run(ctx)

	report, err := eng.Finalize()
	if err != nil {
		if runErr != nil {
			return fmt.Errorf("load test failed: %w", runErr)
		}
		return err
	}
	console.PrintSummary(report)

	if outputPath != "" {
		if err := output.WriteReportFile(outputPath, report, format); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outputPath)
		}
	}

	if runErr != nil {
		return fmt.Errorf("load test failed: %w", runErr)
	}
	return nil
}

// resolveConfig layers the config file (if any) over the defaults and then
// applies the flags the user set explicitly.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := config.DefaultConfig()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	}

	if flags.Changed("name") {
		cfg.Name, _ = flags.GetString("name")
	}
	if flags.Changed("url") {
		cfg.BaseURL, _ = flags.GetString("url")
	}
	if flags.Changed("path") {
		cfg.Path, _ = flags.GetString("path")
	}
	if flags.Changed("duration") {
		seconds, err := durationSecondsFlag(cmd, "duration")
		if err != nil {
			return nil, err
		}
		cfg.DurationSeconds = seconds
	}
	if flags.Changed("initial-rate") {
		cfg.InitialRate, _ = flags.GetFloat64("initial-rate")
	}
	if flags.Changed("step-interval") {
		seconds, err := durationSecondsFlag(cmd, "step-interval")
		if err != nil {
			return nil, err
		}
		cfg.StepIntervalSeconds = seconds
	}
	if flags.Changed("step-size") {
		cfg.StepSize, _ = flags.GetFloat64("step-size")
	}
	if flags.Changed("max-workers") {
		cfg.MaxWorkers, _ = flags.GetInt("max-workers")
	}
	if flags.Changed("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		cfg.Timeout = config.Duration(timeout)
	}
	if path, _ := flags.GetString("response-schema"); path != "" {
		schema, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read response schema: %w", err)
		}
		cfg.ResponseSchema = string(schema)
	}

	config.ApplyDefaults(cfg)
	return cfg, nil
}

// durationSecondsFlag reads a seconds-or-duration flag as whole seconds.
func durationSecondsFlag(cmd *cobra.Command, name string) (int, error) {
	raw, _ := cmd.Flags().GetString(name)
	d, err := config.ParseDurationString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", name, err)
	}
	if d%time.Second != 0 {
		return 0, fmt.Errorf("invalid --%s: %q is not a whole number of seconds", name, raw)
	}
	return int(d / time.Second), nil
}
