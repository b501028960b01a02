// Command steprate-target runs a demo ping service to ramp load against.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/steprate/internal/target"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	defaults := target.DefaultConfig()

	var (
		addr     string
		podName  string
		logLevel string
		cfg      = defaults
	)

	cmd := &cobra.Command{
		Use:          "steprate-target",
		Short:        "Demo ping service for steprate",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger := logrus.New()
			logger.SetLevel(level)

			if podName == "" {
				podName = os.Getenv("POD_NAME")
			}
			if podName == "" {
				podName, _ = os.Hostname()
			}
			cfg.PodName = podName

			reg := prometheus.NewRegistry()
			mux := http.NewServeMux()
			mux.Handle("/", target.NewServer(cfg, reg, logger))
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				logger.WithFields(logrus.Fields{"addr": addr, "pod": podName}).Info("Target listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":9080", "Listen address")
	flags.StringVar(&podName, "pod-name", "", "Pod name reported in responses (default: $POD_NAME or hostname)")
	flags.Float64Var(&cfg.ErrorRate, "error-rate", defaults.ErrorRate, "Fraction of /ping requests answered with 500")
	flags.DurationVar(&cfg.MinLatency, "min-latency", defaults.MinLatency, "Minimum simulated processing time")
	flags.DurationVar(&cfg.MaxLatency, "max-latency", defaults.MaxLatency, "Maximum simulated processing time")
	flags.StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}
