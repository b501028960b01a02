package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "steprate",
		Short:   "A step-ramp load generator for autoscaling checks",
		Version: version,
		Long: `Steprate drives an HTTP endpoint with a request rate that rises in fixed
steps over time, records every outcome and reports how the service kept up:
observed versus target rate, latency percentiles, status codes and how the
traffic spread across pods.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.AddCommand(newRampCmd())

	return cmd
}

// Execute runs the root command. Cobra has already printed any error it
// returns. This is called by main.Main().
func Execute() error {
	return RootCmd.Execute()
}

// newLogger builds the run logger. Logs go to stderr so progress lines on
// stdout stay clean.
func newLogger(cmd *cobra.Command) (*logrus.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	if levelName == "" {
		levelName = "warn"
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(levelName))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
