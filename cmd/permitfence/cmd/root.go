// Package cmd provides the CLI commands for permitfence.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errRejected makes try-acquire exit with status 2 without printing an error
var errRejected = errors.New("permits not available within timeout")

var (
	cfgFile  string
	logLevel string
	traceOut bool
)

var rootCmd = &cobra.Command{
	Use:   "permitfence",
	Short: "permitfence - distributed rate limiter",
	Long: `permitfence drives rate limiters whose state is shared through Redis.

Every process pointed at the same Redis sees the same limits. Without a
store address the limiters live in this process only.

Configuration:
  Config is loaded from permitfence.yaml in the current directory,
  $HOME/.permitfence/, or /etc/permitfence/.

  Environment variables can override config values with the PERMITFENCE_ prefix.
  Example: PERMITFENCE_STORE_ADDR=localhost:6379

Commands:
  reserve      Reserve permits and print the wait
  acquire      Reserve permits and wait for them
  try-acquire  Acquire permits only if available within a timeout
  inspect      Print the stored permits of a key
  bench        Drive concurrent acquisitions against a key`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errRejected) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./permitfence.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&traceOut, "trace", false, "print OpenTelemetry spans to stdout")
}

func initConfig() {
	InitViper(cfgFile)
}
