// Command pipeline runs and inspects loan purchase pipeline runs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "pipeline",
		Short:         "Loan purchase rule-evaluation pipeline",
		Long:          "Evaluates a period's loan tapes against the reference grids, resolves a disposition per loan and archives the purchase artifacts.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default: config.toml in ., ./config or /app)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(flags))
	cmd.AddCommand(reconcileCmd(flags))
	cmd.AddCommand(runsCmd(flags))
	return cmd
}
