// Command ddmfit fits the attentional drift-diffusion model to choice,
// response-time and fixation data.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/ddmfit/internal/monitoring"
	"github.com/banshee-data/ddmfit/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ddmfit",
		Short: "Fit the attentional drift-diffusion model",
		Long: `ddmfit computes trial likelihoods of the attentional drift-diffusion
model, searches parameter grids for the best fit, builds posteriors over
candidate models and simulates data from fitted parameters.

Settings come from an optional --config file (.json or .yaml); flags given
on the command line override it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
				monitoring.SetOutput(nil)
			} else {
				monitoring.SetOutput(cmd.ErrOrStderr())
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (.json, .yaml or .yml)")
	pf.String("expdata", "", "Trial data CSV")
	pf.String("fixations", "", "Fixation data CSV")
	pf.Int("workers", 0, "Worker goroutines (0 = one per CPU)")
	pf.Int("trials-per-subject", 0, "Trials sampled per subject (0 = all)")
	pf.String("parity", "all", "Trial ID parity to use: all, odd or even")
	pf.Uint64("seed", 1, "Random seed for trial sampling and simulation")
	pf.Float64("state-step", 0.1, "Spacing of the evidence grid")
	pf.Int("time-step", 1, "Milliseconds per propagation step")
	pf.Float64("barrier", 1, "Barrier height; the lower barrier is its negative")
	pf.Float64("decay", 0, "Barrier decay rate (0 = constant barriers)")
	pf.String("database", "ddmfit.db", "SQLite database for fit runs")
	pf.String("output-dir", "out", "Directory for reports")
	pf.Bool("json", false, "Output as JSON")
	pf.Bool("quiet", false, "Suppress diagnostic logging")
	pf.Bool("verbose", false, "Log a summary line for every propagated trial")
	pf.Bool("trace-steps", false, "With --verbose, log every propagation step")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newNLLCmd(),
		newFitCmd(),
		newPosteriorCmd(),
		newSimulateCmd(),
		newRunsCmd(),
		newMigrateCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				writeJSON(cmd, map[string]string{
					"version":    version.Version,
					"git_sha":    version.GitSHA,
					"build_time": version.BuildTime,
				})
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
