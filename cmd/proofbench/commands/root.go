package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dyluth/proofbench/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	verbose bool
	noColor bool
)

// ErrInterrupted is returned when a run is stopped by SIGINT or SIGTERM.
var ErrInterrupted = errors.New("interrupted")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "proofbench",
	Short: "Time a suite of formal-verification proofs",
	Long: `proofbench measures how long each proof in a suite takes to check.

Every subdirectory of a proofs directory that contains a marker file
(Makefile by default) is a proof. Each proof is run a fixed number of
times, several proofs in parallel but never two iterations of the same
proof at once, and the wall-clock time of every iteration is written to
a CSV file as soon as it is known.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Cobra's own error printing is silenced;
// commands report failures through the printer package.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// ExitCode maps the error returned by Execute to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInterrupted):
		return 130
	default:
		return 1
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// newLogger builds the logger for the current invocation's flags.
func newLogger() *slog.Logger {
	return logging.New(os.Stderr, logging.Options{Verbose: verbose, NoColor: noColor})
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}
