package commands

import (
	"fmt"

	"github.com/dyluth/proofbench/internal/printer"
	"github.com/dyluth/proofbench/internal/summary"
	"github.com/dyluth/proofbench/pkg/timing"
	"github.com/spf13/cobra"
)

var (
	summaryFormat        string
	summaryFailureMarker string
)

var summaryCmd = &cobra.Command{
	Use:   "summary <results.csv>",
	Short: "Show per-proof statistics for a results file",
	Long: `Read a results file written by 'proofbench run' and print, for each
proof, the number of timed iterations, the number that failed to launch,
and the min, median, mean and max time with the coefficient of variation.

Output Formats:
  table - Aligned text table (durations in seconds)
  json  - JSON array (durations in nanoseconds)`,
	Args: cobra.ExactArgs(1),
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().StringVarP(&summaryFormat, "format", "f", "table", "Output format (table or json)")
	summaryCmd.Flags().StringVar(&summaryFailureMarker, "failure-marker", "", "Cell text that marks a failed iteration")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	if summaryFormat != "table" && summaryFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", summaryFormat),
			[]string{"Valid formats: table, json"},
		)
	}

	if err := timing.ValidateMarker(summaryFailureMarker); err != nil {
		return printer.Error("invalid --failure-marker", err.Error(), []string{"Use non-numeric text such as FAIL"})
	}

	m, err := summary.Load(args[0], summaryFailureMarker)
	if err != nil {
		return printer.Error("cannot read results", err.Error(), nil)
	}

	stats := summary.Compute(m)
	if summaryFormat == "json" {
		return summary.WriteJSON(printer.Stdout, stats)
	}
	return summary.WriteTable(printer.Stdout, stats)
}
