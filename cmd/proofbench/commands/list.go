package commands

import (
	"github.com/dyluth/proofbench/internal/config"
	"github.com/dyluth/proofbench/internal/printer"
	"github.com/spf13/cobra"
)

var (
	listConfigPath string
	listOnly       []string
	listPaths      bool
)

var listCmd = &cobra.Command{
	Use:   "list <proofs-dir>",
	Short: "List the proofs a run would time",
	Long: `List the proofs found under <proofs-dir>, in the order a run would
schedule them and write them to the results file.

Examples:
  proofbench list ./proofs
  proofbench list ./proofs --only 'aws_hash_*' --paths`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listConfigPath, "config", "c", config.DefaultFile, "Path to configuration file")
	listCmd.Flags().StringSliceVar(&listOnly, "only", nil, "Glob patterns selecting which proofs to list")
	listCmd.Flags().BoolVar(&listPaths, "paths", false, "Show each proof's directory")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(listConfigPath, cmd.Flags().Changed("config"))
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}
	if cmd.Flags().Changed("only") {
		cfg.Discovery.Only = listOnly
	}

	proofs, err := discover(args[0], cfg.Discovery)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if listPaths {
			printer.Info("%s\t%s\n", p.Name, p.Dir)
		} else {
			printer.Info("%s\n", p.Name)
		}
	}
	return nil
}
