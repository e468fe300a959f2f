package commands

import (
	"os"
	"path/filepath"

	"github.com/dyluth/proofbench/internal/printer"
	"github.com/dyluth/proofbench/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	initForce bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter proofbench.yml and example proof",
	Long: `Create proofbench.yml with the standard CBMC recipe (make veryclean and
make goto untimed, make result timed) and an example proof under
proofs/example_proof.

Existing files are never overwritten unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to initialize")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(initDir, 0o755); err != nil {
		return printer.Error("cannot create directory", err.Error(), nil)
	}

	if initForce {
		if err := scaffold.CheckExisting(initDir); err != nil {
			printer.Warning("Overwriting existing proofbench files in %s\n", initDir)
		}
	}

	created, err := scaffold.Initialize(initDir, initForce)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Initialized proofbench workspace\n")
	printer.Info("\nCreated:\n")
	for _, path := range created {
		printer.Info("  ✓ %s\n", filepath.Join(initDir, path))
	}
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Edit proofbench.yml to match how your proofs are built\n")
	printer.Info("  2. proofbench list ./proofs\n")
	printer.Info("  3. proofbench run ./proofs -n 5 -j 4\n")
	return nil
}
