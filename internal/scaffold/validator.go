package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/proofbench/internal/config"
)

// CheckExisting returns an error naming every scaffold path that already
// exists in dir.
func CheckExisting(dir string) error {
	var existing []string

	if _, err := os.Stat(filepath.Join(dir, config.DefaultFile)); err == nil {
		existing = append(existing, config.DefaultFile)
	}
	if info, err := os.Stat(filepath.Join(dir, ExampleProofDir)); err == nil && info.IsDir() {
		existing = append(existing, ExampleProofDir+"/")
	}

	if len(existing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("workspace already initialized\n\nFound existing")
	if len(existing) == 1 {
		fmt.Fprintf(&b, ": %s\n", existing[0])
	} else {
		b.WriteString(" files:\n")
		for _, f := range existing {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	b.WriteString("\nUse 'proofbench init --force' to overwrite them")
	return fmt.Errorf("%s", b.String())
}
