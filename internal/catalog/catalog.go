package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dyluth/proofbench/pkg/timing"
)

// DefaultMarker is the file whose presence makes a subdirectory a proof.
const DefaultMarker = "Makefile"

// Proof is a discovered proof: its name and the directory it lives in.
type Proof struct {
	Name timing.ProofName
	Dir  string
}

// DiscoveryError means no proofs could be enumerated. It is fatal: the run
// aborts before scheduling begins.
type DiscoveryError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proof discovery failed for %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("proof discovery failed for %s: %s", e.Path, e.Reason)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Discover returns every immediate subdirectory of dir that contains the
// marker file, sorted by name. Entries that cannot be inspected are skipped.
func Discover(dir, marker string) ([]Proof, error) {
	if marker == "" {
		marker = DefaultMarker
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, &DiscoveryError{Path: dir, Reason: "failed to resolve path", Err: err}
	}

	info, err := os.Stat(absDir)
	if err != nil {
		return nil, &DiscoveryError{Path: dir, Reason: "directory not accessible", Err: err}
	}
	if !info.IsDir() {
		return nil, &DiscoveryError{Path: dir, Reason: "not a directory"}
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, &DiscoveryError{Path: dir, Reason: "failed to read directory", Err: err}
	}

	var proofs []Proof
	for _, entry := range entries {
		proofDir := filepath.Join(absDir, entry.Name())
		// Follows symlinked proof directories.
		st, err := os.Stat(proofDir)
		if err != nil || !st.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(proofDir, marker)); err != nil {
			continue
		}
		proofs = append(proofs, Proof{Name: timing.ProofName(entry.Name()), Dir: proofDir})
	}

	if len(proofs) == 0 {
		return nil, &DiscoveryError{Path: dir, Reason: fmt.Sprintf("no subdirectory contains %s", marker)}
	}

	sort.Slice(proofs, func(i, j int) bool {
		return proofs[i].Name < proofs[j].Name
	})

	return proofs, nil
}

// Filter keeps the proofs whose name matches at least one glob pattern.
// No patterns means no filtering.
func Filter(proofs []Proof, patterns []string) ([]Proof, error) {
	if len(patterns) == 0 {
		return proofs, nil
	}

	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid proof pattern %q: %w", p, err)
		}
	}

	var kept []Proof
	for _, proof := range proofs {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, string(proof.Name)); ok {
				kept = append(kept, proof)
				break
			}
		}
	}

	if len(kept) == 0 {
		return nil, &DiscoveryError{Path: "--only", Reason: fmt.Sprintf("no proof matches %v", patterns)}
	}
	return kept, nil
}

// Names extracts the proof names, preserving order.
func Names(proofs []Proof) []timing.ProofName {
	names := make([]timing.ProofName, len(proofs))
	for i, p := range proofs {
		names[i] = p.Name
	}
	return names
}
