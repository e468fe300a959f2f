// Package scaffold creates a starter proofbench workspace.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/proofbench/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ExampleProofDir is where the sample proof is created, relative to the
// workspace root.
var ExampleProofDir = filepath.Join("proofs", "example_proof")

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes proofbench.yml and an example proof into dir and returns
// the paths it created, relative to dir. With force, existing files are
// replaced; otherwise an existing workspace is an error.
func Initialize(dir string, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}

	files, err := templateFiles()
	if err != nil {
		return nil, err
	}

	created := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(f.Path), err)
		}
		if err := os.WriteFile(path, f.Content, f.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
		created = append(created, f.Path)
	}

	if _, err := config.Load(filepath.Join(dir, config.DefaultFile)); err != nil {
		return nil, fmt.Errorf("created %s is invalid: %w", config.DefaultFile, err)
	}
	return created, nil
}

func templateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/proofbench.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s template: %w", config.DefaultFile, err)
	}
	makefile, err := templatesFS.ReadFile("templates/Makefile.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read Makefile template: %w", err)
	}

	return []FileInfo{
		{Path: config.DefaultFile, Content: cfg, Permissions: 0o644},
		{Path: filepath.Join(ExampleProofDir, "Makefile"), Content: makefile, Permissions: 0o644},
	}, nil
}
