package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dyluth/proofbench/pkg/timing"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when
// --config is not given.
const DefaultFile = "proofbench.yml"

const (
	// WorkdirInherit runs commands in the directory proofbench was started from.
	WorkdirInherit = "inherit"
	// WorkdirProof runs commands inside each proof's directory.
	WorkdirProof = "proof"
)

// Config represents the top-level proofbench.yml configuration
type Config struct {
	Version   string          `yaml:"version"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
	Measure   MeasureConfig   `yaml:"measure"`
	Run       RunConfig       `yaml:"run,omitempty"`
	Output    OutputConfig    `yaml:"output,omitempty"`
	Progress  *ProgressConfig `yaml:"progress,omitempty"`
}

// DiscoveryConfig controls how proof directories are recognised
type DiscoveryConfig struct {
	Marker string   `yaml:"marker,omitempty"` // File that marks a subdirectory as a proof (default: Makefile)
	Only   []string `yaml:"only,omitempty"`   // Glob patterns restricting which proofs run
}

// MeasureConfig describes the external command that is timed for each iteration.
// Arguments may contain {proof}, {dir} and {iteration} placeholders.
type MeasureConfig struct {
	Prepare         [][]string `yaml:"prepare,omitempty"` // Untimed steps run before each measured command
	Command         []string   `yaml:"command"`
	Workdir         string     `yaml:"workdir,omitempty"` // "inherit" (default) or "proof"
	Quiet           *bool      `yaml:"quiet,omitempty"`   // Discard tool stdout/stderr (default: true)
	Environment     []string   `yaml:"environment,omitempty"`
	KillOnInterrupt bool       `yaml:"kill_on_interrupt,omitempty"`
}

// RunConfig holds the scheduling parameters; command-line flags override them
type RunConfig struct {
	Iterations int `yaml:"iterations,omitempty"`
	Jobs       int `yaml:"jobs,omitempty"`
}

// OutputConfig controls the result file
type OutputConfig struct {
	Path          string `yaml:"path,omitempty"`
	FailureMarker string `yaml:"failure_marker,omitempty"` // Empty: failed iterations are left blank
}

// ProgressConfig enables mirroring records to Redis for `proofbench watch`
type ProgressConfig struct {
	RedisURL string `yaml:"redis_url"`
}

// Default returns the configuration used when no proofbench.yml exists.
// It reproduces the CBMC proof recipe: clean and build the goto binary
// untimed, then time `make result` inside the proof directory.
func Default() *Config {
	cfg := &Config{
		Version: "1.0",
		Measure: MeasureConfig{
			Prepare: [][]string{
				{"make", "veryclean"},
				{"make", "goto"},
			},
			Command: []string{"make", "result"},
			Workdir: WorkdirProof,
		},
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// IsQuiet reports whether tool output should be discarded.
func (m *MeasureConfig) IsQuiet() bool {
	return m.Quiet == nil || *m.Quiet
}

// Validate performs strict validation on the configuration and applies defaults
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Discovery.Marker == "" {
		c.Discovery.Marker = "Makefile"
	}
	if strings.ContainsRune(c.Discovery.Marker, os.PathSeparator) {
		return fmt.Errorf("discovery.marker must be a file name, got %q", c.Discovery.Marker)
	}

	if err := c.Measure.Validate(); err != nil {
		return err
	}

	if c.Run.Iterations == 0 {
		c.Run.Iterations = 1
	}
	if c.Run.Iterations < 0 {
		return fmt.Errorf("run.iterations must be >= 1, got %d", c.Run.Iterations)
	}
	if c.Run.Jobs == 0 {
		c.Run.Jobs = 1
	}
	if c.Run.Jobs < 0 {
		return fmt.Errorf("run.jobs must be >= 1, got %d", c.Run.Jobs)
	}

	if c.Output.Path == "" {
		c.Output.Path = "results.csv"
	}
	if err := timing.ValidateMarker(c.Output.FailureMarker); err != nil {
		return fmt.Errorf("output.failure_marker: %w", err)
	}

	if c.Progress != nil && c.Progress.RedisURL == "" {
		return fmt.Errorf("progress.redis_url is required when progress is configured")
	}

	return nil
}

// Validate checks the measured command and its preparation steps
func (m *MeasureConfig) Validate() error {
	if len(m.Command) == 0 || m.Command[0] == "" {
		return fmt.Errorf("measure.command is required")
	}

	for i, step := range m.Prepare {
		if len(step) == 0 || step[0] == "" {
			return fmt.Errorf("measure.prepare[%d]: command is empty", i)
		}
	}

	if m.Workdir == "" {
		m.Workdir = WorkdirInherit
	}
	if m.Workdir != WorkdirInherit && m.Workdir != WorkdirProof {
		return fmt.Errorf("invalid measure.workdir: %s (must be '%s' or '%s')", m.Workdir, WorkdirInherit, WorkdirProof)
	}

	for _, kv := range m.Environment {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("invalid measure.environment entry %q (expected KEY=VALUE)", kv)
		}
	}

	return nil
}

// Load reads and validates proofbench.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates configuration bytes. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path if it exists. A missing file falls back to
// Default unless the path was explicitly requested.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}
