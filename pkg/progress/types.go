package progress

import (
	"fmt"

	"github.com/dyluth/proofbench/pkg/timing"
	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a mirrored run.
type RunStatus string

const (
	// RunStatusRunning means records are still being produced.
	RunStatusRunning RunStatus = "running"

	// RunStatusFinished means every work unit produced a record.
	RunStatusFinished RunStatus = "finished"

	// RunStatusInterrupted means the run was cancelled or aborted early.
	RunStatusInterrupted RunStatus = "interrupted"
)

// Validate checks that the status is one of the known values.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusFinished, RunStatusInterrupted:
		return nil
	default:
		return fmt.Errorf("invalid run status: %q", s)
	}
}

// Terminal reports whether no further records will follow.
func (s RunStatus) Terminal() bool {
	return s == RunStatusFinished || s == RunStatusInterrupted
}

// RunMeta describes one run. Totals are filled in by FinishRun.
type RunMeta struct {
	RunID          string    `json:"run_id"`
	ProofsDir      string    `json:"proofs_dir"`
	Output         string    `json:"output"`
	Host           string    `json:"host,omitempty"`
	Revision       string    `json:"revision,omitempty"`
	Proofs         int       `json:"proofs"`
	Iterations     int       `json:"iterations"`
	Jobs           int       `json:"jobs"`
	Status         RunStatus `json:"status"`
	StartedAtMs    int64     `json:"started_at_ms"`
	FinishedAtMs   int64     `json:"finished_at_ms,omitempty"`
	Recorded       int       `json:"recorded"`
	LaunchFailures int       `json:"launch_failures"`
}

// Units returns the number of work units the run was planned with.
func (m *RunMeta) Units() int {
	return m.Proofs * m.Iterations
}

// Validate performs structural checks.
func (m *RunMeta) Validate() error {
	if _, err := uuid.Parse(m.RunID); err != nil {
		return fmt.Errorf("run_id must be a valid UUID: %w", err)
	}
	if m.Proofs < 1 {
		return fmt.Errorf("proofs must be >= 1, got %d", m.Proofs)
	}
	if m.Iterations < 1 {
		return fmt.Errorf("iterations must be >= 1, got %d", m.Iterations)
	}
	if m.Jobs < 1 {
		return fmt.Errorf("jobs must be >= 1, got %d", m.Jobs)
	}
	return m.Status.Validate()
}

// EventType distinguishes messages on the record events channel.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventRecord      EventType = "record"
	EventRunFinished EventType = "run_finished"
)

// Event is one message on a run's record events channel.
// Record is set for record events, Run for run_started and run_finished.
type Event struct {
	Type   EventType            `json:"type"`
	Record *timing.TimingRecord `json:"record,omitempty"`
	Run    *RunMeta             `json:"run,omitempty"`
}

// NewRunID generates a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}
