package timing

import (
	"fmt"
	"time"
)

// ProofName identifies a proof for the lifetime of a run.
type ProofName string

// Status describes how a work unit ended.
type Status string

const (
	// StatusOK means the external process was started and observed to exit.
	// Its exit code is deliberately not inspected.
	StatusOK Status = "ok"

	// StatusLaunchFailed means the external process could not be started.
	StatusLaunchFailed Status = "launch_failed"
)

// Validate checks that the status is one of the known values.
func (s Status) Validate() error {
	switch s {
	case StatusOK, StatusLaunchFailed:
		return nil
	default:
		return fmt.Errorf("invalid status: %q", s)
	}
}

// WorkUnit is one (proof, iteration) pair awaiting execution.
type WorkUnit struct {
	Proof     ProofName
	Iteration int
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("%s#%d", u.Proof, u.Iteration)
}

// TimingRecord is the outcome of executing exactly one WorkUnit.
// Elapsed is only meaningful when Status is StatusOK.
type TimingRecord struct {
	Proof     ProofName     `json:"proof"`
	Iteration int           `json:"iteration"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// Unit returns the work unit this record belongs to.
func (r TimingRecord) Unit() WorkUnit {
	return WorkUnit{Proof: r.Proof, Iteration: r.Iteration}
}

// OK reports whether the record carries a usable duration.
func (r TimingRecord) OK() bool {
	return r.Status == StatusOK
}

// Validate performs basic structural checks.
func (r TimingRecord) Validate() error {
	if r.Proof == "" {
		return fmt.Errorf("proof name is required")
	}
	if r.Iteration < 0 {
		return fmt.Errorf("iteration must be >= 0, got %d", r.Iteration)
	}
	if err := r.Status.Validate(); err != nil {
		return err
	}
	if r.Elapsed < 0 {
		return fmt.Errorf("elapsed must be >= 0, got %s", r.Elapsed)
	}
	return nil
}

// WorkUnits generates the cross product of proofs and iterations in
// submission order: proof-major, iterations 0..n-1 for each proof.
func WorkUnits(proofs []ProofName, iterations int) []WorkUnit {
	if iterations <= 0 {
		return nil
	}
	units := make([]WorkUnit, 0, len(proofs)*iterations)
	for _, p := range proofs {
		for i := 0; i < iterations; i++ {
			units = append(units, WorkUnit{Proof: p, Iteration: i})
		}
	}
	return units
}
