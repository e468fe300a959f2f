package progress

import (
	"fmt"
	"strconv"
)

// Run metadata is stored as a flat Redis hash so individual fields (status,
// counters) can be read or updated without rewriting the whole document.

// MetaToHash converts RunMeta to a Redis hash.
func MetaToHash(m *RunMeta) map[string]interface{} {
	return map[string]interface{}{
		"run_id":          m.RunID,
		"proofs_dir":      m.ProofsDir,
		"output":          m.Output,
		"host":            m.Host,
		"revision":        m.Revision,
		"proofs":          m.Proofs,
		"iterations":      m.Iterations,
		"jobs":            m.Jobs,
		"status":          string(m.Status),
		"started_at_ms":   m.StartedAtMs,
		"finished_at_ms":  m.FinishedAtMs,
		"recorded":        m.Recorded,
		"launch_failures": m.LaunchFailures,
	}
}

// HashToMeta converts a Redis hash back to RunMeta.
func HashToMeta(hash map[string]string) (*RunMeta, error) {
	ints := map[string]*int{}
	m := &RunMeta{
		RunID:     hash["run_id"],
		ProofsDir: hash["proofs_dir"],
		Output:    hash["output"],
		Host:      hash["host"],
		Revision:  hash["revision"],
		Status:    RunStatus(hash["status"]),
	}
	ints["proofs"] = &m.Proofs
	ints["iterations"] = &m.Iterations
	ints["jobs"] = &m.Jobs
	ints["recorded"] = &m.Recorded
	ints["launch_failures"] = &m.LaunchFailures

	for field, dst := range ints {
		v, err := strconv.Atoi(hash[field])
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", field, err)
		}
		*dst = v
	}

	var err error
	if m.StartedAtMs, err = strconv.ParseInt(hash["started_at_ms"], 10, 64); err != nil {
		return nil, fmt.Errorf("invalid started_at_ms field: %w", err)
	}
	// Absent until the run finishes.
	m.FinishedAtMs, _ = strconv.ParseInt(hash["finished_at_ms"], 10, 64)

	if err := m.Status.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
