package progress

import "fmt"

// Redis key pattern helpers
//
// Key pattern: proofbench:{run_id}:{entity}
// Channel pattern: proofbench:{run_id}:{event_type}_events

// RunsKey returns the Redis key for the index of all runs.
// Pattern: proofbench:runs
func RunsKey() string {
	return "proofbench:runs"
}

// MetaKey returns the Redis key for a run's metadata hash.
// Pattern: proofbench:{run_id}:meta
func MetaKey(runID string) string {
	return fmt.Sprintf("proofbench:%s:meta", runID)
}

// RecordsKey returns the Redis key for a run's list of timing records.
// Pattern: proofbench:{run_id}:records
func RecordsKey(runID string) string {
	return fmt.Sprintf("proofbench:%s:records", runID)
}

// RecordEventsChannel returns the Pub/Sub channel for a run's events.
// Pattern: proofbench:{run_id}:record_events
func RecordEventsChannel(runID string) string {
	return fmt.Sprintf("proofbench:%s:record_events", runID)
}
