// Package progress mirrors a benchmark run into Redis so it can be followed
// from another terminal or machine.
//
// # Overview
//
// The CSV written by the sink is the authoritative result of a run. This
// package is a best-effort side channel: the run metadata, every durable
// timing record and a final summary are copied into Redis and announced on a
// Pub/Sub channel. Losing Redis mid-run never affects the results file.
//
// # Redis Schema
//
// All keys and channels are namespaced by run ID (a UUID):
//
//	proofbench:runs                        ZSET of run IDs scored by start time (ms)
//	proofbench:{run_id}:meta               HASH of RunMeta fields
//	proofbench:{run_id}:records            LIST of JSON-encoded timing records
//	proofbench:{run_id}:record_events      Pub/Sub channel of JSON-encoded Events
//
// # Usage Example
//
//	client, err := progress.NewClient(&redis.Options{Addr: "localhost:6379"}, progress.NewRunID())
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	if err := client.StartRun(ctx, &progress.RunMeta{ProofsDir: dir, Proofs: 12, Iterations: 5, Jobs: 4}); err != nil {
//		return err
//	}
//	// after each durable record
//	_ = client.PublishRecord(ctx, rec)
//	// at the end
//	_ = client.FinishRun(ctx, progress.RunStatusFinished, recorded, failures)
package progress
