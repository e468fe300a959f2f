// Package watch follows a mirrored run from Redis and renders its progress.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/proofbench/pkg/progress"
	"github.com/dyluth/proofbench/pkg/timing"
)

// OutputFormat selects how events are rendered.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable text.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSON is one JSON event per line.
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a user-supplied format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// StreamProgress prints the run's metadata and every record already stored,
// then streams new records until the run finishes or ctx is cancelled.
//
// The subscription is opened before history is read, so a record published
// in between is seen twice and printed once.
func StreamProgress(ctx context.Context, client *progress.Client, format OutputFormat, w io.Writer) error {
	sub, err := client.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	meta, err := client.GetRun(ctx)
	if err != nil {
		if progress.IsNotFound(err) {
			return fmt.Errorf("run %s not found", client.RunID())
		}
		return err
	}

	history, err := client.Records(ctx)
	if err != nil {
		return err
	}

	out := &renderer{w: w, format: format, units: meta.Units(), seen: make(map[timing.WorkUnit]bool)}
	if err := out.event(&progress.Event{Type: progress.EventRunStarted, Run: meta}); err != nil {
		return err
	}
	for i := range history {
		if err := out.event(&progress.Event{Type: progress.EventRecord, Record: &history[i]}); err != nil {
			return err
		}
	}
	if meta.Status.Terminal() {
		return out.event(&progress.Event{Type: progress.EventRunFinished, Run: meta})
	}

	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription closed before run finished")
			}
			switch ev.Type {
			case progress.EventRunStarted:
				// Already printed from the stored metadata.
			case progress.EventRecord, progress.EventRunFinished:
				if err := out.event(ev); err != nil {
					return err
				}
				if ev.Type == progress.EventRunFinished {
					return nil
				}
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if format == OutputFormatDefault {
				fmt.Fprintf(w, "⚠️  %v\n", err)
			}
		}
	}
}

type renderer struct {
	w      io.Writer
	format OutputFormat
	units  int
	seen   map[timing.WorkUnit]bool
}

// event renders ev, skipping record events that were already rendered.
func (r *renderer) event(ev *progress.Event) error {
	if ev.Type == progress.EventRecord {
		if ev.Record == nil {
			return nil
		}
		unit := ev.Record.Unit()
		if r.seen[unit] {
			return nil
		}
		r.seen[unit] = true
	}

	if r.format == OutputFormatJSON {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(r.w, "%s\n", line)
		return err
	}

	_, err := io.WriteString(r.w, FormatEvent(ev, len(r.seen), r.units)+"\n")
	return err
}

// FormatEvent renders one event as a human-readable line. done is the number
// of records seen so far and units the planned total.
func FormatEvent(ev *progress.Event, done, units int) string {
	switch ev.Type {
	case progress.EventRunStarted:
		m := ev.Run
		source := m.ProofsDir
		if m.Revision != "" {
			source += " @ " + m.Revision
		}
		return fmt.Sprintf("▶ Run %s: %d proofs × %d iterations on %d jobs (%s)",
			m.RunID, m.Proofs, m.Iterations, m.Jobs, source)

	case progress.EventRecord:
		rec := ev.Record
		if rec.OK() {
			return fmt.Sprintf("[%d/%d] ✓ %s #%d finished after %s",
				done, units, rec.Proof, rec.Iteration, rec.Elapsed.Round(time.Millisecond))
		}
		return fmt.Sprintf("[%d/%d] ✗ %s #%d failed to launch: %s",
			done, units, rec.Proof, rec.Iteration, rec.Error)

	case progress.EventRunFinished:
		m := ev.Run
		line := fmt.Sprintf("■ Run %s: %d/%d records, %d launch failures", m.Status, m.Recorded, m.Units(), m.LaunchFailures)
		if m.FinishedAtMs > 0 && m.StartedAtMs > 0 {
			line += fmt.Sprintf(" in %s", time.Duration(m.FinishedAtMs-m.StartedAtMs)*time.Millisecond)
		}
		return line

	default:
		return fmt.Sprintf("? unknown event %q", ev.Type)
	}
}
