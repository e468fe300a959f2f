// Package sink persists timing records as a CSV matrix with one row per proof.
//
// The output file is replaced atomically after every record, so an
// interrupted run always leaves a well-formed file holding every record that
// was acknowledged before the interruption.
package sink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dyluth/proofbench/pkg/timing"
)

// WriteError reports a failure to persist results. It is always fatal to a run.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to %s results file %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Options configures how records are rendered.
type Options struct {
	// FailureMarker is written in place of a duration for a unit that could
	// not be launched. Empty leaves the cell blank.
	FailureMarker string
}

// Sink is the durable record store for one run. It is safe for concurrent use.
type Sink struct {
	path   string
	order  []timing.ProofName
	known  map[timing.ProofName]bool
	marker string

	mu     sync.Mutex
	matrix *timing.Matrix
	closed bool
}

// Open prepares path to receive the results for proofs, in that row order.
// An existing file at path is replaced with an empty result set.
func Open(path string, proofs []timing.ProofName, opts Options) (*Sink, error) {
	if err := timing.ValidateMarker(opts.FailureMarker); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &WriteError{Path: path, Op: "resolve", Err: err}
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return nil, &WriteError{Path: abs, Op: "open", Err: fmt.Errorf("is a directory")}
	}

	s := &Sink{
		path:   abs,
		order:  append([]timing.ProofName(nil), proofs...),
		known:  make(map[timing.ProofName]bool, len(proofs)),
		marker: opts.FailureMarker,
		matrix: timing.NewMatrix(),
	}
	for _, p := range proofs {
		s.known[p] = true
	}

	// Writing the empty matrix up front surfaces an unwritable location
	// before any proof is run.
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the absolute path of the results file.
func (s *Sink) Path() string {
	return s.path
}

// Record appends rec to its proof's row and returns once the updated file
// is durable on disk.
func (s *Sink) Record(rec timing.TimingRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &WriteError{Path: s.path, Op: "record to", Err: fmt.Errorf("sink is closed")}
	}
	if !s.known[rec.Proof] {
		return fmt.Errorf("record for unknown proof: %s", rec.Proof)
	}

	s.matrix.Append(rec.Proof, timing.CellFromRecord(rec))
	return s.flush()
}

// Matrix returns a snapshot of everything recorded so far.
func (s *Sink) Matrix() *timing.Matrix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matrix.Clone()
}

// Close stops accepting records. The file on disk is already complete.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// flush replaces the results file with the current matrix. Callers hold mu
// (or own s exclusively).
func (s *Sink) flush() error {
	var buf bytes.Buffer
	if err := timing.WriteMatrix(&buf, s.matrix, s.order, s.marker); err != nil {
		return &WriteError{Path: s.path, Op: "encode", Err: err}
	}
	return writeAtomic(s.path, buf.Bytes())
}

// writeAtomic writes data to a temporary file next to path, syncs it and
// renames it over path. Readers see either the old or the new content.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &WriteError{Path: path, Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &WriteError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return &WriteError{Path: path, Op: "chmod", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &WriteError{Path: path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &WriteError{Path: path, Op: "replace", Err: err}
	}
	committed = true

	return syncDir(dir, path)
}

func syncDir(dir, path string) error {
	d, err := os.Open(dir)
	if err != nil {
		return &WriteError{Path: path, Op: "open directory of", Err: err}
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return &WriteError{Path: path, Op: "sync directory of", Err: err}
	}
	return nil
}
