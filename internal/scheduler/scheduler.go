// Package scheduler dispatches (proof, iteration) work units to a fixed pool
// of workers.
//
// Two constraints hold at all times: at most Jobs units execute at once, and
// two iterations of the same proof never overlap. When every pending unit
// belongs to a proof that is already running, an idle worker sleeps until
// some proof's lock is released instead of blocking on one particular proof,
// so a slow proof never starves unrelated ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyluth/proofbench/internal/catalog"
	"github.com/dyluth/proofbench/internal/invoker"
	"github.com/dyluth/proofbench/internal/logging"
	"github.com/dyluth/proofbench/pkg/timing"
	"golang.org/x/sync/errgroup"
)

// Invoker runs one iteration of one proof and reports its elapsed time.
type Invoker interface {
	Invoke(ctx context.Context, proof catalog.Proof, iteration int) (time.Duration, error)
}

// Recorder durably stores a record. An error aborts the run.
type Recorder interface {
	Record(rec timing.TimingRecord) error
}

// Observer is notified of every record after it has been stored.
// Observer errors are logged and otherwise ignored.
type Observer func(ctx context.Context, rec timing.TimingRecord) error

// Options configures a Scheduler.
type Options struct {
	Jobs      int
	Logger    *slog.Logger
	Observers []Observer
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	Units          int
	Recorded       int
	LaunchFailures int
	Elapsed        time.Duration
}

// Complete reports whether every work unit produced a record.
func (s Summary) Complete() bool {
	return s.Recorded == s.Units
}

// Scheduler runs every proof for a number of iterations.
type Scheduler struct {
	invoker  Invoker
	recorder Recorder
	opts     Options
	logger   *slog.Logger
}

// New creates a scheduler.
func New(inv Invoker, rec Recorder, opts Options) (*Scheduler, error) {
	if inv == nil || rec == nil {
		return nil, fmt.Errorf("invoker and recorder are required")
	}
	if opts.Jobs < 1 {
		return nil, fmt.Errorf("jobs must be >= 1, got %d", opts.Jobs)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{invoker: inv, recorder: rec, opts: opts, logger: logger}, nil
}

// Run executes iterations × proofs work units and returns once each has
// produced a record, a record could not be stored, or ctx is cancelled.
// Launch failures are recorded and never abort the run.
func (s *Scheduler) Run(ctx context.Context, proofs []catalog.Proof, iterations int) (Summary, error) {
	if len(proofs) == 0 {
		return Summary{}, fmt.Errorf("no proofs to run")
	}
	if iterations < 1 {
		return Summary{}, fmt.Errorf("iterations must be >= 1, got %d", iterations)
	}

	byName := make(map[timing.ProofName]catalog.Proof, len(proofs))
	for _, p := range proofs {
		if _, dup := byName[p.Name]; dup {
			return Summary{}, fmt.Errorf("duplicate proof: %s", p.Name)
		}
		byName[p.Name] = p
	}

	names := catalog.Names(proofs)
	units := timing.WorkUnits(names, iterations)
	r := &run{
		Scheduler: s,
		proofs:    byName,
		queue:     newQueue(units, NewLockTable(names)),
		remaining: make(map[timing.ProofName]int, len(names)),
		summary:   Summary{Units: len(units)},
	}
	for _, n := range names {
		r.remaining[n] = iterations
	}

	s.logger.Info("starting run", "proofs", len(proofs), "iterations", iterations, "jobs", s.opts.Jobs, "units", len(units))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.opts.Jobs; w++ {
		worker := w
		g.Go(func() error {
			return r.work(gctx, worker)
		})
	}
	err := g.Wait()

	r.mu.Lock()
	summary := r.summary
	r.mu.Unlock()
	summary.Elapsed = time.Since(start)

	if err != nil {
		return summary, err
	}
	s.logger.Info("run complete", "recorded", summary.Recorded, "launch_failures", summary.LaunchFailures, "elapsed", summary.Elapsed)
	return summary, nil
}

// run holds the state of one Run call.
type run struct {
	*Scheduler
	proofs map[timing.ProofName]catalog.Proof
	queue  *queue

	mu             sync.Mutex
	remaining      map[timing.ProofName]int
	finishedProofs int
	summary        Summary
}

func (r *run) work(ctx context.Context, worker int) error {
	for {
		unit, ok, err := r.queue.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		r.logger.Debug("dispatching", "worker", worker, "proof", unit.Proof, "iteration", unit.Iteration)
		rec, err := r.execute(ctx, unit)
		if err != nil {
			r.queue.locks.Release(unit.Proof)
			return err
		}

		// Storing before releasing keeps a proof's records in iteration order.
		err = r.recorder.Record(rec)
		r.queue.locks.Release(unit.Proof)
		if err != nil {
			return err
		}

		r.completed(rec)
		for _, observe := range r.opts.Observers {
			if err := observe(ctx, rec); err != nil {
				r.logger.Warn("record observer failed", "proof", rec.Proof, "iteration", rec.Iteration, "error", err)
			}
		}
	}
}

// execute invokes one unit. It only returns an error when the run is being
// cancelled; launch failures become failure records.
func (r *run) execute(ctx context.Context, unit timing.WorkUnit) (timing.TimingRecord, error) {
	rec := timing.TimingRecord{
		Proof:     unit.Proof,
		Iteration: unit.Iteration,
		StartedAt: time.Now(),
	}

	elapsed, err := r.invoker.Invoke(ctx, r.proofs[unit.Proof], unit.Iteration)
	if err == nil {
		rec.Status = timing.StatusOK
		rec.Elapsed = elapsed
		r.logger.Info("iteration finished", "proof", unit.Proof, "iteration", unit.Iteration, "elapsed", elapsed)
		return rec, nil
	}

	if ctx.Err() != nil && !isLaunchError(err) {
		return rec, ctx.Err()
	}

	rec.Status = timing.StatusLaunchFailed
	rec.Error = err.Error()
	r.logger.Error("iteration failed to launch", "proof", unit.Proof, "iteration", unit.Iteration, "error", err)
	return rec, nil
}

func (r *run) completed(rec timing.TimingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.summary.Recorded++
	if !rec.OK() {
		r.summary.LaunchFailures++
	}
	r.remaining[rec.Proof]--
	if r.remaining[rec.Proof] == 0 {
		r.finishedProofs++
		r.logger.Info(fmt.Sprintf("COMPLETED [%d/%d] proofs", r.finishedProofs, len(r.remaining)), "proof", rec.Proof)
	}
}

func isLaunchError(err error) bool {
	var le *invoker.LaunchError
	return errors.As(err, &le)
}

// queue hands out pending units in submission order, skipping units whose
// proof is currently locked.
type queue struct {
	mu      sync.Mutex
	pending []timing.WorkUnit
	locks   *LockTable
}

func newQueue(units []timing.WorkUnit, locks *LockTable) *queue {
	return &queue{pending: units, locks: locks}
}

// next returns the earliest pending unit whose proof lock it acquired.
// ok is false once nothing is pending. When every pending unit's proof is
// locked it waits for a release.
func (q *queue) next(ctx context.Context) (unit timing.WorkUnit, ok bool, err error) {
	for {
		wake := q.locks.Changed()

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return timing.WorkUnit{}, false, nil
		}
		for i, u := range q.pending {
			if q.locks.TryAcquire(u.Proof) {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				q.mu.Unlock()
				return u, true, nil
			}
		}
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return timing.WorkUnit{}, false, ctx.Err()
		}
	}
}

// Len returns the number of units not yet dispatched.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
