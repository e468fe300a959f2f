package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/proofbench/internal/catalog"
	"github.com/dyluth/proofbench/internal/invoker"
	"github.com/dyluth/proofbench/pkg/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type interval struct {
	unit       timing.WorkUnit
	start, end time.Time
}

// fakeInvoker sleeps for a per-proof duration and tracks concurrency.
type fakeInvoker struct {
	durations map[timing.ProofName]time.Duration
	missing   map[timing.ProofName]bool // always fail to launch

	mu          sync.Mutex
	running     int
	maxRunning  int
	perProof    map[timing.ProofName]int
	maxPerProof int
	intervals   []interval
}

func newFakeInvoker(durations map[timing.ProofName]time.Duration) *fakeInvoker {
	return &fakeInvoker{
		durations: durations,
		missing:   map[timing.ProofName]bool{},
		perProof:  map[timing.ProofName]int{},
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, proof catalog.Proof, iteration int) (time.Duration, error) {
	if f.missing[proof.Name] {
		return 0, &invoker.LaunchError{Proof: string(proof.Name), Iteration: iteration, Argv: []string{"missing"}, Err: errors.New("executable file not found")}
	}

	f.mu.Lock()
	f.running++
	f.perProof[proof.Name]++
	f.maxRunning = max(f.maxRunning, f.running)
	f.maxPerProof = max(f.maxPerProof, f.perProof[proof.Name])
	f.mu.Unlock()

	start := time.Now()
	var err error
	select {
	case <-time.After(f.durations[proof.Name]):
	case <-ctx.Done():
		err = ctx.Err()
	}
	end := time.Now()

	f.mu.Lock()
	f.running--
	f.perProof[proof.Name]--
	f.intervals = append(f.intervals, interval{timing.WorkUnit{Proof: proof.Name, Iteration: iteration}, start, end})
	f.mu.Unlock()

	return end.Sub(start), err
}

// memRecorder keeps records in memory and can be told to fail.
type memRecorder struct {
	mu      sync.Mutex
	records []timing.TimingRecord
	failAt  int // fail the n-th Record call (1-based); 0 = never
	calls   int
}

func (m *memRecorder) Record(rec timing.TimingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAt > 0 && m.calls == m.failAt {
		return errors.New("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecorder) byProof() map[timing.ProofName][]timing.TimingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[timing.ProofName][]timing.TimingRecord{}
	for _, r := range m.records {
		out[r.Proof] = append(out[r.Proof], r)
	}
	return out
}

func proofs(names ...string) []catalog.Proof {
	out := make([]catalog.Proof, len(names))
	for i, n := range names {
		out[i] = catalog.Proof{Name: timing.ProofName(n), Dir: "/proofs/" + n}
	}
	return out
}

func uniform(d time.Duration, names ...string) map[timing.ProofName]time.Duration {
	out := map[timing.ProofName]time.Duration{}
	for _, n := range names {
		out[timing.ProofName(n)] = d
	}
	return out
}

func newScheduler(t *testing.T, inv Invoker, rec Recorder, jobs int) *Scheduler {
	t.Helper()
	s, err := New(inv, rec, Options{Jobs: jobs})
	require.NoError(t, err)
	return s
}

func TestRun_CompletenessAndSerialization(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	inv := newFakeInvoker(uniform(20*time.Millisecond, names...))
	rec := &memRecorder{}

	summary, err := newScheduler(t, inv, rec, 3).Run(context.Background(), proofs(names...), 3)
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Units)
	assert.Equal(t, 12, summary.Recorded)
	assert.True(t, summary.Complete())
	assert.Zero(t, summary.LaunchFailures)

	// Exactly once per (proof, iteration)
	seen := map[timing.WorkUnit]int{}
	for _, r := range rec.records {
		seen[r.Unit()]++
		assert.Equal(t, timing.StatusOK, r.Status)
		assert.Greater(t, r.Elapsed, time.Duration(0))
	}
	assert.Len(t, seen, 12)
	for u, n := range seen {
		assert.Equal(t, 1, n, "unit %s recorded %d times", u, n)
	}

	// Never more than the job limit, never two iterations of one proof
	assert.LessOrEqual(t, inv.maxRunning, 3)
	assert.Equal(t, 1, inv.maxPerProof)

	byProof := map[timing.ProofName][]interval{}
	for _, iv := range inv.intervals {
		byProof[iv.unit.Proof] = append(byProof[iv.unit.Proof], iv)
	}
	for proof, ivs := range byProof {
		for i := range ivs {
			for j := i + 1; j < len(ivs); j++ {
				overlap := ivs[i].start.Before(ivs[j].end) && ivs[j].start.Before(ivs[i].end)
				assert.False(t, overlap, "%s iterations %d and %d overlap", proof, ivs[i].unit.Iteration, ivs[j].unit.Iteration)
			}
		}
	}
}

func TestRun_PreservesIterationOrderPerProof(t *testing.T) {
	names := []string{"a", "b", "c"}
	inv := newFakeInvoker(map[timing.ProofName]time.Duration{
		"a": 5 * time.Millisecond,
		"b": 15 * time.Millisecond,
		"c": 1 * time.Millisecond,
	})
	rec := &memRecorder{}

	_, err := newScheduler(t, inv, rec, 3).Run(context.Background(), proofs(names...), 5)
	require.NoError(t, err)

	for proof, records := range rec.byProof() {
		require.Len(t, records, 5)
		for i, r := range records {
			assert.Equal(t, i, r.Iteration, "proof %s out of order", proof)
		}
	}
}

func TestRun_PerProofSerializationDominates(t *testing.T) {
	// 3 proofs, 2 iterations, 3 jobs, 1 unit each: two units of wall time, not one.
	const unit = 150 * time.Millisecond
	names := []string{"a", "b", "c"}
	inv := newFakeInvoker(uniform(unit, names...))

	summary, err := newScheduler(t, inv, &memRecorder{}, 3).Run(context.Background(), proofs(names...), 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Elapsed, 2*unit)
	assert.Less(t, summary.Elapsed, 3*unit)
	assert.Equal(t, 3, inv.maxRunning)
}

func TestRun_SlowProofDoesNotStarveOthers(t *testing.T) {
	inv := newFakeInvoker(map[timing.ProofName]time.Duration{
		"a_slow": 200 * time.Millisecond,
		"b":      5 * time.Millisecond,
		"c":      5 * time.Millisecond,
	})
	rec := &memRecorder{}

	_, err := newScheduler(t, inv, rec, 2).Run(context.Background(), proofs("a_slow", "b", "c"), 3)
	require.NoError(t, err)

	// While a_slow#0 runs on one worker, the other drains b and c entirely.
	require.Len(t, rec.records, 9)
	firstSlow := -1
	for i, r := range rec.records {
		if r.Proof == "a_slow" {
			firstSlow = i
			break
		}
	}
	assert.Equal(t, 6, firstSlow, "b and c should finish before the first slow iteration")
}

func TestRun_LaunchErrorsAreRecordedNotFatal(t *testing.T) {
	inv := newFakeInvoker(uniform(10*time.Millisecond, "a", "b"))
	inv.missing["a"] = true
	rec := &memRecorder{}

	summary, err := newScheduler(t, inv, rec, 2).Run(context.Background(), proofs("a", "b"), 2)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Recorded)
	assert.Equal(t, 2, summary.LaunchFailures)
	assert.True(t, summary.Complete())

	byProof := rec.byProof()
	require.Len(t, byProof["a"], 2)
	for _, r := range byProof["a"] {
		assert.Equal(t, timing.StatusLaunchFailed, r.Status)
		assert.Contains(t, r.Error, "executable file not found")
	}
	require.Len(t, byProof["b"], 2)
	for _, r := range byProof["b"] {
		assert.True(t, r.OK())
	}
}

func TestRun_RecorderFailureAbortsRun(t *testing.T) {
	inv := newFakeInvoker(uniform(10*time.Millisecond, "a", "b", "c"))
	rec := &memRecorder{failAt: 2}

	summary, err := newScheduler(t, inv, rec, 1).Run(context.Background(), proofs("a", "b", "c"), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, summary.Recorded)
	assert.False(t, summary.Complete())
}

func TestRun_Cancellation(t *testing.T) {
	inv := newFakeInvoker(uniform(10*time.Second, "a", "b"))
	rec := &memRecorder{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	summary, err := newScheduler(t, inv, rec, 2).Run(ctx, proofs("a", "b"), 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, summary.Recorded)
	assert.Empty(t, rec.records)
}

func TestRun_Liveness(t *testing.T) {
	for _, nProofs := range []int{1, 2, 5} {
		for _, iterations := range []int{1, 3} {
			for _, jobs := range []int{1, 2, 8} {
				name := fmt.Sprintf("proofs=%d/N=%d/P=%d", nProofs, iterations, jobs)
				t.Run(name, func(t *testing.T) {
					var names []string
					for i := 0; i < nProofs; i++ {
						names = append(names, fmt.Sprintf("p%d", i))
					}
					inv := newFakeInvoker(uniform(time.Millisecond, names...))
					rec := &memRecorder{}

					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					summary, err := newScheduler(t, inv, rec, jobs).Run(ctx, proofs(names...), iterations)
					require.NoError(t, err)
					assert.Equal(t, nProofs*iterations, summary.Recorded)
					assert.LessOrEqual(t, inv.maxRunning, jobs)
					assert.Equal(t, 1, inv.maxPerProof)
				})
			}
		}
	}
}

func TestRun_Observers(t *testing.T) {
	inv := newFakeInvoker(uniform(time.Millisecond, "a", "b"))
	rec := &memRecorder{}

	var (
		mu       sync.Mutex
		observed []timing.WorkUnit
	)
	s, err := New(inv, rec, Options{
		Jobs: 2,
		Observers: []Observer{
			func(ctx context.Context, r timing.TimingRecord) error {
				mu.Lock()
				defer mu.Unlock()
				observed = append(observed, r.Unit())
				return nil
			},
			func(ctx context.Context, r timing.TimingRecord) error {
				return errors.New("redis down")
			},
		},
	})
	require.NoError(t, err)

	summary, err := s.Run(context.Background(), proofs("a", "b"), 2)
	require.NoError(t, err, "observer errors must not abort the run")
	assert.True(t, summary.Complete())
	assert.Len(t, observed, 4)
}

func TestRun_Validation(t *testing.T) {
	s := newScheduler(t, newFakeInvoker(nil), &memRecorder{}, 1)

	_, err := s.Run(context.Background(), nil, 1)
	assert.ErrorContains(t, err, "no proofs to run")

	_, err = s.Run(context.Background(), proofs("a"), 0)
	assert.ErrorContains(t, err, "iterations must be >= 1")

	_, err = s.Run(context.Background(), proofs("a", "a"), 1)
	assert.ErrorContains(t, err, "duplicate proof")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(newFakeInvoker(nil), &memRecorder{}, Options{Jobs: 0})
	assert.ErrorContains(t, err, "jobs must be >= 1")

	_, err = New(nil, &memRecorder{}, Options{Jobs: 1})
	assert.Error(t, err)
}

func TestQueue_SkipsLockedProofs(t *testing.T) {
	names := []timing.ProofName{"a", "b"}
	q := newQueue(timing.WorkUnits(names, 2), NewLockTable(names))
	ctx := context.Background()

	u, ok, err := q.next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, timing.WorkUnit{Proof: "a", Iteration: 0}, u)

	// a#1 is blocked behind a#0, so b#0 comes next
	u, ok, err = q.next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, timing.WorkUnit{Proof: "b", Iteration: 0}, u)
	assert.Equal(t, 2, q.Len())

	// Everything left is locked: next waits until a release
	got := make(chan timing.WorkUnit, 1)
	go func() {
		u, _, _ := q.next(ctx)
		got <- u
	}()
	select {
	case <-got:
		t.Fatal("next returned while all pending proofs were locked")
	case <-time.After(50 * time.Millisecond):
	}

	q.locks.Release("b")
	select {
	case u := <-got:
		assert.Equal(t, timing.WorkUnit{Proof: "b", Iteration: 1}, u)
	case <-time.After(time.Second):
		t.Fatal("next did not wake on release")
	}
}
