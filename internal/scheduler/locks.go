package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/proofbench/pkg/timing"
)

// LockTable holds one exclusive token per proof. Entries are created up
// front and never removed. Distinct proofs never contend with each other;
// waiters on the same proof are served in FIFO order.
//
// The scheduler dispatches through TryAcquire and Changed only; Acquire is
// the blocking form for callers that hold a single proof in hand.
type LockTable struct {
	mu      sync.Mutex
	locks   map[timing.ProofName]*proofLock
	changed chan struct{} // closed and replaced on every release
}

type proofLock struct {
	held    bool
	waiters []chan struct{} // closed when ownership is handed over
}

// NewLockTable creates a lock for each proof.
func NewLockTable(proofs []timing.ProofName) *LockTable {
	t := &LockTable{
		locks:   make(map[timing.ProofName]*proofLock, len(proofs)),
		changed: make(chan struct{}),
	}
	for _, p := range proofs {
		t.locks[p] = &proofLock{}
	}
	return t
}

func (t *LockTable) get(proof timing.ProofName) (*proofLock, error) {
	l, ok := t.locks[proof]
	if !ok {
		return nil, fmt.Errorf("unknown proof: %s", proof)
	}
	return l, nil
}

// Acquire blocks until the caller holds the proof's lock or ctx is done.
func (t *LockTable) Acquire(ctx context.Context, proof timing.ProofName) error {
	t.mu.Lock()
	l, err := t.get(proof)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !l.held && len(l.waiters) == 0 {
		l.held = true
		t.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	t.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		defer t.mu.Unlock()
		select {
		case <-ready:
			// Ownership was handed over while we gave up; pass it on.
			t.releaseLocked(l)
		default:
			for i, w := range l.waiters {
				if w == ready {
					l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
					break
				}
			}
		}
		return ctx.Err()
	}
}

// TryAcquire takes the proof's lock only if it is free and nobody is queued
// for it. It never blocks.
func (t *LockTable) TryAcquire(proof timing.ProofName) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.get(proof)
	if err != nil || l.held || len(l.waiters) > 0 {
		return false
	}
	l.held = true
	return true
}

// Release gives the lock to the oldest waiter, or frees it.
// Releasing a lock that is not held is a programming error and panics.
func (t *LockTable) Release(proof timing.ProofName) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.get(proof)
	if err != nil {
		panic(err)
	}
	if !l.held {
		panic(fmt.Sprintf("release of unheld lock: %s", proof))
	}
	t.releaseLocked(l)
}

func (t *LockTable) releaseLocked(l *proofLock) {
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next)
	} else {
		l.held = false
	}
	close(t.changed)
	t.changed = make(chan struct{})
}

// Changed returns a channel that is closed at the next Release.
// Fetch it before inspecting lock state to avoid missing a wake-up.
func (t *LockTable) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Held reports whether the proof's lock is currently held.
func (t *LockTable) Held(proof timing.ProofName) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, err := t.get(proof)
	return err == nil && l.held
}
