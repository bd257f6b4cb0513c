// Package quorum computes the two thresholds the consensus engine decides
// against: the fast quorum used by the wait-free fast path, and the classic
// quorum used by the Paxos slow path and by LL/SC's Load-Link. It also
// provides a small response tally as a dedicated threshold type rather than
// ad hoc counting scattered through the engine.
package quorum

import "sync"

// Fast returns ⌈3N/4⌉, the number of successful sites required for the
// fast path (FAA/TAS broadcast-CAS and LL/SC Store-Conditional) to decide
// without a slow path. Any two fast quorums over N nodes share at least
// N/2 nodes, which is what makes the one-shot 0→v CAS race-free.
func Fast(n int) int {
	return (n*3 + 3) / 4
}

// Classic returns ⌊N/2⌋+1, the majority threshold used by the Paxos slow
// path's promise/accept counts and by LL/SC's Load-Link quorum read.
func Classic(n int) int {
	return n/2 + 1
}

// Result is a snapshot of a Tally at the moment it was read.
type Result struct {
	Achieved  bool
	Successes int
	Failures  int
	Threshold int
	Polled    int
}

// Tally accumulates success/failure votes from a round of one-sided
// operations against a threshold, so callers can early-exit a poll loop
// the moment the threshold is reached or becomes unreachable. Safe for
// concurrent use.
type Tally struct {
	mu        sync.Mutex
	threshold int
	total     int
	successes int
	failures  int
}

// NewTally returns a Tally that reaches Achieved once successes >=
// threshold, against a round of at most total participants.
func NewTally(threshold, total int) *Tally {
	return &Tally{threshold: threshold, total: total}
}

// RecordSuccess records one more successful site.
func (t *Tally) RecordSuccess() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes++
	return t.snapshot()
}

// RecordFailure records one more failed/unsuccessful site.
func (t *Tally) RecordFailure() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	return t.snapshot()
}

// Snapshot returns the current tally without mutating it.
func (t *Tally) Snapshot() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Tally) snapshot() Result {
	return Result{
		Achieved:  t.successes >= t.threshold,
		Successes: t.successes,
		Failures:  t.failures,
		Threshold: t.threshold,
		Polled:    t.successes + t.failures,
	}
}

// Unreachable reports whether the threshold can no longer be met even if
// every still-outstanding vote succeeds.
func (t *Tally) Unreachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	outstanding := t.total - t.successes - t.failures
	return t.successes+outstanding < t.threshold
}
