// Package memory models the shared, remotely-addressable region every node
// pins and registers for one-sided access: the frontier counter, the
// FAA/TAS slot array, the LL/SC slot array, and the LL/SC recovery
// mailboxes. All hot fields are accessed exclusively through sync/atomic so
// that a local CAS/read/write and a remote one issued by a peer against the
// same word are mutually serializable, the same coherence a hardware atomic
// gives between a local and an RDMA-issued access to the same address.
package memory

import (
	"sync"
	"sync/atomic"
)

// LLSCSlot is the packed {ballot, value} pair the LL/SC engine CASes on.
// Ballot is the CAS target; Value is written only after a winning ballot
// CAS, by the winner (fast path) or by the coordinator (recovery).
type LLSCSlot struct {
	ballot uint64
	value  uint64
}

// RecoveryReq is a pending LL/SC recovery request, one slot per requester,
// written by the requester and cleared by the coordinator once serviced.
type RecoveryReq struct {
	// ThreadID is the requesting node's identity; zero means "no pending
	// request" (requesters store their node id plus one, so this sentinel
	// is unambiguous, see llsc.recoverSlot).
	ThreadID uint32
	Slot     uint32
}

// RecoveryResp is the coordinator's single-entry reply mailbox at each
// requester. Valid distinguishes "empty" from "decision deposited".
type RecoveryResp struct {
	ThreadID uint32
	Value    uint64
	Ballot   uint64
	Valid    uint32
}

// Region is one node's replicated shared memory: the frontier word, the
// FAA/TAS slot array, the LL/SC slot array, and (on the coordinator node
// only, logically) the recovery mailboxes. Every node allocates a Region of
// the same shape; only node 0's frontier is authoritative and only node
// 0's recovery-request mailboxes are ever swept, but all nodes carry
// storage for all of it so any node can serve as a remote CAS/read/write
// target.
type Region struct {
	frontier     uint64
	faaSlots     []uint64
	llscSlots    []LLSCSlot
	recoveryMu   sync.Mutex
	recoveryReqs []RecoveryReq
	recoveryResp RecoveryResp
}

// New allocates a Region sized for maxSlots slots and an n-node cluster
// (one recovery-request mailbox per peer).
func New(maxSlots uint64, n int) *Region {
	return &Region{
		faaSlots:     make([]uint64, maxSlots),
		llscSlots:    make([]LLSCSlot, maxSlots),
		recoveryReqs: make([]RecoveryReq, n),
	}
}

// --- Frontier ---

// FrontierLoad atomically reads the frontier word.
func (r *Region) FrontierLoad() uint64 {
	return atomic.LoadUint64(&r.frontier)
}

// FrontierCAS atomically compares-and-swaps the frontier word, returning
// the pre-image: the caller compares the returned pre-image against its
// own compare value to determine success.
func (r *Region) FrontierCAS(compare, swap uint64) uint64 {
	for {
		old := atomic.LoadUint64(&r.frontier)
		if old != compare {
			return old
		}
		if atomic.CompareAndSwapUint64(&r.frontier, compare, swap) {
			return old
		}
	}
}

// FrontierFAA atomically adds delta to the frontier word and returns the
// pre-image (the value the caller is meant to treat as "its" slot number,
// per the fetch-and-add contract callers rely on for slot allocation).
func (r *Region) FrontierFAA(delta uint64) uint64 {
	return atomic.AddUint64(&r.frontier, delta) - delta
}

// --- FAA/TAS slots ---

// FAASlotCAS atomically compares-and-swaps slot s of the FAA/TAS array,
// returning the pre-image.
func (r *Region) FAASlotCAS(s uint64, compare, swap uint64) uint64 {
	for {
		old := atomic.LoadUint64(&r.faaSlots[s])
		if old != compare {
			return old
		}
		if atomic.CompareAndSwapUint64(&r.faaSlots[s], compare, swap) {
			return old
		}
	}
}

// FAASlotLoad atomically reads slot s of the FAA/TAS array.
func (r *Region) FAASlotLoad(s uint64) uint64 {
	return atomic.LoadUint64(&r.faaSlots[s])
}

// NumFAASlots returns the capacity of the FAA/TAS slot array.
func (r *Region) NumFAASlots() uint64 {
	return uint64(len(r.faaSlots))
}

// --- LL/SC slots ---

// LLSCBallotCAS atomically compares-and-swaps the ballot field of slot s,
// returning the pre-image.
func (r *Region) LLSCBallotCAS(s uint64, compare, swap uint64) uint64 {
	slot := &r.llscSlots[s]
	for {
		old := atomic.LoadUint64(&slot.ballot)
		if old != compare {
			return old
		}
		if atomic.CompareAndSwapUint64(&slot.ballot, compare, swap) {
			return old
		}
	}
}

// LLSCBallotLoad atomically reads the ballot field of slot s.
func (r *Region) LLSCBallotLoad(s uint64) uint64 {
	return atomic.LoadUint64(&r.llscSlots[s].ballot)
}

// LLSCValueStore atomically writes the value field of slot s. This is a
// plain one-sided WRITE (no CAS), issued only by
// whoever just won the ballot CAS at that replica (fast path) or by the
// coordinator (recovery), so there is never a concurrent writer.
func (r *Region) LLSCValueStore(s uint64, value uint64) {
	atomic.StoreUint64(&r.llscSlots[s].value, value)
}

// LLSCValueLoad atomically reads the value field of slot s.
func (r *Region) LLSCValueLoad(s uint64) uint64 {
	return atomic.LoadUint64(&r.llscSlots[s].value)
}

// LLSCSlotLoad atomically reads both fields of slot s, ballot first, then
// value. The two loads are not a single atomic unit. On the fast path
// value is written only after ballot is committed non-zero; LLSCSlotWrite
// (recovery) stores value before ballot, so a load racing a recovery
// rewrite can return the new value with the old ballot.
func (r *Region) LLSCSlotLoad(s uint64) LLSCSlot {
	b := r.LLSCBallotLoad(s)
	v := r.LLSCValueLoad(s)
	return LLSCSlot{ballot: b, value: v}
}

// LLSCSlotWrite unconditionally overwrites slot s with final, used only by
// the coordinator during recovery, which is the sole party permitted to
// rewrite an already-non-zero ballot.
func (r *Region) LLSCSlotWrite(s uint64, final LLSCSlot) {
	atomic.StoreUint64(&r.llscSlots[s].value, final.value)
	atomic.StoreUint64(&r.llscSlots[s].ballot, final.ballot)
}

// Ballot returns the ballot field of an LLSCSlot snapshot.
func (s LLSCSlot) Ballot() uint64 { return s.ballot }

// Value returns the value field of an LLSCSlot snapshot.
func (s LLSCSlot) Value() uint64 { return s.value }

// NewLLSCSlot builds an LLSCSlot snapshot/value, used by tests and by the
// coordinator to construct a final record to write.
func NewLLSCSlot(ballot, value uint64) LLSCSlot {
	return LLSCSlot{ballot: ballot, value: value}
}

// NumLLSCSlots returns the capacity of the LL/SC slot array.
func (r *Region) NumLLSCSlots() uint64 {
	return uint64(len(r.llscSlots))
}

// --- Recovery mailboxes ---

// RecoveryReqWrite deposits a recovery request into requester j's mailbox
// slot on this (the coordinator's) region.
func (r *Region) RecoveryReqWrite(j int, req RecoveryReq) {
	r.recoveryMu.Lock()
	defer r.recoveryMu.Unlock()
	r.recoveryReqs[j] = req
}

// RecoveryReqRead reads (without clearing) the recovery-request mailbox for
// requester j.
func (r *Region) RecoveryReqRead(j int) RecoveryReq {
	r.recoveryMu.Lock()
	defer r.recoveryMu.Unlock()
	return r.recoveryReqs[j]
}

// RecoveryReqClear zeroes the recovery-request mailbox for requester j,
// marking it serviced.
func (r *Region) RecoveryReqClear(j int) {
	r.recoveryMu.Lock()
	defer r.recoveryMu.Unlock()
	r.recoveryReqs[j] = RecoveryReq{}
}

// NumRecoveryReqs returns the number of recovery-request mailbox slots.
func (r *Region) NumRecoveryReqs() int {
	return len(r.recoveryReqs)
}

// RecoveryRespWrite deposits a decision into this node's own single-entry
// recovery-response mailbox (called by the coordinator against the
// requester's region, or directly in the in-process transport).
func (r *Region) RecoveryRespWrite(resp RecoveryResp) {
	r.recoveryMu.Lock()
	defer r.recoveryMu.Unlock()
	r.recoveryResp = resp
}

// RecoveryRespRead reads this node's recovery-response mailbox.
func (r *Region) RecoveryRespRead() RecoveryResp {
	r.recoveryMu.Lock()
	defer r.recoveryMu.Unlock()
	return r.recoveryResp
}

// RecoveryRespClear empties this node's recovery-response mailbox, making
// it ready for the next Store-Conditional recovery round.
func (r *Region) RecoveryRespClear() {
	r.recoveryMu.Lock()
	defer r.recoveryMu.Unlock()
	r.recoveryResp = RecoveryResp{}
}
