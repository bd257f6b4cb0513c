package llsc

import (
	"context"
	"runtime"
	"time"

	"github.com/onesided/raa/ballot"
	"github.com/onesided/raa/memory"
	"github.com/onesided/raa/quorum"
	"github.com/onesided/raa/transport"
)

// recoveryTimeout bounds how long a requester spins on its recovery-
// response mailbox before giving up, the Go-idiomatic analogue of the
// fixed iteration-count spin budget a busy-wait loop would otherwise use.
const recoveryTimeout = 5 * time.Second

// SCResult is the outcome of a Store-Conditional call.
type SCResult int

const (
	// SCCommitted means this node's value was committed at index.
	SCCommitted SCResult = iota
	// SCLost means some other writer's value was committed at index.
	SCLost
	// SCFailed means neither this fast-path round nor the recovery it
	// triggered could reach a decision (transport failure, recovery
	// timeout).
	SCFailed
)

// StoreConditional attempts to commit value at index, paired with a prior
// LoadLink at the same index. It first tries the fast path: a CAS on the
// slot's ballot field and a CAS advancing the frontier from index to
// index+1, broadcast in parallel to every replica. If a fast quorum of
// ballot-CAS-or-frontier-CAS successes is reached, the value is written to
// every replica that won the ballot CAS there and the call returns
// SCCommitted if this node's own local ballot CAS won, else SCLost.
// If no CAS succeeded at all, the call fails outright. Otherwise (partial
// success — at least one CAS won but fewer than a fast quorum) it falls
// through to coordinated recovery; recovered reports whether that happened.
func StoreConditional(ctx context.Context, tr transport.Transport, coordinator uint16, index uint32, value uint64) (result SCResult, recovered bool, err error) {
	self := tr.Self()
	n := tr.NumPeers()
	myBallot := ballot.Generate(self)
	slot := uint64(index)
	if slot >= tr.Local().NumLLSCSlots() {
		return SCFailed, false, nil
	}

	localBallotPre := tr.Local().LLSCBallotCAS(slot, 0, myBallot)
	localSlotWon := localBallotPre == 0
	if localSlotWon {
		tr.Local().LLSCValueStore(slot, value)
	}

	expectedFrontier := slot
	newFrontier := slot + 1
	localFrontierPre := tr.Local().FrontierCAS(expectedFrontier, newFrontier)
	localFrontierWon := localFrontierPre == expectedFrontier

	// Each CAS is one vote: the local slot and frontier CAS count the same
	// as their per-peer counterparts, so every site contributes up to two
	// successes toward the fast quorum.
	fastQuorum := quorum.Fast(n)
	successes := 0
	if localSlotWon {
		successes++
	}
	if localFrontierWon {
		successes++
	}

	remoteWonBallot := make(map[uint16]bool, n)

	seq := transport.NextSeq()
	pending := 0
	for id := uint16(0); int(id) < n; id++ {
		if id == self {
			continue
		}
		ballotTag := transport.CompletionTag{Kind: transport.OpCAS, Target: transport.TargetLLSCBallot, Peer: id, Slot: slot, Seq: seq}
		if err := tr.PostCAS(ctx, transport.ConsensusCQ, id, transport.TargetLLSCBallot, slot, 0, myBallot, ballotTag); err != nil {
			return SCFailed, false, err
		}
		pending++
		frontierTag := transport.CompletionTag{Kind: transport.OpCAS, Target: transport.TargetFrontier, Peer: id, Slot: slot, Seq: seq}
		if err := tr.PostCAS(ctx, transport.ConsensusCQ, id, transport.TargetFrontier, 0, expectedFrontier, newFrontier, frontierTag); err != nil {
			return SCFailed, false, err
		}
		pending++
	}

	// Drain every completion before deciding: the value-propagation step
	// below needs to know at exactly which peers the ballot CAS won, so an
	// early exit on reaching the quorum would leave winners unwritten.
	for pending > 0 {
		completions, perr := tr.Poll(ctx, transport.ConsensusCQ, pending)
		if perr != nil {
			return SCFailed, false, perr
		}
		for _, c := range completions {
			if c.Tag.Seq != seq {
				continue
			}
			pending--
			if c.Status != transport.StatusSuccess {
				continue
			}
			switch c.Tag.Target {
			case transport.TargetFrontier:
				if c.PreImage == expectedFrontier {
					successes++
				}
			case transport.TargetLLSCBallot:
				if c.PreImage == 0 {
					successes++
					remoteWonBallot[c.Tag.Peer] = true
				}
			}
		}
	}

	if successes >= fastQuorum {
		writeSeq := transport.NextSeq()
		for id := uint16(0); int(id) < n; id++ {
			if id == self || !remoteWonBallot[id] {
				continue
			}
			tag := transport.CompletionTag{Kind: transport.OpWrite, Target: transport.TargetLLSCValue, Peer: id, Slot: slot, Seq: writeSeq}
			_ = tr.PostWrite(ctx, transport.ConsensusCQ, id, transport.TargetLLSCValue, slot, value, [2]uint64{}, tag)
		}
		if localSlotWon {
			return SCCommitted, false, nil
		}
		return SCLost, false, nil
	}

	if successes == 0 {
		return SCFailed, false, nil
	}

	result, err = recoverSlot(ctx, tr, coordinator, uint32(slot), self)
	return result, true, err
}

// recoverSlot implements the requester side of coordinated recovery:
// notify the coordinator, then spin-wait on the local recovery-response
// mailbox.
func recoverSlot(ctx context.Context, tr transport.Transport, coordinator uint16, slot uint32, self uint16) (SCResult, error) {
	tr.Local().RecoveryRespClear()

	req := memory.RecoveryReq{ThreadID: uint32(self) + 1, Slot: slot}
	if coordinator == self {
		tr.Local().RecoveryReqWrite(int(self), req)
	} else {
		seq := transport.NextSeq()
		tag := transport.CompletionTag{Kind: transport.OpWrite, Target: transport.TargetRecoveryReq, Peer: coordinator, Slot: uint64(slot), Seq: seq}
		if err := tr.PostRecoveryReqWrite(ctx, transport.ConsensusCQ, coordinator, int(self), req, tag); err != nil {
			return SCFailed, err
		}
	delivery:
		for {
			completions, err := tr.Poll(ctx, transport.ConsensusCQ, 1)
			if err != nil {
				return SCFailed, err
			}
			for _, c := range completions {
				if c.Tag.Seq != seq {
					continue
				}
				if c.Status != transport.StatusSuccess {
					return SCFailed, nil
				}
				break delivery
			}
		}
	}

	deadline := time.Now().Add(recoveryTimeout)
	spins := 0
	for {
		select {
		case <-ctx.Done():
			return SCFailed, ctx.Err()
		default:
		}
		resp := tr.Local().RecoveryRespRead()
		if resp.Valid != 0 {
			tr.Local().RecoveryRespClear()
			if resp.ThreadID == req.ThreadID {
				return SCCommitted, nil
			}
			return SCLost, nil
		}
		if time.Now().After(deadline) {
			return SCFailed, nil
		}
		spins++
		if spins < 1000 {
			runtime.Gosched()
		} else {
			time.Sleep(time.Microsecond)
		}
	}
}
