package consensus

import (
	"context"

	"github.com/onesided/raa/ballot"
	"github.com/onesided/raa/quorum"
	"github.com/onesided/raa/transport"
)

// SlowPath implements the classic-Paxos recovery round used when the fast
// path can't reach a decision: a prepare phase that reads every replica's
// current slot value, a short-circuit if a fast quorum of replicas already
// agree on one non-zero value, a promise count against this node's own
// ballot, and an accept phase that CASes the highest promised ballot (or,
// absent one, the caller's proposed) value into every replica whose
// prepare read succeeded.
//
// For FAA/TAS slots the "ballot" and the "committed value" are the same
// 64-bit word — a committed slot's value doubles as the Paxos ballot that
// committed it — so proposedValue and the generated ballot argument are
// often identical (slot allocation) or deliberately different (test-and-set
// proposes the constant 1 under a fresh ballot).
func SlowPath(ctx context.Context, tr transport.Transport, slot uint64, myBallot uint64, proposedValue uint64) (Decision, error) {
	n := tr.NumPeers()
	self := tr.Self()

	read := make(map[uint16]uint64, n)
	ok := make(map[uint16]bool, n)
	read[self] = tr.Local().FAASlotLoad(slot)
	ok[self] = true

	prepareSeq := transport.NextSeq()
	pending := 0
	for id := uint16(0); int(id) < n; id++ {
		if id == self {
			continue
		}
		tag := transport.CompletionTag{Kind: transport.OpRead, Target: transport.TargetFAASlot, Peer: id, Slot: slot, Seq: prepareSeq}
		if err := tr.PostRead(ctx, transport.ConsensusCQ, id, transport.TargetFAASlot, slot, tag); err != nil {
			return Indeterminate, err
		}
		pending++
	}
	for pending > 0 {
		completions, err := tr.Poll(ctx, transport.ConsensusCQ, pending)
		if err != nil {
			return Indeterminate, err
		}
		for _, c := range completions {
			if c.Tag.Seq != prepareSeq {
				continue
			}
			pending--
			if c.Status == transport.StatusSuccess {
				read[c.Tag.Peer] = c.PreImage
				ok[c.Tag.Peer] = true
			}
		}
	}

	fastQuorum := quorum.Fast(n)
	ballotCounts := map[uint64]int{}
	for id, v := range read {
		if ok[id] && v != 0 {
			ballotCounts[v]++
		}
	}
	for v, count := range ballotCounts {
		if count >= fastQuorum {
			if ballot.Owner(v) == self {
				return Won, nil
			}
			return Lost, nil
		}
	}

	classicQuorum := quorum.Classic(n)
	promises := 0
	var highestBallot, highestValue uint64
	for id, v := range read {
		if !ok[id] || myBallot < v {
			continue
		}
		promises++
		if v > highestBallot {
			highestBallot = v
			highestValue = v
		}
	}
	if promises < classicQuorum {
		return Indeterminate, nil
	}

	proposal := proposedValue
	if highestBallot > 0 {
		proposal = highestValue
	}

	ownExpected := read[self]
	localResult := tr.Local().FAASlotCAS(slot, ownExpected, proposal)
	accepts := 0
	if localResult == ownExpected {
		accepts++
	}

	acceptSeq := transport.NextSeq()
	pending = 0
	for id := uint16(0); int(id) < n; id++ {
		if id == self || !ok[id] {
			continue
		}
		tag := transport.CompletionTag{Kind: transport.OpCAS, Target: transport.TargetFAASlot, Peer: id, Slot: slot, Seq: acceptSeq}
		if err := tr.PostCAS(ctx, transport.ConsensusCQ, id, transport.TargetFAASlot, slot, read[id], proposal, tag); err != nil {
			return Indeterminate, err
		}
		pending++
	}
	for pending > 0 {
		completions, err := tr.Poll(ctx, transport.ConsensusCQ, pending)
		if err != nil {
			return Indeterminate, err
		}
		for _, c := range completions {
			if c.Tag.Seq != acceptSeq {
				continue
			}
			pending--
			if c.Status == transport.StatusSuccess && c.PreImage == read[c.Tag.Peer] {
				accepts++
			}
		}
	}

	if accepts >= classicQuorum {
		if ballot.Owner(proposal) == self {
			return Won, nil
		}
		return Lost, nil
	}
	return Indeterminate, nil
}
