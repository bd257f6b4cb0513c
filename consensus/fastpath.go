package consensus

import (
	"context"

	"github.com/onesided/raa/quorum"
	"github.com/onesided/raa/transport"
)

// BroadcastCAS implements the fast path shared by slot allocation (swap is
// a freshly generated ballot) and test-and-set (swap is the constant 1): a
// local CAS on this node's own slot, a parallel CAS broadcast to every
// other replica, and a decision by fast quorum. Returns Won if the local
// CAS committed swap, Lost if quorum agrees some other writer got there
// first, or Indeterminate if fast quorum could not be reached either way.
func BroadcastCAS(ctx context.Context, tr transport.Transport, slot uint64, swap uint64) (Decision, error) {
	local := tr.Local().FAASlotCAS(slot, 0, swap)
	localWon := local == 0

	n := tr.NumPeers()
	fastQuorum := quorum.Fast(n)
	tally := quorum.NewTally(fastQuorum, n)
	if localWon {
		tally.RecordSuccess()
	} else {
		tally.RecordFailure()
	}

	self := tr.Self()
	seq := transport.NextSeq()
	pending := 0
	for id := uint16(0); int(id) < n; id++ {
		if id == self {
			continue
		}
		tag := transport.CompletionTag{Kind: transport.OpCAS, Target: transport.TargetFAASlot, Peer: id, Slot: slot, Seq: seq}
		if err := tr.PostCAS(ctx, transport.ConsensusCQ, id, transport.TargetFAASlot, slot, 0, swap, tag); err != nil {
			return Indeterminate, err
		}
		pending++
	}

	for pending > 0 {
		if r := tally.Snapshot(); r.Achieved || tally.Unreachable() {
			break
		}
		completions, err := tr.Poll(ctx, transport.ConsensusCQ, pending)
		if err != nil {
			return Indeterminate, err
		}
		for _, c := range completions {
			if c.Tag.Seq != seq {
				continue
			}
			pending--
			if c.Status == transport.StatusSuccess && c.PreImage == 0 {
				tally.RecordSuccess()
			} else {
				tally.RecordFailure()
			}
		}
	}

	result := tally.Snapshot()
	if result.Achieved {
		if localWon {
			return Won, nil
		}
		return Lost, nil
	}
	return Indeterminate, nil
}
