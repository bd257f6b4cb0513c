// Package llsc implements the Load-Link/Store-Conditional protocol: a
// fast-quorum fast path for Store-Conditional, and coordinator-driven
// coordinated recovery when the fast path only partially succeeds.
package llsc

import (
	"context"

	"github.com/onesided/raa/quorum"
	"github.com/onesided/raa/transport"
)

// LoadLinkResult is what a successful Load-Link hands the caller to pair
// with its next Store-Conditional.
type LoadLinkResult struct {
	Index uint32
	Value uint64
}

// LoadLink reads this node's own frontier, issues parallel reads of every
// other replica's frontier, and returns the maximum observed index once a
// classic quorum (including itself) has responded, along with the
// register's current value: the record at the link point itself when a
// store has already planted a ballot there, otherwise the committed record
// just below it (0 when nothing has been committed yet). A successful
// Store-Conditional paired with this call therefore observes its unique
// predecessor in the register's total order.
func LoadLink(ctx context.Context, tr transport.Transport, maxSlots uint64) (LoadLinkResult, bool, error) {
	n := tr.NumPeers()
	self := tr.Self()
	localFrontier := tr.Local().FrontierLoad()

	quorumNeeded := quorum.Classic(n)
	frontiers := make(map[uint16]uint64, n)
	frontiers[self] = localFrontier
	successCount := 1

	seq := transport.NextSeq()
	pending := 0
	for id := uint16(0); int(id) < n; id++ {
		if id == self {
			continue
		}
		tag := transport.CompletionTag{Kind: transport.OpRead, Target: transport.TargetFrontier, Peer: id, Seq: seq}
		if err := tr.PostRead(ctx, transport.ConsensusCQ, id, transport.TargetFrontier, 0, tag); err != nil {
			return LoadLinkResult{}, false, err
		}
		pending++
	}

	for successCount < quorumNeeded && pending > 0 {
		completions, err := tr.Poll(ctx, transport.ConsensusCQ, pending)
		if err != nil {
			return LoadLinkResult{}, false, err
		}
		for _, c := range completions {
			if c.Tag.Seq != seq {
				continue
			}
			pending--
			if c.Status == transport.StatusSuccess {
				frontiers[c.Tag.Peer] = c.PreImage
				successCount++
			}
		}
	}

	if successCount < quorumNeeded {
		return LoadLinkResult{}, false, nil
	}

	maxIndex := localFrontier
	for _, v := range frontiers {
		if v > maxIndex {
			maxIndex = v
		}
	}

	var value uint64
	if maxIndex < maxSlots {
		slot := tr.Local().LLSCSlotLoad(maxIndex)
		switch {
		case slot.Ballot() != 0:
			value = slot.Value()
		case maxIndex > 0:
			if prev := tr.Local().LLSCSlotLoad(maxIndex - 1); prev.Ballot() != 0 {
				value = prev.Value()
			}
		}
	}

	return LoadLinkResult{Index: uint32(maxIndex), Value: value}, true, nil
}
