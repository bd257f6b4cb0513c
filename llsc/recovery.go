package llsc

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/log"

	"github.com/onesided/raa/ballot"
	"github.com/onesided/raa/memory"
	"github.com/onesided/raa/quorum"
	"github.com/onesided/raa/transport"
)

// Coordinator periodically sweeps every requester's recovery-request
// mailbox, resolving any pending Store-Conditional that only partially
// succeeded its fast path: it reads the slot from every replica, picks the
// highest-ballot record present (or the first non-empty one if none has a
// ballot yet), rewrites every replica with that value under a fresh
// coordinator ballot, and notifies the requester of the outcome.
type Coordinator struct {
	tr  transport.Transport
	log log.Logger
}

// NewCoordinator builds a Coordinator that sweeps using tr. Only the node
// configured as the LL/SC coordinator should run this.
func NewCoordinator(tr transport.Transport, logger log.Logger) *Coordinator {
	return &Coordinator{tr: tr, log: logger}
}

// Run sweeps pending recovery requests every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce(ctx)
		}
	}
}

func (c *Coordinator) sweepOnce(ctx context.Context) {
	n := c.tr.Local().NumRecoveryReqs()
	for j := 0; j < n; j++ {
		req := c.tr.Local().RecoveryReqRead(j)
		if req.ThreadID == 0 {
			continue
		}
		if err := c.resolve(ctx, j, req); err != nil {
			c.log.Warn("llsc: recovery resolution failed", "requester", j, "slot", req.Slot, "err", err)
			continue
		}
		c.tr.Local().RecoveryReqClear(j)
	}
}

func (c *Coordinator) resolve(ctx context.Context, requesterIdx int, req memory.RecoveryReq) error {
	slot := uint64(req.Slot)
	self := c.tr.Self()
	n := c.tr.NumPeers()

	reads := make(map[uint16]memory.LLSCSlot, n)
	reads[self] = c.tr.Local().LLSCSlotLoad(slot)

	seq := transport.NextSeq()
	pending := 0
	for id := uint16(0); int(id) < n; id++ {
		if id == self {
			continue
		}
		tag := transport.CompletionTag{Kind: transport.OpRead, Target: transport.TargetLLSCSlotPair, Peer: id, Slot: slot, Seq: seq}
		if err := c.tr.PostRead(ctx, transport.CoordinatorCQ, id, transport.TargetLLSCSlotPair, slot, tag); err != nil {
			return err
		}
		pending++
	}
	for pending > 0 {
		completions, err := c.tr.Poll(ctx, transport.CoordinatorCQ, pending)
		if err != nil {
			return err
		}
		for _, comp := range completions {
			if comp.Tag.Seq != seq {
				continue
			}
			pending--
			if comp.Status == transport.StatusSuccess {
				reads[comp.Tag.Peer] = memory.NewLLSCSlot(comp.Pair[0], comp.Pair[1])
			}
		}
	}
	if len(reads) < quorum.Classic(n) {
		return fmt.Errorf("llsc: only %d of %d replicas readable, need %d", len(reads), n, quorum.Classic(n))
	}

	var chosen memory.LLSCSlot
	var highestBallot uint64
	for _, s := range reads {
		if s.Ballot() > highestBallot {
			highestBallot = s.Ballot()
			chosen = s
		}
	}
	if chosen.Ballot() == 0 {
		for _, s := range reads {
			if s.Value() != 0 {
				chosen = s
				break
			}
		}
	}

	coordBallot := ballot.Generate(self)
	final := memory.NewLLSCSlot(coordBallot, chosen.Value())

	writeSeq := transport.NextSeq()
	c.tr.Local().LLSCSlotWrite(slot, final)
	for id := uint16(0); int(id) < n; id++ {
		if id == self {
			continue
		}
		tag := transport.CompletionTag{Kind: transport.OpWrite, Target: transport.TargetLLSCSlotPair, Peer: id, Slot: slot, Seq: writeSeq}
		_ = c.tr.PostWrite(ctx, transport.CoordinatorCQ, id, transport.TargetLLSCSlotPair, slot, 0, [2]uint64{final.Ballot(), final.Value()}, tag)
	}

	var winnerThreadID uint32
	if chosen.Ballot() != 0 {
		winnerThreadID = uint32(ballot.Owner(chosen.Ballot())) + 1
	}
	resp := memory.RecoveryResp{ThreadID: winnerThreadID, Value: chosen.Value(), Ballot: final.Ballot(), Valid: 1}

	requesterID := uint16(requesterIdx)
	if requesterID == self {
		c.tr.Local().RecoveryRespWrite(resp)
		return nil
	}
	respTag := transport.CompletionTag{Kind: transport.OpWrite, Target: transport.TargetRecoveryResp, Peer: requesterID, Slot: slot, Seq: transport.NextSeq()}
	return c.tr.PostRecoveryRespWrite(ctx, transport.CoordinatorCQ, requesterID, resp, respTag)
}
