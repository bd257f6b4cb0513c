// Package frontier implements monotonic slot allocation via one-sided
// fetch-and-add against the designated frontier node's counter.
package frontier

import (
	"context"
	"math"

	"github.com/onesided/raa/transport"
)

// Failed is the sentinel slot number returned when the transport could not
// complete the FAA at all (as opposed to completing it and discovering the
// cluster is out of slot space, which is reported by the caller comparing
// the returned slot against maxSlots).
const Failed = math.MaxUint64

// Allocator obtains slot numbers by issuing a one-sided fetch-and-add of 1
// against the frontier node's frontier word.
type Allocator struct {
	tr           transport.Transport
	frontierNode uint16
}

// New builds an Allocator that targets frontierNode's frontier word.
func New(tr transport.Transport, frontierNode uint16) *Allocator {
	return &Allocator{tr: tr, frontierNode: frontierNode}
}

// Next returns the slot number this call is assigned, or Failed if the
// transport could not deliver the FAA.
func (a *Allocator) Next(ctx context.Context) (uint64, error) {
	if a.frontierNode == a.tr.Self() {
		return a.tr.Local().FrontierFAA(1), nil
	}

	seq := transport.NextSeq()
	tag := transport.CompletionTag{Kind: transport.OpFAA, Target: transport.TargetFrontier, Peer: a.frontierNode, Seq: seq}
	if err := a.tr.PostFAA(ctx, transport.FrontierCQ, a.frontierNode, transport.TargetFrontier, 0, 1, tag); err != nil {
		return Failed, err
	}
	for {
		completions, err := a.tr.Poll(ctx, transport.FrontierCQ, 1)
		if err != nil {
			return Failed, err
		}
		for _, c := range completions {
			if c.Tag.Seq != seq {
				continue
			}
			if c.Status != transport.StatusSuccess {
				return Failed, nil
			}
			return c.PreImage, nil
		}
	}
}
