package transport

import (
	"fmt"
	"sync/atomic"
)

// OpKind distinguishes the one-sided atomic operations the transport
// carries, kept as its own small closed enum rather than a generic int.
type OpKind uint8

const (
	// OpCAS is a 64-bit compare-and-swap against a target word.
	OpCAS OpKind = iota
	// OpFAA is a 64-bit fetch-and-add against a target word.
	OpFAA
	// OpRead is a one-sided read of a target region.
	OpRead
	// OpWrite is a one-sided write into a target region.
	OpWrite
)

func (k OpKind) String() string {
	switch k {
	case OpCAS:
		return "CAS"
	case OpFAA:
		return "FAA"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Target identifies which word or record within a peer's Region an
// operation addresses, in place of a raw remote-address
// arithmetic (base address + offsetof(...) + index*sizeof(...)): the
// transport resolves a Target against the destination Region itself, so
// the engine never computes byte offsets.
type Target uint8

const (
	// TargetFrontier addresses the frontier word.
	TargetFrontier Target = iota
	// TargetFAASlot addresses one element of the FAA/TAS slot array.
	TargetFAASlot
	// TargetLLSCBallot addresses the ballot field of one LL/SC slot.
	TargetLLSCBallot
	// TargetLLSCValue addresses the value field of one LL/SC slot.
	TargetLLSCValue
	// TargetLLSCSlotPair addresses the full {ballot, value} pair of one
	// LL/SC slot, used only by READ (recovery) and WRITE (recovery, fast
	// path value propagation uses TargetLLSCValue).
	TargetLLSCSlotPair
	// TargetRecoveryReq addresses the coordinator's per-requester
	// recovery-request mailbox.
	TargetRecoveryReq
	// TargetRecoveryResp addresses a requester's single recovery-response
	// mailbox.
	TargetRecoveryResp
)

// CompletionTag replaces a bit-packed work-request id (slot, peer, opcode
// all folded into one uint64) with a small typed struct: a caller that
// posted the operation attaches whatever tag it likes, and gets the same
// tag back on the matching completion, so it never has to decode bit
// ranges to find out what a completion was for. Seq makes the tag unique
// across rounds: a round that exits its poll loop early can leave
// completions behind in the queue, and a later round against the same slot
// must be able to tell those stale completions from its own.
type CompletionTag struct {
	Kind   OpKind
	Target Target
	Peer   uint16
	Slot   uint64
	Seq    uint64
}

var seqCounter atomic.Uint64

// NextSeq returns a process-unique sequence number for tagging one round of
// posted operations.
func NextSeq() uint64 {
	return seqCounter.Add(1)
}

// Status is the outcome of a posted operation once it completes.
type Status uint8

const (
	// StatusSuccess means the operation was delivered and executed.
	StatusSuccess Status = iota
	// StatusError means the transport failed to deliver or execute the
	// operation (peer unreachable, connection reset, etc.); the affected
	// vote is treated as failed.
	StatusError
)

// Completion is what Poll returns for one finished operation.
type Completion struct {
	Tag CompletionTag
	// PreImage is the value the target word held immediately before this
	// operation applied (for CAS: the pre-image used to decide success;
	// for FAA: the pre-image, i.e. the caller's assigned value; for READ:
	// the value read). Unused for WRITE.
	PreImage uint64
	// Pair is populated instead of PreImage when Tag.Kind == OpRead and
	// the target is an LL/SC slot pair.
	Pair [2]uint64
	// Status reports whether the operation executed at all.
	Status Status
}
