// Package transport provides the typed one-sided-atomic transport the
// consensus engine is built against: post a CAS/FAA/READ/WRITE against a
// named target on some peer's Region, then poll a completion queue for the
// result. Independent queues exist for consensus traffic, frontier
// allocation, and the recovery coordinator, so a slow-path burst on the
// consensus queue can never starve frontier allocation and the
// coordinator's sweep never races client operations for completions.
//
// The contract here is exactly what real RDMA verbs would deliver (a
// successful CAS completion carries the pre-image; success is determined
// by the caller comparing the pre-image to its own compare value), realized
// without any RDMA hardware or verbs binding. Two implementations satisfy
// Transport: InProc (same-process, direct Region access — used for tests
// and single-process cluster simulation) and TCP (cross-process, a
// persistent framed connection per peer — used for real deployment).
package transport

import (
	"context"

	"github.com/onesided/raa/memory"
)

// CQ names one of the three completion queues a Transport exposes.
type CQ int

const (
	// ConsensusCQ carries CAS/READ/WRITE completions for slot consensus
	// (both FAA/TAS and LL/SC) and LL/SC recovery mailbox traffic.
	ConsensusCQ CQ = iota
	// FrontierCQ carries FAA completions against the frontier word,
	// kept separate so slow-path bursts never delay slot allocation.
	FrontierCQ
	// CoordinatorCQ carries the recovery coordinator's own reads and
	// writes. The coordinator loop runs concurrently with this node's
	// client-facing operations, so it polls its own queue rather than
	// contending with them for ConsensusCQ completions.
	CoordinatorCQ
)

// Transport is the typed wrapper over the one-sided atomic operations the
// consensus engine consumes. All Post* calls are non-blocking: they
// enqueue work and return immediately, and their eventual outcome is
// delivered by Poll against the CQ named in the call. Completion order is
// unspecified; CompletionTag uniquely identifies the originating request.
type Transport interface {
	// PostCAS posts a 64-bit compare-and-swap of target on peer:
	// if the target currently holds compare, it is replaced with swap.
	// The completion's PreImage is the value the target held just before
	// this operation applied, regardless of whether the swap happened;
	// the caller determines success by comparing PreImage == compare.
	PostCAS(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, compare, swap uint64, tag CompletionTag) error

	// PostFAA posts a 64-bit fetch-and-add of delta against target on
	// peer. The completion's PreImage is the value before the add.
	PostFAA(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, delta uint64, tag CompletionTag) error

	// PostRead posts a one-sided read of target on peer. For
	// TargetLLSCSlotPair the completion's Pair holds {ballot, value};
	// for every other target the completion's PreImage holds the value.
	PostRead(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, tag CompletionTag) error

	// PostWrite posts a one-sided write of value into target on peer.
	// For TargetLLSCSlotPair, value is ignored and pair is written
	// instead (ballot, value).
	PostWrite(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, value uint64, pair [2]uint64, tag CompletionTag) error

	// PostRecoveryReqWrite posts a one-sided write of a recovery request
	// into the coordinator's per-requester mailbox slot requesterIdx.
	PostRecoveryReqWrite(ctx context.Context, cq CQ, peer uint16, requesterIdx int, req memory.RecoveryReq, tag CompletionTag) error

	// PostRecoveryRespWrite posts a one-sided write of a recovery
	// decision into a requester's single recovery-response mailbox.
	PostRecoveryRespWrite(ctx context.Context, cq CQ, peer uint16, resp memory.RecoveryResp, tag CompletionTag) error

	// Poll drains up to max completions from cq. It blocks until at least
	// one completion is ready or ctx is done; once one is ready it never
	// blocks waiting for more, and returns whatever else is already queued.
	Poll(ctx context.Context, cq CQ, max int) ([]Completion, error)

	// Local returns this node's own Region, for the purely local steps
	// the engine performs before broadcasting and for the coordinator's
	// own recovery-mailbox sweep.
	Local() *memory.Region

	// Self returns this node's own id within the cluster.
	Self() uint16

	// NumPeers returns the cluster size N.
	NumPeers() int

	// Close tears down all peer connections.
	Close() error
}
