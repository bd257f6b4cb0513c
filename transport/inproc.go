package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/onesided/raa/memory"
)

// Cluster is a same-process group of Regions, one per simulated node,
// shared by every InProc Transport built against it. It exists so tests
// and single-process deployments can exercise the full multi-node
// consensus engine without sockets.
type Cluster struct {
	mu      sync.RWMutex
	regions map[uint16]*memory.Region
	down    map[uint16]bool
}

// NewCluster allocates n Regions, each sized for maxSlots slots.
func NewCluster(n int, maxSlots uint64) *Cluster {
	c := &Cluster{
		regions: make(map[uint16]*memory.Region, n),
		down:    make(map[uint16]bool),
	}
	for i := 0; i < n; i++ {
		c.regions[uint16(i)] = memory.New(maxSlots, n)
	}
	return c
}

// Region returns node id's Region.
func (c *Cluster) Region(id uint16) *memory.Region {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.regions[id]
}

// SetDown marks a node as unreachable (or clears that), so tests can
// exercise the transport-failure branches deterministically.
func (c *Cluster) SetDown(id uint16, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[id] = down
}

func (c *Cluster) isDown(id uint16) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.down[id]
}

// Transport builds the InProc Transport for node id against this cluster.
func (c *Cluster) Transport(id uint16) *InProc {
	return &InProc{
		cluster:     c,
		self:        id,
		consensus:   make(chan Completion, 4096),
		frontierCh:  make(chan Completion, 4096),
		coordinator: make(chan Completion, 4096),
	}
}

// InProc implements Transport by operating directly on Region instances
// shared in-process via Cluster. Posting resolves and applies the
// operation immediately (there is no real wire latency to model), then
// enqueues the completion for the next Poll call, which preserves the
// post/poll contract for callers written against the Transport interface.
type InProc struct {
	cluster     *Cluster
	self        uint16
	consensus   chan Completion
	frontierCh  chan Completion
	coordinator chan Completion
}

var _ Transport = (*InProc)(nil)

func (t *InProc) chanFor(cq CQ) chan Completion {
	switch cq {
	case FrontierCQ:
		return t.frontierCh
	case CoordinatorCQ:
		return t.coordinator
	default:
		return t.consensus
	}
}

func (t *InProc) deliver(cq CQ, c Completion) {
	ch := t.chanFor(cq)
	select {
	case ch <- c:
	default:
		// Completion queue overrun: a full hardware CQ has no backpressure
		// path either, so drop the oldest pending completion rather than
		// block the poster forever — a poster that can never complete
		// would wedge the node's whole retry loop.
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}

func (t *InProc) PostCAS(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, compare, swap uint64, tag CompletionTag) error {
	if t.cluster.isDown(peer) {
		t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		return nil
	}
	r := t.cluster.Region(peer)
	if r == nil {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	var pre uint64
	switch target {
	case TargetFrontier:
		pre = r.FrontierCAS(compare, swap)
	case TargetFAASlot:
		pre = r.FAASlotCAS(slot, compare, swap)
	case TargetLLSCBallot:
		pre = r.LLSCBallotCAS(slot, compare, swap)
	default:
		return fmt.Errorf("transport: CAS not supported on target %d", target)
	}
	t.deliver(cq, Completion{Tag: tag, PreImage: pre, Status: StatusSuccess})
	return nil
}

func (t *InProc) PostFAA(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, delta uint64, tag CompletionTag) error {
	if t.cluster.isDown(peer) {
		t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		return nil
	}
	r := t.cluster.Region(peer)
	if r == nil {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	if target != TargetFrontier {
		return fmt.Errorf("transport: FAA only supported on the frontier")
	}
	pre := r.FrontierFAA(delta)
	t.deliver(cq, Completion{Tag: tag, PreImage: pre, Status: StatusSuccess})
	return nil
}

func (t *InProc) PostRead(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, tag CompletionTag) error {
	if t.cluster.isDown(peer) {
		t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		return nil
	}
	r := t.cluster.Region(peer)
	if r == nil {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	c := Completion{Tag: tag, Status: StatusSuccess}
	switch target {
	case TargetFrontier:
		c.PreImage = r.FrontierLoad()
	case TargetFAASlot:
		c.PreImage = r.FAASlotLoad(slot)
	case TargetLLSCBallot:
		c.PreImage = r.LLSCBallotLoad(slot)
	case TargetLLSCSlotPair:
		s := r.LLSCSlotLoad(slot)
		c.Pair = [2]uint64{s.Ballot(), s.Value()}
	default:
		return fmt.Errorf("transport: READ not supported on target %d", target)
	}
	t.deliver(cq, c)
	return nil
}

func (t *InProc) PostWrite(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, value uint64, pair [2]uint64, tag CompletionTag) error {
	if t.cluster.isDown(peer) {
		t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		return nil
	}
	r := t.cluster.Region(peer)
	if r == nil {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	switch target {
	case TargetLLSCValue:
		r.LLSCValueStore(slot, value)
	case TargetLLSCSlotPair:
		r.LLSCSlotWrite(slot, memory.NewLLSCSlot(pair[0], pair[1]))
	default:
		return fmt.Errorf("transport: WRITE not supported on target %d", target)
	}
	t.deliver(cq, Completion{Tag: tag, Status: StatusSuccess})
	return nil
}

func (t *InProc) PostRecoveryReqWrite(ctx context.Context, cq CQ, peer uint16, requesterIdx int, req memory.RecoveryReq, tag CompletionTag) error {
	if t.cluster.isDown(peer) {
		t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		return nil
	}
	r := t.cluster.Region(peer)
	if r == nil {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	r.RecoveryReqWrite(requesterIdx, req)
	t.deliver(cq, Completion{Tag: tag, Status: StatusSuccess})
	return nil
}

func (t *InProc) PostRecoveryRespWrite(ctx context.Context, cq CQ, peer uint16, resp memory.RecoveryResp, tag CompletionTag) error {
	if t.cluster.isDown(peer) {
		t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		return nil
	}
	r := t.cluster.Region(peer)
	if r == nil {
		return fmt.Errorf("transport: unknown peer %d", peer)
	}
	r.RecoveryRespWrite(resp)
	t.deliver(cq, Completion{Tag: tag, Status: StatusSuccess})
	return nil
}

func (t *InProc) Poll(ctx context.Context, cq CQ, max int) ([]Completion, error) {
	ch := t.chanFor(cq)
	out := make([]Completion, 0, max)
	// Always wait for at least one completion (or ctx cancellation),
	// since callers poll in a loop expecting eventual progress; then
	// drain whatever else is immediately available up to max.
	select {
	case c := <-ch:
		out = append(out, c)
	case <-ctx.Done():
		return out, ctx.Err()
	}
	for len(out) < max {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (t *InProc) Local() *memory.Region {
	return t.cluster.Region(t.self)
}

func (t *InProc) Self() uint16 {
	return t.self
}

func (t *InProc) NumPeers() int {
	t.cluster.mu.RLock()
	defer t.cluster.mu.RUnlock()
	return len(t.cluster.regions)
}

func (t *InProc) Close() error {
	return nil
}
