package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luxfi/log"

	"github.com/onesided/raa/membership"
	"github.com/onesided/raa/memory"
)

// TCP implements Transport across real process/machine boundaries, over the
// duplex connections membership.Bootstrap already established. Each peer
// link carries two interleaved message shapes (frameOp, frameReply); a
// single reader goroutine per connection demultiplexes them, applying
// inbound ops directly against this node's own Region and routing inbound
// replies to the pending request that's waiting on them.
type TCP struct {
	self   uint16
	local  *memory.Region
	table  *membership.Table
	log    log.Logger
	nextID uint64

	consensus   chan Completion
	frontierCh  chan Completion
	coordinator chan Completion

	mu      sync.Mutex
	pending map[uint64]chan wireReply

	writeMu map[uint16]*sync.Mutex
}

var _ Transport = (*TCP)(nil)

// NewTCP builds a TCP transport over an already-bootstrapped peer table,
// applying inbound operations against local. It starts one reader goroutine
// per peer connection; callers should call Close to stop them.
func NewTCP(table *membership.Table, local *memory.Region, logger log.Logger) *TCP {
	t := &TCP{
		self:       table.Self,
		local:      local,
		table:      table,
		log:        logger,
		consensus:   make(chan Completion, 4096),
		frontierCh:  make(chan Completion, 4096),
		coordinator: make(chan Completion, 4096),
		pending:     make(map[uint64]chan wireReply),
		writeMu:     make(map[uint16]*sync.Mutex),
	}
	for id, peer := range table.Peers {
		t.writeMu[id] = &sync.Mutex{}
		go t.readLoop(id, peer)
	}
	return t
}

func (t *TCP) readLoop(peerID uint16, peer *membership.Peer) {
	conn := peer.ConsensusConn
	for {
		kind, err := readFrameKind(conn)
		if err != nil {
			t.log.Debug("transport: peer connection closed", "peer", peerID, "err", err)
			return
		}
		switch kind {
		case frameOp:
			op, err := readOp(conn)
			if err != nil {
				t.log.Warn("transport: malformed op frame", "peer", peerID, "err", err)
				return
			}
			reply := t.apply(op)
			t.writeMu[peerID].Lock()
			werr := writeFrameKind(conn, frameReply)
			if werr == nil {
				werr = writeReply(conn, reply)
			}
			t.writeMu[peerID].Unlock()
			if werr != nil {
				t.log.Warn("transport: failed to send reply", "peer", peerID, "err", werr)
				return
			}
		case frameReply:
			rep, err := readReply(conn)
			if err != nil {
				t.log.Warn("transport: malformed reply frame", "peer", peerID, "err", err)
				return
			}
			t.mu.Lock()
			ch, ok := t.pending[rep.reqID]
			if ok {
				delete(t.pending, rep.reqID)
			}
			t.mu.Unlock()
			if ok {
				ch <- rep
			}
		}
	}
}

// apply executes an inbound op request against this node's own Region,
// the TCP-transport equivalent of what a real RDMA NIC's hardware engine
// does against registered memory on the target side.
func (t *TCP) apply(op wireOp) wireReply {
	r := t.local
	reply := wireReply{reqID: op.reqID, status: StatusSuccess}
	switch op.kind {
	case OpCAS:
		switch op.target {
		case TargetFrontier:
			reply.preImage = r.FrontierCAS(op.a, op.b)
		case TargetFAASlot:
			reply.preImage = r.FAASlotCAS(op.slot, op.a, op.b)
		case TargetLLSCBallot:
			reply.preImage = r.LLSCBallotCAS(op.slot, op.a, op.b)
		default:
			reply.status = StatusError
		}
	case OpFAA:
		if op.target == TargetFrontier {
			reply.preImage = r.FrontierFAA(op.a)
		} else {
			reply.status = StatusError
		}
	case OpRead:
		switch op.target {
		case TargetFrontier:
			reply.preImage = r.FrontierLoad()
		case TargetFAASlot:
			reply.preImage = r.FAASlotLoad(op.slot)
		case TargetLLSCBallot:
			reply.preImage = r.LLSCBallotLoad(op.slot)
		case TargetLLSCSlotPair:
			s := r.LLSCSlotLoad(op.slot)
			reply.pair = [2]uint64{s.Ballot(), s.Value()}
		default:
			reply.status = StatusError
		}
	case OpWrite:
		switch op.target {
		case TargetLLSCValue:
			r.LLSCValueStore(op.slot, op.a)
		case TargetLLSCSlotPair:
			r.LLSCSlotWrite(op.slot, memory.NewLLSCSlot(op.pair0, op.b))
		case TargetRecoveryReq:
			r.RecoveryReqWrite(int(op.req.requesterIdx), memory.RecoveryReq{ThreadID: op.req.threadID, Slot: op.req.slot})
		case TargetRecoveryResp:
			r.RecoveryRespWrite(memory.RecoveryResp{ThreadID: op.resp.threadID, Value: op.resp.value, Ballot: op.resp.ballot, Valid: op.resp.valid})
		default:
			reply.status = StatusError
		}
	default:
		reply.status = StatusError
	}
	return reply
}

func (t *TCP) send(ctx context.Context, cq CQ, peerID uint16, op wireOp, tag CompletionTag) error {
	if peerID == t.self {
		return fmt.Errorf("transport: cannot post to self over TCP")
	}
	peer, ok := t.table.Peers[peerID]
	if !ok {
		return fmt.Errorf("transport: unknown peer %d", peerID)
	}

	id := atomic.AddUint64(&t.nextID, 1)
	op.reqID = id
	replyCh := make(chan wireReply, 1)
	t.mu.Lock()
	t.pending[id] = replyCh
	t.mu.Unlock()

	mu := t.writeMu[peerID]
	mu.Lock()
	err := writeFrameKind(peer.ConsensusConn, frameOp)
	if err == nil {
		err = writeOp(peer.ConsensusConn, op)
	}
	mu.Unlock()
	if err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		return nil
	}

	go func() {
		select {
		case rep := <-replyCh:
			t.deliver(cq, Completion{Tag: tag, PreImage: rep.preImage, Pair: rep.pair, Status: rep.status})
		case <-ctx.Done():
			t.mu.Lock()
			delete(t.pending, id)
			t.mu.Unlock()
			t.deliver(cq, Completion{Tag: tag, Status: StatusError})
		}
	}()
	return nil
}

func (t *TCP) chanFor(cq CQ) chan Completion {
	switch cq {
	case FrontierCQ:
		return t.frontierCh
	case CoordinatorCQ:
		return t.coordinator
	default:
		return t.consensus
	}
}

func (t *TCP) deliver(cq CQ, c Completion) {
	ch := t.chanFor(cq)
	select {
	case ch <- c:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}

func (t *TCP) PostCAS(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, compare, swap uint64, tag CompletionTag) error {
	return t.send(ctx, cq, peer, wireOp{kind: OpCAS, target: target, slot: slot, a: compare, b: swap, tag: tag}, tag)
}

func (t *TCP) PostFAA(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, delta uint64, tag CompletionTag) error {
	return t.send(ctx, cq, peer, wireOp{kind: OpFAA, target: target, slot: slot, a: delta, tag: tag}, tag)
}

func (t *TCP) PostRead(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, tag CompletionTag) error {
	return t.send(ctx, cq, peer, wireOp{kind: OpRead, target: target, slot: slot, tag: tag}, tag)
}

func (t *TCP) PostWrite(ctx context.Context, cq CQ, peer uint16, target Target, slot uint64, value uint64, pair [2]uint64, tag CompletionTag) error {
	return t.send(ctx, cq, peer, wireOp{kind: OpWrite, target: target, slot: slot, a: value, pair0: pair[0], b: pair[1], tag: tag}, tag)
}

func (t *TCP) PostRecoveryReqWrite(ctx context.Context, cq CQ, peer uint16, requesterIdx int, req memory.RecoveryReq, tag CompletionTag) error {
	op := wireOp{
		kind:   OpWrite,
		target: TargetRecoveryReq,
		tag:    tag,
		req:    recoveryReqPayload{requesterIdx: int32(requesterIdx), threadID: req.ThreadID, slot: req.Slot},
	}
	return t.send(ctx, cq, peer, op, tag)
}

func (t *TCP) PostRecoveryRespWrite(ctx context.Context, cq CQ, peer uint16, resp memory.RecoveryResp, tag CompletionTag) error {
	op := wireOp{
		kind:   OpWrite,
		target: TargetRecoveryResp,
		tag:    tag,
		resp:   recoveryRespPayload{threadID: resp.ThreadID, value: resp.Value, ballot: resp.Ballot, valid: resp.Valid},
	}
	return t.send(ctx, cq, peer, op, tag)
}

func (t *TCP) Poll(ctx context.Context, cq CQ, max int) ([]Completion, error) {
	ch := t.chanFor(cq)
	out := make([]Completion, 0, max)
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

func (t *TCP) Local() *memory.Region { return t.local }

func (t *TCP) Self() uint16 { return t.self }

func (t *TCP) NumPeers() int { return len(t.table.Peers) + 1 }

func (t *TCP) Close() error {
	return t.table.Close()
}
