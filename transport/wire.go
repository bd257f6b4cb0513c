package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameKind is a one-byte prefix distinguishing the two message shapes that
// travel over a single duplex peer connection: an operation request bound
// for the receiver's own Region, or a reply to a request the receiver
// previously sent.
type frameKind byte

const (
	frameOp frameKind = iota
	frameReply
)

func writeFrameKind(w io.Writer, k frameKind) error {
	if _, err := w.Write([]byte{byte(k)}); err != nil {
		return fmt.Errorf("transport: write frame kind: %w", err)
	}
	return nil
}

func readFrameKind(r io.Reader) (frameKind, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("transport: read frame kind: %w", err)
	}
	return frameKind(buf[0]), nil
}

// wireOp is the framed request TCP sends for one posted operation. Every
// field is fixed-width so a reader never has to buffer an unbounded frame.
type wireOp struct {
	kind   OpKind
	target Target
	slot   uint64
	a      uint64 // compare (CAS) / delta (FAA) / value (WRITE)
	b      uint64 // swap (CAS); pair[1] for a slot-pair WRITE
	pair0  uint64 // pair[0] for a slot-pair WRITE
	tag    CompletionTag
	reqID  uint64
	req    recoveryReqPayload
	resp   recoveryRespPayload
}

type recoveryReqPayload struct {
	requesterIdx int32
	threadID     uint32
	slot         uint32
}

type recoveryRespPayload struct {
	threadID uint32
	value    uint64
	ballot   uint64
	valid    uint32
}

// wireReply is the framed response TCP sends back for one wireOp.
type wireReply struct {
	reqID    uint64
	status   Status
	preImage uint64
	pair     [2]uint64
}

const opFrameSize = 1 + 1 + 8 + 8 + 8 + 8 + 1 + 1 + 2 + 8 + 8 + 8 + 4 + 4 + 4 + 4 + 8 + 8 + 4

func writeOp(w io.Writer, op wireOp) error {
	var buf [opFrameSize]byte
	i := 0
	buf[i] = byte(op.kind)
	i++
	buf[i] = byte(op.target)
	i++
	binary.BigEndian.PutUint64(buf[i:], op.slot)
	i += 8
	binary.BigEndian.PutUint64(buf[i:], op.a)
	i += 8
	binary.BigEndian.PutUint64(buf[i:], op.b)
	i += 8
	binary.BigEndian.PutUint64(buf[i:], op.pair0)
	i += 8
	buf[i] = byte(op.tag.Kind)
	i++
	buf[i] = byte(op.tag.Target)
	i++
	binary.BigEndian.PutUint16(buf[i:], op.tag.Peer)
	i += 2
	binary.BigEndian.PutUint64(buf[i:], op.tag.Slot)
	i += 8
	binary.BigEndian.PutUint64(buf[i:], op.tag.Seq)
	i += 8
	binary.BigEndian.PutUint64(buf[i:], op.reqID)
	i += 8
	binary.BigEndian.PutUint32(buf[i:], uint32(op.req.requesterIdx))
	i += 4
	binary.BigEndian.PutUint32(buf[i:], op.req.threadID)
	i += 4
	binary.BigEndian.PutUint32(buf[i:], op.req.slot)
	i += 4
	binary.BigEndian.PutUint32(buf[i:], op.resp.threadID)
	i += 4
	binary.BigEndian.PutUint64(buf[i:], op.resp.value)
	i += 8
	binary.BigEndian.PutUint64(buf[i:], op.resp.ballot)
	i += 8
	binary.BigEndian.PutUint32(buf[i:], op.resp.valid)
	i += 4
	if i != opFrameSize {
		panic("transport: wireOp frame size mismatch")
	}
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("transport: write op frame: %w", err)
	}
	return nil
}

func readOp(r io.Reader) (wireOp, error) {
	var buf [opFrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return wireOp{}, fmt.Errorf("transport: read op frame: %w", err)
	}
	var op wireOp
	i := 0
	op.kind = OpKind(buf[i])
	i++
	op.target = Target(buf[i])
	i++
	op.slot = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.a = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.b = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.pair0 = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.tag.Kind = OpKind(buf[i])
	i++
	op.tag.Target = Target(buf[i])
	i++
	op.tag.Peer = binary.BigEndian.Uint16(buf[i:])
	i += 2
	op.tag.Slot = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.tag.Seq = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.reqID = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.req.requesterIdx = int32(binary.BigEndian.Uint32(buf[i:]))
	i += 4
	op.req.threadID = binary.BigEndian.Uint32(buf[i:])
	i += 4
	op.req.slot = binary.BigEndian.Uint32(buf[i:])
	i += 4
	op.resp.threadID = binary.BigEndian.Uint32(buf[i:])
	i += 4
	op.resp.value = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.resp.ballot = binary.BigEndian.Uint64(buf[i:])
	i += 8
	op.resp.valid = binary.BigEndian.Uint32(buf[i:])
	i += 4
	return op, nil
}

const replyFrameSize = 8 + 1 + 8 + 8 + 8

func writeReply(w io.Writer, rep wireReply) error {
	var buf [replyFrameSize]byte
	i := 0
	binary.BigEndian.PutUint64(buf[i:], rep.reqID)
	i += 8
	buf[i] = byte(rep.status)
	i++
	binary.BigEndian.PutUint64(buf[i:], rep.preImage)
	i += 8
	binary.BigEndian.PutUint64(buf[i:], rep.pair[0])
	i += 8
	binary.BigEndian.PutUint64(buf[i:], rep.pair[1])
	i += 8
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("transport: write reply frame: %w", err)
	}
	return nil
}

func readReply(r io.Reader) (wireReply, error) {
	var buf [replyFrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return wireReply{}, fmt.Errorf("transport: read reply frame: %w", err)
	}
	var rep wireReply
	i := 0
	rep.reqID = binary.BigEndian.Uint64(buf[i:])
	i += 8
	rep.status = Status(buf[i])
	i++
	rep.preImage = binary.BigEndian.Uint64(buf[i:])
	i += 8
	rep.pair[0] = binary.BigEndian.Uint64(buf[i:])
	i += 8
	rep.pair[1] = binary.BigEndian.Uint64(buf[i:])
	i += 8
	return rep, nil
}
