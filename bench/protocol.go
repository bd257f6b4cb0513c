// Package bench implements the client-facing load-generation protocol used
// to drive and measure a running cluster: a tiny fixed-width request/reply
// framing carried over its own TCP port, separate from the inter-node
// transport link.
package bench

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultClientPort is the TCP port the client-facing protocol listens on
// when a deployment doesn't override it.
const DefaultClientPort = 9000

// OpType selects which node.Context operation a request drives.
type OpType uint8

const (
	OpFetchAndAdd OpType = 0
	OpTestAndSet  OpType = 1
)

// ENOMEM is the sentinel result value a server sends back once the slot
// space is exhausted, mirroring errno's out-of-memory convention. EAGAIN
// reports an operation that could not reach a decision within its retry
// budget; the client may reissue it.
const (
	ENOMEM int64 = -12
	EAGAIN int64 = -11
)

// request is one client call: op_type plus the slot TestAndSet targets
// (ignored for FetchAndAdd, which always allocates its own).
type request struct {
	Op   OpType
	Slot uint32
}

const requestWireSize = 1 + 4

func writeRequest(w io.Writer, r request) error {
	var buf [requestWireSize]byte
	buf[0] = byte(r.Op)
	binary.BigEndian.PutUint32(buf[1:5], r.Slot)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("bench: write request: %w", err)
	}
	return nil
}

func readRequest(r io.Reader) (request, error) {
	var buf [requestWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return request{}, err
	}
	return request{Op: OpType(buf[0]), Slot: binary.BigEndian.Uint32(buf[1:5])}, nil
}

const resultWireSize = 8

func writeResult(w io.Writer, v int64) error {
	var buf [resultWireSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("bench: write result: %w", err)
	}
	return nil
}

func readResult(r io.Reader) (int64, error) {
	var buf [resultWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
