// Package membership implements the bootstrap TCP handshake: every node
// listens on its configured tcp_port, lower-ranked peers are connected to
// by higher-ranked peers, and each pair exchanges remote-memory attributes
// twice (once for the consensus link, once for the frontier link). The
// result is a fully connected PeerTable the transport layer builds its
// per-peer links from; membership never interprets slot data itself.
package membership

import "net"

// RemoteAttr is exchanged verbatim over TCP during bootstrap, network byte
// order. Bootstrap sends zero-valued attributes and records what the peer
// sent; the TCP-backed transport does not read any of these fields, since
// no real registered memory region is exposed to the wire.
type RemoteAttr struct {
	RemoteBaseAddr uint64
	RKey           uint32
	LID            uint16
	QPN            uint32
	PSN            uint32
	GID            [16]byte
}

// Peer is one fully-bootstrapped cluster member as seen by this node: its
// static address, its live connection, and the remote attributes it
// presented during the handshake. Bootstrap opens one connection per peer
// and stores it in both ConsensusConn and FrontierConn.
type Peer struct {
	ID            uint16
	Addr          string
	ConsensusAttr RemoteAttr
	FrontierAttr  RemoteAttr
	ConsensusConn net.Conn
	FrontierConn  net.Conn
}

// Table is the fully connected peer set this node bootstrapped against,
// indexed by node id. It is immutable once Bootstrap returns.
type Table struct {
	Self  uint16
	Peers map[uint16]*Peer
}

// Close tears down every peer connection.
func (t *Table) Close() error {
	var first error
	for _, p := range t.Peers {
		if p.ConsensusConn != nil {
			if err := p.ConsensusConn.Close(); err != nil && first == nil {
				first = err
			}
		}
		if p.FrontierConn != nil {
			if err := p.FrontierConn.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
