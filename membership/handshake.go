package membership

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/onesided/raa/config"
)

// Bootstrap connects this node to every other node in cfg, exchanging a
// RemoteAttr pair (consensus, frontier) with each. Nodes with a lower id
// than us accept inbound connections; we dial out to every node whose id
// is lower than ours, and wait for every node whose id is higher than ours
// to dial in. This fixes the connection direction deterministically so no
// two nodes race to dial each other.
func Bootstrap(cfg *config.Config, dialTimeout time.Duration) (*Table, error) {
	self, ok := cfg.Self()
	if !ok {
		return nil, fmt.Errorf("membership: host id %d not present in cluster config", cfg.HostID)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", self.TCPPort))
	if err != nil {
		return nil, fmt.Errorf("membership: listen on port %d: %w", self.TCPPort, err)
	}
	defer ln.Close()

	table := &Table{Self: cfg.HostID, Peers: make(map[uint16]*Peer, cfg.N-1)}

	higher := 0
	for _, n := range cfg.Nodes {
		if n.ID > cfg.HostID {
			higher++
		}
	}

	accepted := make(chan *Peer, higher)
	acceptErr := make(chan error, 1)
	go func() {
		for i := 0; i < higher; i++ {
			conn, err := ln.Accept()
			if err != nil {
				acceptErr <- fmt.Errorf("membership: accept: %w", err)
				return
			}
			peer, err := acceptHandshake(conn)
			if err != nil {
				acceptErr <- err
				return
			}
			accepted <- peer
		}
	}()

	for _, n := range cfg.Nodes {
		if n.ID >= cfg.HostID {
			continue
		}
		addr := fmt.Sprintf("%s:%d", n.IP, n.TCPPort)
		peer, err := dialHandshake(addr, n.ID, cfg.HostID, dialTimeout)
		if err != nil {
			return nil, err
		}
		table.Peers[n.ID] = peer
	}

	for i := 0; i < higher; i++ {
		select {
		case peer := <-accepted:
			table.Peers[peer.ID] = peer
		case err := <-acceptErr:
			return nil, err
		}
	}

	return table, nil
}

// dialHandshake connects out to peerID at addr, sending our consensus and
// frontier RemoteAttr and reading theirs back in the same order. Cluster
// nodes start roughly simultaneously, so a refused connection is retried
// until timeout elapses rather than treated as fatal — the peer's listener
// may simply not be up yet.
func dialHandshake(addr string, peerID uint16, selfID uint16, timeout time.Duration) (*Peer, error) {
	deadline := time.Now().Add(timeout)
	var conn net.Conn
	for {
		var err error
		conn, err = net.DialTimeout("tcp", addr, timeout)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("membership: dial %s (node %d): %w", addr, peerID, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := writeID(conn, selfID); err != nil {
		conn.Close()
		return nil, err
	}
	if err := writeAttr(conn, RemoteAttr{}); err != nil {
		conn.Close()
		return nil, err
	}
	consensusAttr, err := readAttr(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := writeAttr(conn, RemoteAttr{}); err != nil {
		conn.Close()
		return nil, err
	}
	frontierAttr, err := readAttr(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Peer{
		ID:            peerID,
		Addr:          addr,
		ConsensusAttr: consensusAttr,
		FrontierAttr:  frontierAttr,
		ConsensusConn: conn,
		FrontierConn:  conn,
	}, nil
}

// acceptHandshake services one inbound connection from a higher-ranked
// peer, mirroring dialHandshake's exchange order.
func acceptHandshake(conn net.Conn) (*Peer, error) {
	peerID, err := readID(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	consensusAttr, err := readAttr(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := writeAttr(conn, RemoteAttr{}); err != nil {
		conn.Close()
		return nil, err
	}
	frontierAttr, err := readAttr(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := writeAttr(conn, RemoteAttr{}); err != nil {
		conn.Close()
		return nil, err
	}
	return &Peer{
		ID:            peerID,
		Addr:          conn.RemoteAddr().String(),
		ConsensusAttr: consensusAttr,
		FrontierAttr:  frontierAttr,
		ConsensusConn: conn,
		FrontierConn:  conn,
	}, nil
}

func writeID(w io.Writer, id uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], id)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("membership: write node id: %w", err)
	}
	return nil
}

func readID(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("membership: read node id: %w", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

const remoteAttrWireSize = 8 + 4 + 2 + 4 + 4 + 16

func writeAttr(w io.Writer, a RemoteAttr) error {
	var buf [remoteAttrWireSize]byte
	binary.BigEndian.PutUint64(buf[0:8], a.RemoteBaseAddr)
	binary.BigEndian.PutUint32(buf[8:12], a.RKey)
	binary.BigEndian.PutUint16(buf[12:14], a.LID)
	binary.BigEndian.PutUint32(buf[14:18], a.QPN)
	binary.BigEndian.PutUint32(buf[18:22], a.PSN)
	copy(buf[22:38], a.GID[:])
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("membership: write remote attr: %w", err)
	}
	return nil
}

func readAttr(r io.Reader) (RemoteAttr, error) {
	var buf [remoteAttrWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return RemoteAttr{}, fmt.Errorf("membership: read remote attr: %w", err)
	}
	var a RemoteAttr
	a.RemoteBaseAddr = binary.BigEndian.Uint64(buf[0:8])
	a.RKey = binary.BigEndian.Uint32(buf[8:12])
	a.LID = binary.BigEndian.Uint16(buf[12:14])
	a.QPN = binary.BigEndian.Uint32(buf[14:18])
	a.PSN = binary.BigEndian.Uint32(buf[18:22])
	copy(a.GID[:], buf[22:38])
	return a, nil
}
