package bench

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/luxfi/log"

	"github.com/onesided/raa/node"
)

// Server accepts client connections on its own port and services each one
// on a dedicated goroutine, dispatching every request to the node Context
// until the connection closes or the slot space is exhausted.
type Server struct {
	ctx        *node.Context
	log        log.Logger
	latencyDir string
}

// NewServer builds a Server driving ctx. If latencyDir is non-empty, every
// served request appends a row to a per-connection CSV latency log under
// that directory.
func NewServer(ctx *node.Context, logger log.Logger, latencyDir string) *Server {
	return &Server{ctx: ctx, log: logger, latencyDir: latencyDir}
}

// ListenAndServe binds addr and services connections until ctx is done or
// the listener errors.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bench: listen on %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	clientID := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bench: accept: %w", err)
		}
		clientID++
		go s.handleClient(ctx, conn, clientID)
	}
}

// handleClient services one client connection: read a request, dispatch
// it, time it, optionally log it, write back the result, and loop until
// the connection closes or the slot space runs out.
func (s *Server) handleClient(ctx context.Context, conn net.Conn, clientID int) {
	defer conn.Close()

	var csvWriter *csv.Writer
	var csvFile *os.File
	if s.latencyDir != "" {
		path := fmt.Sprintf("%s/latency_client%d.csv", s.latencyDir, clientID)
		f, err := os.Create(path)
		if err != nil {
			s.log.Warn("bench: could not create latency log", "path", path, "error", err)
		} else {
			csvFile = f
			csvWriter = csv.NewWriter(f)
			csvWriter.Write([]string{"Slot", "Latency_us", "OpType"})
			defer func() {
				csvWriter.Flush()
				csvFile.Close()
			}()
		}
	}

	for {
		req, err := readRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("bench: client read failed", "client", clientID, "error", err)
			}
			return
		}

		start := time.Now()
		result, opErr := s.dispatch(ctx, req)
		elapsed := time.Since(start)

		if csvWriter != nil {
			csvWriter.Write([]string{
				fmt.Sprintf("%d", req.Slot),
				fmt.Sprintf("%d", elapsed.Microseconds()),
				fmt.Sprintf("%d", req.Op),
			})
			csvWriter.Flush()
		}

		if opErr != nil {
			if errors.Is(opErr, node.ErrOutOfSpace) {
				result = ENOMEM
			} else {
				result = EAGAIN
			}
		}

		if err := writeResult(conn, result); err != nil {
			return
		}
		if result == ENOMEM {
			return
		}
	}
}

// dispatch runs the requested operation and maps its outcome to the wire
// result convention: FetchAndAdd returns the allocated slot; TestAndSet
// returns 0 when this call claimed the slot and 1 when another caller
// already held it.
func (s *Server) dispatch(ctx context.Context, req request) (int64, error) {
	switch req.Op {
	case OpFetchAndAdd:
		slot, err := s.ctx.FetchAndAdd(ctx)
		if err != nil {
			return 0, err
		}
		return int64(slot), nil
	case OpTestAndSet:
		result, err := s.ctx.TestAndSet(ctx, uint64(req.Slot))
		if err != nil {
			return 0, err
		}
		if result == node.TASWon {
			return 0, nil
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("bench: unknown op type %d", req.Op)
	}
}
