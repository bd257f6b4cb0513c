package bench

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
)

// ClientResult summarizes one load-generation run.
type ClientResult struct {
	TotalRequests     int
	CompletedRequests int
	Elapsed           time.Duration
}

// Throughput returns completed requests per second.
func (r ClientResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.CompletedRequests) / r.Elapsed.Seconds()
}

// RunLoad connects numThreads client goroutines to every address in
// nodeAddrs, round-robining FetchAndAdd requests across the cluster, each
// issuing requestsPerThread requests, and reports aggregate throughput.
func RunLoad(ctx context.Context, logger log.Logger, nodeAddrs []string, numThreads, requestsPerThread int) (ClientResult, error) {
	var completed int64
	var wg sync.WaitGroup
	wg.Add(numThreads)

	start := time.Now()
	for i := 0; i < numThreads; i++ {
		go func(threadID int) {
			defer wg.Done()
			n := runClientThread(ctx, logger, nodeAddrs, threadID, requestsPerThread)
			atomic.AddInt64(&completed, int64(n))
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	return ClientResult{
		TotalRequests:     numThreads * requestsPerThread,
		CompletedRequests: int(completed),
		Elapsed:           elapsed,
	}, nil
}

// runClientThread connects to every cluster node once, then issues
// requestsPerThread FetchAndAdd requests, round-robining the target node by
// request index, stopping early if a node reports out-of-space or the
// connection fails.
func runClientThread(ctx context.Context, logger log.Logger, nodeAddrs []string, threadID, numRequests int) int {
	conns := make([]net.Conn, len(nodeAddrs))
	for i, addr := range nodeAddrs {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			logger.Warn("bench: client could not connect", "thread", threadID, "addr", addr, "error", err)
			return 0
		}
		conns[i] = conn
	}
	defer func() {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
	}()

	completed := 0
	for i := 0; i < numRequests; i++ {
		target := conns[i%len(conns)]
		if err := writeRequest(target, request{Op: OpFetchAndAdd}); err != nil {
			logger.Warn("bench: client send failed", "thread", threadID, "error", err)
			break
		}
		result, err := readResult(target)
		if err != nil {
			logger.Warn("bench: client recv failed", "thread", threadID, "error", err)
			break
		}
		if result == ENOMEM {
			break
		}
		completed++
		if completed%10000 == 0 {
			logger.Info(fmt.Sprintf("client thread %d: %d requests completed", threadID, completed))
		}
	}
	return completed
}
