// Package node wires the consensus, frontier, and LL/SC engines together
// behind the operations a client actually calls: FetchAndAdd, TestAndSet,
// LoadLink, and StoreConditional. It owns the per-node serialization locks
// and the admission-control semaphore that bounds in-flight requests.
package node

import (
	"context"
	"sync"

	"github.com/luxfi/log"

	"github.com/onesided/raa/config"
	"github.com/onesided/raa/frontier"
	"github.com/onesided/raa/llsc"
	"github.com/onesided/raa/metrics"
	"github.com/onesided/raa/transport"
)

// Context bundles everything one node needs to serve client operations: the
// transport, the tunables, engines, the node-wide operation lock, an
// admission semaphore bounding concurrent requests, and metrics/logging.
//
// opMu serializes every operation that posts to or polls the consensus and
// frontier completion queues. The queues and the result state fed by them
// are single-owner per operation; without the lock, one operation's poll
// could consume and discard another's completions. It also protects the
// per-node LL/SC pairing state. Only the recovery coordinator runs outside
// it, on its own completion queue.
type Context struct {
	tr         transport.Transport
	tunables   config.Tunables
	allocator  *frontier.Allocator
	metrics    *metrics.Metrics
	log        log.Logger
	admission  chan struct{}
	opMu       sync.Mutex
	llscThread llscThreadState
}

type llscThreadState struct {
	index uint32
	value uint64
	valid bool
}

// New builds a node Context. logger and m must be non-nil.
func New(tr transport.Transport, tunables config.Tunables, logger log.Logger, m *metrics.Metrics) *Context {
	return &Context{
		tr:        tr,
		tunables:  tunables,
		allocator: frontier.New(tr, tunables.FrontierNode),
		metrics:   m,
		log:       logger,
		admission: make(chan struct{}, tunables.MaxConcurrentReq),
	}
}

// acquire blocks until an admission ticket is available (or ctx is
// cancelled), bounding in-flight requests to MaxConcurrentReq; callers
// beyond that bound wait here.
func (c *Context) acquire(ctx context.Context) (func(), error) {
	select {
	case c.admission <- struct{}{}:
		return func() { <-c.admission }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runLoadLink and runStoreConditional bind the LL/SC engines to this
// node's transport and tunables for llsc_facade.go.
func (c *Context) runLoadLink(ctx context.Context) (llsc.LoadLinkResult, bool, error) {
	return llsc.LoadLink(ctx, c.tr, c.tunables.MaxSlots)
}

func (c *Context) runStoreConditional(ctx context.Context, index uint32, value uint64) (llsc.SCResult, bool, error) {
	return llsc.StoreConditional(ctx, c.tr, c.tunables.CoordinatorNode, index, value)
}
