package node

import (
	"context"
	"errors"
	"time"

	"github.com/onesided/raa/llsc"
)

// ErrNoLinkedLoad is returned by StoreConditional when called without a
// prior successful LoadLink on this node.
var ErrNoLinkedLoad = errors.New("node: store-conditional with no preceding load-link")

// ErrQuorumUnavailable is returned when Load-Link couldn't reach a classic
// quorum of replicas.
var ErrQuorumUnavailable = errors.New("node: load-link quorum unavailable")

// LoadLink reads the current frontier/value pair and remembers it as the
// pairing for this node's next StoreConditional call. Both calls are
// serialized by the node-wide LL/SC lock, matching the single
// per-node-not-per-thread LL/SC state the design keeps.
func (c *Context) LoadLink(ctx context.Context) (uint32, uint64, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	start := time.Now()
	defer func() { c.metrics.OperationLatency.WithLabelValues("load_link").Observe(time.Since(start).Seconds()) }()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	result, ok, err := c.runLoadLink(ctx)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, ErrQuorumUnavailable
	}

	c.llscThread = llscThreadState{index: result.Index, value: result.Value, valid: true}
	return result.Index, result.Value, nil
}

// StoreConditional attempts to commit value at the index this node's most
// recent LoadLink observed.
func (c *Context) StoreConditional(ctx context.Context, value uint64) (bool, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	start := time.Now()
	defer func() { c.metrics.OperationLatency.WithLabelValues("store_conditional").Observe(time.Since(start).Seconds()) }()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.llscThread.valid {
		return false, ErrNoLinkedLoad
	}
	index := c.llscThread.index
	c.llscThread.valid = false

	result, recovered, err := c.runStoreConditional(ctx, index, value)
	if recovered {
		c.metrics.Recoveries.Inc()
	}
	if err != nil {
		return false, err
	}
	return result == llsc.SCCommitted, nil
}
