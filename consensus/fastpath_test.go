package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesided/raa/transport"
)

func TestBroadcastCASLocalWinnerWinsQuorum(t *testing.T) {
	cluster := transport.NewCluster(4, 8)
	tr := cluster.Transport(0)

	decision, err := BroadcastCAS(context.Background(), tr, 3, 0xFEED)
	require.NoError(t, err)
	assert.Equal(t, Won, decision)
	assert.Equal(t, uint64(0xFEED), cluster.Region(1).FAASlotLoad(3))
}

func TestBroadcastCASAlreadyDecidedEverywhereIsIndeterminate(t *testing.T) {
	// A second broadcast of the exact same slot, once every replica
	// already holds a committed value, can only fail its own CAS at
	// every site: the fast path can't tell "already decided" from
	// "transport rejected me" and correctly falls through to the slow
	// path (consensus/slowpath.go's fast-quorum short-circuit), not a
	// direct Lost here.
	cluster := transport.NewCluster(4, 8)

	decision, err := BroadcastCAS(context.Background(), cluster.Transport(0), 5, 0xAAAA)
	require.NoError(t, err)
	require.Equal(t, Won, decision)

	decision, err = BroadcastCAS(context.Background(), cluster.Transport(1), 5, 0xBBBB)
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, decision)
	assert.Equal(t, uint64(0xAAAA), cluster.Region(2).FAASlotLoad(5))
}

func TestBroadcastCASLosesWhenQuorumAcceptsCallersValueElsewhere(t *testing.T) {
	// node 1's own replica already holds a foreign value (as if written by
	// a concurrent slow-path accept it hasn't observed locally), but the
	// rest of the cluster is still empty: the broadcast CAS for node 1's
	// own v reaches fast quorum at the other replicas even though node 1
	// itself never held it, so the fast path correctly reports Lost.
	cluster := transport.NewCluster(4, 8)
	cluster.Region(1).FAASlotCAS(5, 0, 0xAAAA)

	decision, err := BroadcastCAS(context.Background(), cluster.Transport(1), 5, 0xBBBB)
	require.NoError(t, err)
	assert.Equal(t, Lost, decision)
	assert.Equal(t, uint64(0xBBBB), cluster.Region(2).FAASlotLoad(5))
}

func TestBroadcastCASBelowFastQuorumIsIndeterminate(t *testing.T) {
	cluster := transport.NewCluster(4, 8)
	// Fast(4) == 3. With two of the three peers down, at most 1 remote
	// success (plus the local vote) is reachable, which can never clear
	// the fast quorum either way.
	cluster.SetDown(2, true)
	cluster.SetDown(3, true)

	decision, err := BroadcastCAS(context.Background(), cluster.Transport(0), 1, 0x1234)
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, decision)
}
