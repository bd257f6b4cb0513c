package llsc

import (
	"context"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesided/raa/transport"
)

func TestStoreConditionalCommitsOnEmptySlot(t *testing.T) {
	cluster := transport.NewCluster(3, 8)

	result, recovered, err := StoreConditional(context.Background(), cluster.Transport(0), 0, 0, 42)
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Equal(t, SCCommitted, result)
	assert.Equal(t, uint64(42), cluster.Region(1).LLSCValueLoad(0))
	assert.Equal(t, uint64(1), cluster.Region(1).FrontierLoad())
}

func TestStoreConditionalFailsHardWhenSlotAlreadyTaken(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	for id := uint16(0); id < 3; id++ {
		cluster.Region(id).LLSCBallotCAS(0, 0, 0xFFFFFFFFFFFF<<16|uint64(9))
		cluster.Region(id).FrontierCAS(0, 1)
	}

	result, recovered, err := StoreConditional(context.Background(), cluster.Transport(1), 0, 0, 7)
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Equal(t, SCFailed, result)
}

func TestStoreConditionalTriggersRecoveryOnPartialSuccess(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	// Occupy both CAS targets at node 0 (the caller, so its local round
	// loses outright) and at node 2, leaving only node 1 free: node 1's two
	// CASes win, which is fewer than the fast quorum of 3 (ruling out the
	// fast path) but more than zero (ruling out the hard-fail branch), so
	// the call must fall through to coordinated recovery.
	for _, id := range []uint16{0, 2} {
		cluster.Region(id).LLSCBallotCAS(0, 0, 99<<16|uint64(id))
		cluster.Region(id).FrontierCAS(0, 1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, recovered, err := StoreConditional(context.Background(), cluster.Transport(0), 0, 0, 55)
		require.NoError(t, err)
		assert.True(t, recovered)
		assert.Contains(t, []SCResult{SCCommitted, SCLost}, result)
	}()

	coord := NewCoordinator(cluster.Transport(0), log.NewNoOpLogger())
	for i := 0; i < 100 && !sweepResolved(done); i++ {
		coord.sweepOnce(context.Background())
	}
	<-done
}

func sweepResolved(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
