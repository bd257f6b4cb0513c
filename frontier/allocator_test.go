package frontier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesided/raa/transport"
)

func TestNextReturnsDistinctIncreasingSlotsLocally(t *testing.T) {
	cluster := transport.NewCluster(2, 8)
	a := New(cluster.Transport(0), 0)

	got := make([]uint64, 4)
	for i := range got {
		slot, err := a.Next(context.Background())
		require.NoError(t, err)
		got[i] = slot
	}
	assert.Equal(t, []uint64{0, 1, 2, 3}, got)
}

func TestNextRemoteRoutesThroughFrontierNode(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	local := New(cluster.Transport(0), 0)
	remote := New(cluster.Transport(1), 0)

	s1, err := local.Next(context.Background())
	require.NoError(t, err)
	s2, err := remote.Next(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.Equal(t, uint64(2), cluster.Region(0).FrontierLoad())
}

func TestNextReturnsFailedWhenFrontierNodeUnreachable(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	cluster.SetDown(0, true)
	a := New(cluster.Transport(1), 0)

	slot, err := a.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, slot)
}

func TestConcurrentAllocatorsAcrossNodesNeverCollide(t *testing.T) {
	cluster := transport.NewCluster(3, 1000)
	const perNode = 50
	var mu sync.Mutex
	seen := map[uint64]bool{}
	var wg sync.WaitGroup
	for id := uint16(0); id < 3; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := New(cluster.Transport(id), 0)
			for i := 0; i < perNode; i++ {
				slot, err := a.Next(context.Background())
				require.NoError(t, err)
				mu.Lock()
				assert.False(t, seen[slot], "slot %d handed out twice", slot)
				seen[slot] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 3*perNode)
}
