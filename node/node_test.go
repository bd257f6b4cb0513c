package node

import (
	"context"
	"sync"
	"testing"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesided/raa/config"
	"github.com/onesided/raa/metrics"
	"github.com/onesided/raa/transport"
)

func newCluster(t *testing.T, n int, maxSlots uint64) []*Context {
	t.Helper()
	cluster := transport.NewCluster(n, maxSlots)
	tunables := config.Tunables{
		MaxSlots:         maxSlots,
		MaxConcurrentReq: 16,
		FrontierNode:     0,
		CoordinatorNode:  0,
		MaxRetries:       5,
	}
	nodes := make([]*Context, n)
	for i := 0; i < n; i++ {
		m, err := metrics.New(prometheus.NewRegistry())
		require.NoError(t, err)
		nodes[i] = New(cluster.Transport(uint16(i)), tunables, log.NewNoOpLogger(), m)
	}
	return nodes
}

func TestFetchAndAddAllocatesDistinctSlots(t *testing.T) {
	nodes := newCluster(t, 4, 64)
	ctx := context.Background()

	const perNode = 10
	var mu sync.Mutex
	seen := map[uint64]bool{}
	var wg sync.WaitGroup
	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perNode; i++ {
				slot, err := n.FetchAndAdd(ctx)
				require.NoError(t, err)
				mu.Lock()
				assert.False(t, seen[slot], "slot %d committed twice", slot)
				seen[slot] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, len(nodes)*perNode)
}

func TestFetchAndAddReturnsErrOutOfSpaceAtCapacity(t *testing.T) {
	nodes := newCluster(t, 3, 2)
	ctx := context.Background()

	_, err := nodes[0].FetchAndAdd(ctx)
	require.NoError(t, err)
	_, err = nodes[0].FetchAndAdd(ctx)
	require.NoError(t, err)
	_, err = nodes[0].FetchAndAdd(ctx)
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestTestAndSetSecondCallerLoses(t *testing.T) {
	nodes := newCluster(t, 3, 8)
	ctx := context.Background()

	r1, err := nodes[0].TestAndSet(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, TASWon, r1)

	r2, err := nodes[1].TestAndSet(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, TASLost, r2)
}

func TestLoadLinkStoreConditionalCommitsOnUncontendedSlot(t *testing.T) {
	nodes := newCluster(t, 3, 8)
	ctx := context.Background()

	idx, val, err := nodes[0].LoadLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)
	assert.Equal(t, uint64(0), val)

	ok, err := nodes[0].StoreConditional(ctx, 123)
	require.NoError(t, err)
	assert.True(t, ok)

	// The committed store advanced the frontier; the next load-link on any
	// node links one past it and observes the value it committed.
	idx2, val2, err := nodes[1].LoadLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, idx+1, idx2)
	assert.Equal(t, uint64(123), val2)
}

func TestStoreConditionalWithoutLoadLinkFails(t *testing.T) {
	nodes := newCluster(t, 3, 8)
	ctx := context.Background()

	_, err := nodes[0].StoreConditional(ctx, 1)
	assert.ErrorIs(t, err, ErrNoLinkedLoad)
}

func TestStoreConditionalLoserObservesWinnersValue(t *testing.T) {
	nodes := newCluster(t, 3, 8)
	ctx := context.Background()

	idx0, _, err := nodes[0].LoadLink(ctx)
	require.NoError(t, err)
	idx1, _, err := nodes[1].LoadLink(ctx)
	require.NoError(t, err)
	require.Equal(t, idx0, idx1)

	ok0, err := nodes[0].StoreConditional(ctx, 10)
	require.NoError(t, err)

	ok1, err := nodes[1].StoreConditional(ctx, 20)
	require.NoError(t, err)

	// Both store-conditionals target the same linked index: exactly one of
	// them commits.
	assert.NotEqual(t, ok0, ok1)

	// A later load-link on the loser's node observes the winner's value.
	want := uint64(20)
	if ok0 {
		want = 10
	}
	_, val, err := nodes[1].LoadLink(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, val)
}
