package llsc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesided/raa/transport"
)

func TestLoadLinkOnEmptyClusterYieldsZero(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	result, ok, err := LoadLink(context.Background(), cluster.Transport(0), 8)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0), result.Index)
	assert.Equal(t, uint64(0), result.Value)
}

func TestLoadLinkObservesMaxFrontierAcrossReplicas(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	cluster.Region(1).FrontierCAS(0, 5)
	// The value is read from the caller's own replica, so the record at
	// the link point is planted there.
	cluster.Region(0).LLSCBallotCAS(5, 0, 1<<16)
	cluster.Region(0).LLSCValueStore(5, 777)

	result, ok, err := LoadLink(context.Background(), cluster.Transport(0), 8)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(5), result.Index)
	assert.Equal(t, uint64(777), result.Value)
}

func TestLoadLinkFailsWithoutQuorum(t *testing.T) {
	cluster := transport.NewCluster(5, 8)
	// Classic(5) == 3; self + one surviving peer is one short.
	cluster.SetDown(1, true)
	cluster.SetDown(2, true)
	cluster.SetDown(3, true)

	_, ok, err := LoadLink(context.Background(), cluster.Transport(0), 8)
	require.NoError(t, err)
	assert.False(t, ok)
}
