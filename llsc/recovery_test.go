package llsc

import (
	"context"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesided/raa/memory"
	"github.com/onesided/raa/transport"
)

func TestCoordinatorSkipsEmptyMailbox(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	coord := NewCoordinator(cluster.Transport(0), log.NewNoOpLogger())
	coord.sweepOnce(context.Background())
	assert.Equal(t, uint32(0), cluster.Region(0).RecoveryReqRead(1).ThreadID)
}

func TestCoordinatorResolvesHighestBallotAcrossReplicas(t *testing.T) {
	cluster := transport.NewCluster(3, 8)
	// Node 1's replica has the highest ballot of the three (node 0 is
	// empty, node 2 has a lower ballot); the coordinator must pick node
	// 1's record as the winner and propagate it everywhere.
	low := uint64(10)<<16 | 2
	high := uint64(20)<<16 | 1
	cluster.Region(1).LLSCSlotWrite(3, memory.NewLLSCSlot(high, 123))
	cluster.Region(2).LLSCSlotWrite(3, memory.NewLLSCSlot(low, 456))

	cluster.Region(0).RecoveryReqWrite(1, memory.RecoveryReq{ThreadID: 2, Slot: 3})

	coord := NewCoordinator(cluster.Transport(0), log.NewNoOpLogger())
	coord.sweepOnce(context.Background())

	for _, id := range []uint16{0, 1, 2} {
		s := cluster.Region(id).LLSCSlotLoad(3)
		assert.Equal(t, uint64(123), s.Value(), "node %d", id)
	}
	assert.Equal(t, memory.RecoveryReq{}, cluster.Region(0).RecoveryReqRead(1))

	resp := cluster.Region(1).RecoveryRespRead()
	require.Equal(t, uint32(1), resp.Valid)
	assert.Equal(t, uint32(2), resp.ThreadID, "owner of the highest ballot was node 1, thread id is node id + 1")
	assert.Equal(t, uint64(123), resp.Value)
}
