package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontierCASReturnsPreImage(t *testing.T) {
	r := New(8, 2)
	require.Equal(t, uint64(0), r.FrontierLoad())
	pre := r.FrontierCAS(0, 5)
	assert.Equal(t, uint64(0), pre)
	assert.Equal(t, uint64(5), r.FrontierLoad())

	pre = r.FrontierCAS(0, 9)
	assert.Equal(t, uint64(5), pre, "CAS against a stale compare must fail and return the current value")
	assert.Equal(t, uint64(5), r.FrontierLoad())
}

func TestFrontierFAAReturnsPreImage(t *testing.T) {
	r := New(8, 2)
	pre := r.FrontierFAA(1)
	assert.Equal(t, uint64(0), pre)
	pre = r.FrontierFAA(1)
	assert.Equal(t, uint64(1), pre)
	assert.Equal(t, uint64(2), r.FrontierLoad())
}

func TestFrontierFAAConcurrentCallersGetDistinctSlots(t *testing.T) {
	r := New(1000, 2)
	const n = 200
	seen := make([]uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			seen[i] = r.FrontierFAA(1)
		}(i)
	}
	wg.Wait()

	unique := make(map[uint64]bool, n)
	for _, v := range seen {
		assert.False(t, unique[v], "slot %d handed out twice", v)
		unique[v] = true
	}
	assert.Equal(t, uint64(n), r.FrontierLoad())
}

func TestLLSCSlotLoadReflectsBallotThenValue(t *testing.T) {
	r := New(4, 1)
	pre := r.LLSCBallotCAS(0, 0, 42)
	require.Equal(t, uint64(0), pre)
	r.LLSCValueStore(0, 99)

	s := r.LLSCSlotLoad(0)
	assert.Equal(t, uint64(42), s.Ballot())
	assert.Equal(t, uint64(99), s.Value())
}

func TestLLSCSlotWriteOverwritesBoth(t *testing.T) {
	r := New(4, 1)
	r.LLSCBallotCAS(0, 0, 1)
	r.LLSCValueStore(0, 1)

	r.LLSCSlotWrite(0, NewLLSCSlot(7, 70))
	s := r.LLSCSlotLoad(0)
	assert.Equal(t, uint64(7), s.Ballot())
	assert.Equal(t, uint64(70), s.Value())
}

func TestRecoveryMailboxRoundTrip(t *testing.T) {
	r := New(4, 3)
	assert.Equal(t, RecoveryReq{}, r.RecoveryReqRead(1))

	r.RecoveryReqWrite(1, RecoveryReq{ThreadID: 5, Slot: 2})
	got := r.RecoveryReqRead(1)
	assert.Equal(t, uint32(5), got.ThreadID)

	r.RecoveryReqClear(1)
	assert.Equal(t, RecoveryReq{}, r.RecoveryReqRead(1))

	r.RecoveryRespWrite(RecoveryResp{ThreadID: 5, Value: 70, Ballot: 7, Valid: 1})
	resp := r.RecoveryRespRead()
	assert.Equal(t, uint32(1), resp.Valid)

	r.RecoveryRespClear()
	assert.Equal(t, RecoveryResp{}, r.RecoveryRespRead())
}
