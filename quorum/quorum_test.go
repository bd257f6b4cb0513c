package quorum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFastQuorum(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 7: 6, 8: 6}
	for n, want := range cases {
		assert.Equal(t, want, Fast(n), "n=%d", n)
	}
}

func TestClassicQuorum(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 7: 4}
	for n, want := range cases {
		assert.Equal(t, want, Classic(n), "n=%d", n)
	}
}

func TestTallyAchievesOnThreshold(t *testing.T) {
	tl := NewTally(3, 5)
	assert.False(t, tl.RecordSuccess().Achieved)
	assert.False(t, tl.RecordSuccess().Achieved)
	assert.True(t, tl.RecordSuccess().Achieved)
}

func TestTallyUnreachable(t *testing.T) {
	tl := NewTally(3, 5)
	tl.RecordFailure()
	tl.RecordFailure()
	assert.False(t, tl.Unreachable())
	tl.RecordFailure()
	assert.True(t, tl.Unreachable())
}

func TestTallySnapshotDoesNotMutate(t *testing.T) {
	tl := NewTally(2, 3)
	tl.RecordSuccess()
	before := tl.Snapshot()
	after := tl.Snapshot()
	assert.Equal(t, before, after)
}
