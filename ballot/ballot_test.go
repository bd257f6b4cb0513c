package ballot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateNeverZero(t *testing.T) {
	b := Generate(3)
	require.NotZero(t, b)
	assert.Equal(t, uint16(3), Owner(b))
}

func TestOwnerTimestampRoundTrip(t *testing.T) {
	b := (uint64(123456) << 16) | uint64(7)
	assert.Equal(t, uint16(7), Owner(b))
	assert.Equal(t, uint64(123456), Timestamp(b))
}

func TestLessOrdersByTimestampThenOwner(t *testing.T) {
	low := (uint64(1) << 16) | uint64(9)
	high := (uint64(2) << 16) | uint64(0)
	assert.True(t, Less(low, high))
	assert.False(t, Less(high, low))
}

func TestGenerateMonotonicAcrossCalls(t *testing.T) {
	a := Generate(1)
	b := Generate(1)
	assert.True(t, a <= b)
}
