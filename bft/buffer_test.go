package bft

import (
	"testing"

	"github.com/canopy-network/accord/lib"
	"github.com/stretchr/testify/require"
)

func TestFutureBuffer(t *testing.T) {
	signers := newTestSigners(t, 1)
	msg := func(height uint64) *lib.Message {
		return &lib.Message{Vote: newTestVote(signers[0], height, 0, lib.StepPreVote, hashA)}
	}
	b := NewFutureBuffer(4)
	require.True(t, b.Add(msg(2)))
	require.True(t, b.Add(msg(3)))
	require.True(t, b.Add(msg(3)))
	require.True(t, b.Add(msg(5)))
	// full
	require.False(t, b.Add(msg(4)))
	require.Equal(t, 4, b.Len())
	// taking height 3 drops what is left for height 2
	taken := b.Take(3)
	require.Len(t, taken, 2)
	for _, m := range taken {
		require.EqualValues(t, 3, m.Height())
	}
	require.Equal(t, 1, b.Len())
	require.Empty(t, b.Take(4))
	require.True(t, b.Add(msg(4)))
	require.Len(t, b.Take(5), 1)
	// the message for height 4 was below 5
	require.Zero(t, b.Len())
}
