package bft

import (
	"bytes"
	"testing"

	"github.com/canopy-network/accord/lib"
	"github.com/stretchr/testify/require"
)

func TestWeightedRoundRobin(t *testing.T) {
	signers := newTestSigners(t, 4)
	set := newTestSet(t, signers)
	tests := []struct {
		name     string
		detail   string
		height   uint64
		round    uint64
		expected int
	}{
		{
			name:     "height 1 round 0",
			detail:   "the token index is (height + round) mod total weight",
			height:   1,
			round:    0,
			expected: 1,
		},
		{
			name:     "next round",
			detail:   "a round change moves to the next authority",
			height:   1,
			round:    1,
			expected: 2,
		},
		{
			name:     "wraps",
			detail:   "the index wraps around the set",
			height:   1,
			round:    3,
			expected: 0,
		},
		{
			name:     "next height",
			detail:   "consecutive heights rotate the round 0 leader",
			height:   2,
			round:    0,
			expected: 2,
		},
		{
			name:     "max values",
			detail:   "the sum of height and round never overflows",
			height:   ^uint64(0),
			round:    ^uint64(0),
			expected: 2, // (3 + 3) mod 4
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			leader := WeightedRoundRobin{}.Leader(test.height, test.round, set)
			require.Equal(t, signers[test.expected].PublicKey(), leader)
		})
	}
}

func TestLeaderProportionalToWeight(t *testing.T) {
	signers := newTestSigners(t, 3)
	weights := []uint64{1, 2, 5}
	authorities := make([]*lib.Authority, len(signers))
	for i, s := range signers {
		authorities[i] = &lib.Authority{PublicKey: s.PublicKey(), Weight: weights[i]}
	}
	set, err := lib.NewAuthoritySet(authorities)
	require.NoError(t, err)
	for _, height := range []uint64{1, 7, 100} {
		counts := make([]uint64, len(signers))
		for round := uint64(0); round < set.TotalWeight; round++ {
			leader := WeightedRoundRobin{}.Leader(height, round, set)
			for i, s := range signers {
				if bytes.Equal(s.PublicKey(), leader) {
					counts[i]++
				}
			}
		}
		require.Equal(t, weights, counts, "height %d", height)
	}
}

func TestSeededRandom(t *testing.T) {
	signers := newTestSigners(t, 4)
	set := newTestSet(t, signers)
	leaders := make(map[string]int)
	for round := uint64(0); round < 200; round++ {
		leader := SeededRandom{}.Leader(3, round, set)
		// deterministic across calls and authorities
		require.Equal(t, leader, SeededRandom{}.Leader(3, round, set))
		require.True(t, set.Contains(leader))
		leaders[string(leader)]++
	}
	// every authority leads some round
	require.Len(t, leaders, len(signers))
}
