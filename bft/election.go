package bft

import (
	"math/rand/v2"

	"github.com/canopy-network/accord/lib"
)

/*
	LEADER SELECTION:

		Every authority must agree on the leader of (height, round) without communicating, so selection is a pure
		function of the height, the round and the authority set.

		1) Weighted round-robin: a 'token index' (height + round) mod totalWeight is landed on the authority
		set ordered as given, each authority owning a span of indices equal to its weight. Successive rounds
		walk the set so an unavailable leader is skipped after one round change.

		2) Seeded random: the token index is drawn from a PCG generator seeded with (height, round). Harder
		to predict more than one round ahead but still deterministic across authorities.

	Both are weighted: over totalWeight consecutive rounds an authority leads once per unit of weight.
*/

// LeaderSelector picks the proposer of (height, round); implementations must be pure
type LeaderSelector interface {
	Leader(height, round uint64, set *lib.AuthoritySet) []byte
}

var (
	_ LeaderSelector = WeightedRoundRobin{}
	_ LeaderSelector = SeededRandom{}
)

// WeightedRoundRobin selects leaders in order of the authority set, proportionally to weight
type WeightedRoundRobin struct{}

// Leader() implements LeaderSelector
func (WeightedRoundRobin) Leader(height, round uint64, set *lib.AuthoritySet) []byte {
	total := set.TotalWeight
	// reduce each term first so the sum can't overflow
	return tokenOwner((height%total+round%total)%total, set)
}

// SeededRandom selects leaders pseudo-randomly, proportionally to weight
type SeededRandom struct{}

// Leader() implements LeaderSelector
func (SeededRandom) Leader(height, round uint64, set *lib.AuthoritySet) []byte {
	r := rand.New(rand.NewPCG(height, round))
	return tokenOwner(r.Uint64N(set.TotalWeight), set)
}

// tokenOwner() returns the authority whose cumulative weight span contains the token index
func tokenOwner(token uint64, set *lib.AuthoritySet) []byte {
	for _, a := range set.Authorities {
		if token < a.Weight {
			return a.PublicKey
		}
		token -= a.Weight
	}
	// unreachable for token < TotalWeight
	return set.Authorities[len(set.Authorities)-1].PublicKey
}
