package lib

import (
	"math"
)

// Authority is a voting participant identified by its public key, with a positive voting weight
type Authority struct {
	PublicKey []byte `json:"publicKey"`
	Weight    uint64 `json:"weight"`
}

// AuthoritySet is the ordered, weighted set of authorities for a height
// With total weight n and f = floor((n-1)/3), any two sets holding MinimumMaj23 = n-f weight overlap in at least
// f+1 weight, so they share a correct authority
type AuthoritySet struct {
	Authorities     []*Authority `json:"authorities"`
	TotalWeight     uint64       `json:"totalWeight"`
	MinimumMaj23    uint64       `json:"minimumMaj23"`    // 2f+1
	MinimumOneThird uint64       `json:"minimumOneThird"` // f+1
	index           map[string]int
}

// NewAuthoritySet() validates the authorities and computes the quorum thresholds
func NewAuthoritySet(authorities []*Authority) (*AuthoritySet, ErrorI) {
	if len(authorities) == 0 {
		return nil, ErrEmptyAuthoritySet()
	}
	set := &AuthoritySet{
		Authorities: make([]*Authority, 0, len(authorities)),
		index:       make(map[string]int, len(authorities)),
	}
	for _, a := range authorities {
		if a == nil || len(a.PublicKey) == 0 {
			return nil, ErrEmptyAuthorityKey()
		}
		if a.Weight == 0 {
			return nil, ErrZeroWeight(a.PublicKey)
		}
		key := string(a.PublicKey)
		if _, found := set.index[key]; found {
			return nil, ErrDuplicateAuthority(a.PublicKey)
		}
		if set.TotalWeight > math.MaxUint64-a.Weight {
			return nil, ErrWeightOverflow()
		}
		set.index[key] = len(set.Authorities)
		set.Authorities = append(set.Authorities, &Authority{PublicKey: a.PublicKey, Weight: a.Weight})
		set.TotalWeight += a.Weight
	}
	faulty := (set.TotalWeight - 1) / 3
	set.MinimumMaj23 = set.TotalWeight - faulty
	set.MinimumOneThird = faulty + 1
	return set, nil
}

// Get() returns the authority with the public key and its index in the set
func (x *AuthoritySet) Get(publicKey []byte) (*Authority, int, ErrorI) {
	i, found := x.index[string(publicKey)]
	if !found {
		return nil, 0, ErrUnknownAuthority(publicKey)
	}
	return x.Authorities[i], i, nil
}

// Contains() returns true if the public key is an authority
func (x *AuthoritySet) Contains(publicKey []byte) bool {
	_, found := x.index[string(publicKey)]
	return found
}

// Weight() returns the weight of the authority, 0 if it's not in the set
func (x *AuthoritySet) Weight(publicKey []byte) uint64 {
	if i, found := x.index[string(publicKey)]; found {
		return x.Authorities[i].Weight
	}
	return 0
}

// HasMaj23() returns true if weight reaches the 2f+1 quorum
func (x *AuthoritySet) HasMaj23(weight uint64) bool { return weight >= x.MinimumMaj23 }

// HasOneThird() returns true if weight reaches f+1, meaning at least one correct authority is included
func (x *AuthoritySet) HasOneThird(weight uint64) bool { return weight >= x.MinimumOneThird }

// MaxFaulty() returns f, the Byzantine weight the set tolerates
func (x *AuthoritySet) MaxFaulty() uint64 { return x.MinimumOneThird - 1 }
