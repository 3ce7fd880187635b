package bft

import (
	"bytes"
	"fmt"

	"github.com/canopy-network/accord/lib"
)

// AGGREGATING VOTES FROM AUTHORITIES

// NOTE: A 'Vote' is an authority's signature over (height, round, step, value hash). Votes are grouped by that
// tuple into VoteSets; once a VoteSet holds 2f+1 weight it becomes a QuorumCertificate. Each authority may
// vote once per (height, round, step): a second, different vote is equivocation and is reported, never counted.

// AggregationStatus is the outcome of adding one vote
type AggregationStatus int

const (
	Pending          AggregationStatus = iota // counted; no quorum yet
	Quorum                                    // counted; this vote completed a quorum certificate
	Equivocation                              // conflicts with an earlier vote by the same authority; not counted
	DuplicateIgnored                          // already known, or arrived after its VoteSet reached quorum
)

// String() returns the log string format of AggregationStatus
func (s AggregationStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Quorum:
		return "QUORUM"
	case Equivocation:
		return "EQUIVOCATION"
	case DuplicateIgnored:
		return "DUPLICATE_IGNORED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// AggregationResult carries the certificate for Quorum and the evidence for Equivocation
type AggregationResult struct {
	Status   AggregationStatus
	QC       *lib.QuorumCertificate
	Evidence *DoubleSignEvidence
}

type (
	// stepKey identifies a (height, round, step)
	stepKey struct {
		height, round uint64
		step          lib.Step
	}
	// roundKey identifies a (height, round)
	roundKey struct{ height, round uint64 }
	// VoteSet holds the matching votes for one (height, round, step, value hash) and their combined weight
	VoteSet struct {
		Votes       []*lib.Vote            `json:"votes"`
		TotalWeight uint64                 `json:"totalWeight"`
		QC          *lib.QuorumCertificate `json:"qc,omitempty"`
	}
	// castVotes is what one authority signed at one (height, round, step): its first vote and every value hash
	// seen from it so far
	castVotes struct {
		first  *lib.Vote
		hashes map[string]struct{}
	}
)

// VoteAggregator collects votes into quorum certificates; owned by a single consumer, not safe for concurrent use
type VoteAggregator struct {
	authorities *lib.AuthoritySet
	verifier    lib.VerifierI
	sets        map[stepKey]map[string]*VoteSet    // [height/round/step] -> [value hash] -> VoteSet
	cast        map[stepKey]map[string]*castVotes  // [height/round/step] -> [authority] -> votes cast
	voters      map[roundKey]map[string]struct{}   // [height/round] -> authorities heard from
	weights     map[roundKey]uint64                // [height/round] -> weight of authorities heard from
	certified   map[stepKey]*lib.QuorumCertificate // [height/round/step] -> first certificate formed
	log         lib.LoggerI
}

// NewVoteAggregator() creates an aggregator for votes from the authority set
func NewVoteAggregator(authorities *lib.AuthoritySet, verifier lib.VerifierI, log lib.LoggerI) *VoteAggregator {
	return &VoteAggregator{
		authorities: authorities,
		verifier:    verifier,
		sets:        make(map[stepKey]map[string]*VoteSet),
		cast:        make(map[stepKey]map[string]*castVotes),
		voters:      make(map[roundKey]map[string]struct{}),
		weights:     make(map[roundKey]uint64),
		certified:   make(map[stepKey]*lib.QuorumCertificate),
		log:         log,
	}
}

// AddVote() verifies and counts a vote
// Errors are returned for votes that can never count (malformed, unknown authority, bad signature); everything
// else is described by the result
func (a *VoteAggregator) AddVote(vote *lib.Vote) (AggregationResult, lib.ErrorI) {
	if err := vote.CheckBasic(); err != nil {
		return AggregationResult{}, err
	}
	authority, _, err := a.authorities.Get(vote.Voter)
	if err != nil {
		return AggregationResult{}, err
	}
	if err = vote.Verify(a.verifier); err != nil {
		return AggregationResult{}, err
	}
	sk, voter, hash := stepKey{vote.Height, vote.Round, vote.Step}, string(vote.Voter), string(vote.ValueHash)
	// check what this authority already signed at this step
	if a.cast[sk] == nil {
		a.cast[sk] = make(map[string]*castVotes)
	}
	if prior, found := a.cast[sk][voter]; found {
		if _, known := prior.hashes[hash]; known {
			return AggregationResult{Status: DuplicateIgnored}, nil
		}
		prior.hashes[hash] = struct{}{}
		a.log.Warnf("Equivocation by %s at %s", lib.BytesToTruncatedString(vote.Voter), vote.View().ToString())
		return AggregationResult{
			Status:   Equivocation,
			Evidence: &DoubleSignEvidence{VoteA: prior.first, VoteB: vote},
		}, nil
	}
	a.cast[sk][voter] = &castVotes{first: vote, hashes: map[string]struct{}{hash: {}}}
	// track the weight heard from at this round, regardless of step or value
	rk := roundKey{vote.Height, vote.Round}
	if a.voters[rk] == nil {
		a.voters[rk] = make(map[string]struct{})
	}
	if _, found := a.voters[rk][voter]; !found {
		a.voters[rk][voter] = struct{}{}
		a.weights[rk] += authority.Weight
	}
	// add the vote to the set for its value
	voteSet := a.getVoteSet(sk, hash)
	if voteSet.QC != nil {
		return AggregationResult{Status: DuplicateIgnored}, nil
	}
	voteSet.Votes = append(voteSet.Votes, vote)
	voteSet.TotalWeight += authority.Weight
	if !a.authorities.HasMaj23(voteSet.TotalWeight) {
		return AggregationResult{Status: Pending}, nil
	}
	voteSet.QC = lib.NewQuorumCertificate(voteSet.Votes)
	if _, found := a.certified[sk]; !found {
		a.certified[sk] = voteSet.QC
	}
	return AggregationResult{Status: Quorum, QC: voteSet.QC}, nil
}

// getVoteSet() returns the set of votes for the (height, round, step, value hash), creating it if needed
func (a *VoteAggregator) getVoteSet(sk stepKey, hash string) *VoteSet {
	if a.sets[sk] == nil {
		a.sets[sk] = make(map[string]*VoteSet)
	}
	voteSet, found := a.sets[sk][hash]
	if !found {
		voteSet = new(VoteSet)
		a.sets[sk][hash] = voteSet
	}
	return voteSet
}

// Certificate() returns the quorum certificate formed at (height, round, step), or nil
// Quorum intersection allows only one value (or nil) per position unless more than f weight equivocates
func (a *VoteAggregator) Certificate(height, round uint64, step lib.Step) *lib.QuorumCertificate {
	return a.certified[stepKey{height, round, step}]
}

// Weight() returns the weight behind one value hash (nil for nil votes) at (height, round, step)
func (a *VoteAggregator) Weight(height, round uint64, step lib.Step, valueHash []byte) uint64 {
	if voteSet, found := a.sets[stepKey{height, round, step}][string(valueHash)]; found {
		return voteSet.TotalWeight
	}
	return 0
}

// RoundWeight() returns the combined weight of distinct authorities that voted anything at (height, round)
func (a *VoteAggregator) RoundWeight(height, round uint64) uint64 {
	return a.weights[roundKey{height, round}]
}

// Votes() returns the first vote of every authority at (height, round, step) for the value hash
func (a *VoteAggregator) Votes(height, round uint64, step lib.Step, valueHash []byte) (votes []*lib.Vote) {
	for _, c := range a.cast[stepKey{height, round, step}] {
		if bytes.Equal(c.first.ValueHash, valueHash) {
			votes = append(votes, c.first)
		}
	}
	return
}

// Prune() forgets everything at or below height
func (a *VoteAggregator) Prune(height uint64) {
	for k := range a.sets {
		if k.height <= height {
			delete(a.sets, k)
			delete(a.cast, k)
			delete(a.certified, k)
		}
	}
	for k := range a.voters {
		if k.height <= height {
			delete(a.voters, k)
			delete(a.weights, k)
		}
	}
}
