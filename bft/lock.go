package bft

import (
	"bytes"
	"fmt"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
)

// LOCKING ON VALUES

// NOTE: After PreCommitting a value at round r, a correct authority is 'locked' on it: it only PreVotes for that
// value in later rounds unless shown a quorum of PreVotes (Proof of Lock Change) for a different value at a round
// above its lock. Since any PreCommit quorum shares at least one correct authority with every later PreVote quorum,
// no other value can gather a PoLC once a value is decided - this is what makes two conflicting commits impossible.

// Lock is the value this authority is locked on and the PreVote quorum that justified locking
type Lock struct {
	Round     uint64                 `json:"round"`
	Value     []byte                 `json:"value"`
	ValueHash []byte                 `json:"valueHash"`
	PoLC      *lib.QuorumCertificate `json:"polc"`
}

// Copy() returns a reference to a clone of the Lock
func (l *Lock) Copy() *Lock {
	if l == nil {
		return nil
	}
	return &Lock{Round: l.Round, Value: bytes.Clone(l.Value), ValueHash: bytes.Clone(l.ValueHash), PoLC: l.PoLC}
}

// String() returns the log string format of Lock
func (l *Lock) String() string {
	if l == nil {
		return "Unlocked"
	}
	return fmt.Sprintf("Lock(R:%d){value: %s}", l.Round, lib.BytesToTruncatedString(l.ValueHash))
}

// LockTracker holds at most one lock per height; the locked round only moves forward
type LockTracker struct {
	height      uint64
	lock        *Lock
	authorities *lib.AuthoritySet
	verifier    lib.VerifierI
}

// NewLockTracker() creates an unlocked tracker for the height
func NewLockTracker(height uint64, authorities *lib.AuthoritySet, verifier lib.VerifierI) *LockTracker {
	return &LockTracker{height: height, authorities: authorities, verifier: verifier}
}

// Accepts() validates a lock candidate without changing state
// The candidate must be a non-nil PreVote quorum for hash(value) at (height, round) and round must be above the
// current lock
func (l *LockTracker) Accepts(round uint64, value []byte, polc *lib.QuorumCertificate) bool {
	if polc == nil || polc.IsNil() || polc.Step != lib.StepPreVote {
		return false
	}
	if polc.Height != l.height || polc.Round != round {
		return false
	}
	if !bytes.Equal(polc.ValueHash, crypto.Hash(value)) {
		return false
	}
	if l.lock != nil && round <= l.lock.Round {
		return false
	}
	return polc.Check(l.authorities, l.verifier) == nil
}

// Update() moves the lock to (round, value) if Accepts() allows it, returning whether it did
func (l *LockTracker) Update(round uint64, value []byte, polc *lib.QuorumCertificate) bool {
	if !l.Accepts(round, value, polc) {
		return false
	}
	l.lock = &Lock{Round: round, Value: bytes.Clone(value), ValueHash: bytes.Clone(polc.ValueHash), PoLC: polc}
	return true
}

// Current() returns a copy of the lock or nil if unlocked
func (l *LockTracker) Current() *Lock { return l.lock.Copy() }

// SafeNode() decides if a proposal may be PreVoted for given the lock:
// - unlocked: SAFE
// - the proposal is for the locked value: SAFE
// - the proposal carries a PoLC from a round above the lock: LIVENESS (the lock is stale)
func (l *LockTracker) SafeNode(p *lib.Proposal) lib.ErrorI {
	if l.lock == nil || bytes.Equal(l.lock.ValueHash, p.ValueHash) {
		return nil
	}
	if p.PoLC != nil && p.PoLC.Round > l.lock.Round {
		return nil
	}
	polcRound := uint64(0)
	if p.PoLC != nil {
		polcRound = p.PoLC.Round
	}
	return ErrFailedSafeNode(l.lock.Round, polcRound)
}

// Reset() clears the lock and re-targets the tracker at a new height
func (l *LockTracker) Reset(height uint64) {
	l.height, l.lock = height, nil
}
