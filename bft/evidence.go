package bft

import (
	"bytes"
	"fmt"

	"github.com/canopy-network/accord/lib"
)

// Evidence is proof that an authority signed two conflicting messages for the same position; exactly one
// field is set
type Evidence struct {
	DoubleSign     *DoubleSignEvidence     `json:"doubleSign,omitempty"`     // two votes for different values
	DoubleProposal *DoubleProposalEvidence `json:"doubleProposal,omitempty"` // two proposals for the same round
}

const (
	doubleSignKind     = "double_sign"
	doubleProposalKind = "double_proposal"
)

// Kind() returns a short label of the evidence type
func (e *Evidence) Kind() string {
	if e.DoubleProposal != nil {
		return doubleProposalKind
	}
	return doubleSignKind
}

// Offender() returns the authority that equivocated
func (e *Evidence) Offender() []byte {
	switch {
	case e.DoubleSign != nil:
		return e.DoubleSign.VoteA.Voter
	case e.DoubleProposal != nil:
		return e.DoubleProposal.ProposalA.Proposer
	}
	return nil
}

// Check() validates the evidence against the authority set
func (e *Evidence) Check(set *lib.AuthoritySet, verifier lib.VerifierI) lib.ErrorI {
	switch {
	case e.DoubleSign != nil && e.DoubleProposal == nil:
		return e.DoubleSign.Check(set, verifier)
	case e.DoubleProposal != nil && e.DoubleSign == nil:
		return e.DoubleProposal.Check(set, verifier)
	}
	return ErrInvalidEvidence("exactly one kind of evidence must be set")
}

// key() identifies the offence so the same equivocation is reported once regardless of which pair proves it
func (e *Evidence) key() string {
	switch {
	case e.DoubleSign != nil:
		v := e.DoubleSign.VoteA
		return fmt.Sprintf("%s/%x/%d/%d/%d", doubleSignKind, v.Voter, v.Height, v.Round, v.Step)
	case e.DoubleProposal != nil:
		p := e.DoubleProposal.ProposalA
		return fmt.Sprintf("%s/%x/%d/%d", doubleProposalKind, p.Proposer, p.Height, p.Round)
	}
	return ""
}

// String() returns the log string format of Evidence
func (e *Evidence) String() string {
	return fmt.Sprintf("Evidence{%s by %s}", e.Kind(), lib.BytesToTruncatedString(e.Offender()))
}

// DOUBLE SIGN EVIDENCE

// DoubleSignEvidence is two votes by one authority at the same (height, round, step) for different value hashes
type DoubleSignEvidence struct {
	VoteA *lib.Vote `json:"voteA"`
	VoteB *lib.Vote `json:"voteB"`
}

// Check() validates the two votes conflict and are both validly signed by a known authority
func (x *DoubleSignEvidence) Check(set *lib.AuthoritySet, verifier lib.VerifierI) lib.ErrorI {
	a, b := x.VoteA, x.VoteB
	if err := a.CheckBasic(); err != nil {
		return err
	}
	if err := b.CheckBasic(); err != nil {
		return err
	}
	if !bytes.Equal(a.Voter, b.Voter) {
		return ErrInvalidEvidence("votes are from different authorities")
	}
	if !a.View().Equals(b.View()) {
		return ErrInvalidEvidence("votes are for different positions")
	}
	if bytes.Equal(a.ValueHash, b.ValueHash) {
		return ErrInvalidEvidence("votes are for the same value")
	}
	if !set.Contains(a.Voter) {
		return lib.ErrUnknownAuthority(a.Voter)
	}
	if err := a.Verify(verifier); err != nil {
		return err
	}
	return b.Verify(verifier)
}

// DOUBLE PROPOSAL EVIDENCE

// DoubleProposalEvidence is two proposals by the same leader for one (height, round) with different values
type DoubleProposalEvidence struct {
	ProposalA *lib.Proposal `json:"proposalA"`
	ProposalB *lib.Proposal `json:"proposalB"`
}

// Check() validates the two proposals conflict and are both validly signed by a known authority
func (x *DoubleProposalEvidence) Check(set *lib.AuthoritySet, verifier lib.VerifierI) lib.ErrorI {
	a, b := x.ProposalA, x.ProposalB
	if err := a.CheckBasic(); err != nil {
		return err
	}
	if err := b.CheckBasic(); err != nil {
		return err
	}
	if !bytes.Equal(a.Proposer, b.Proposer) {
		return ErrInvalidEvidence("proposals are from different authorities")
	}
	if a.Height != b.Height || a.Round != b.Round {
		return ErrInvalidEvidence("proposals are for different rounds")
	}
	if bytes.Equal(a.ValueHash, b.ValueHash) {
		return ErrInvalidEvidence("proposals are for the same value")
	}
	if !set.Contains(a.Proposer) {
		return lib.ErrUnknownAuthority(a.Proposer)
	}
	if err := a.Verify(verifier); err != nil {
		return err
	}
	return b.Verify(verifier)
}

// EVIDENCE POOL

// EvidencePool collects the evidence observed during a height, each offence once
type EvidencePool struct {
	seen     *lib.DeDuplicator[string]
	evidence []*Evidence
}

// NewEvidencePool() creates an empty pool
func NewEvidencePool() *EvidencePool {
	return &EvidencePool{seen: lib.NewDeDuplicator[string]()}
}

// Add() stores the evidence and returns true if the offence wasn't already known
func (p *EvidencePool) Add(e *Evidence) bool {
	if p.seen.Found(e.key()) {
		return false
	}
	p.evidence = append(p.evidence, e)
	return true
}

// List() returns the collected evidence in the order it was observed
func (p *EvidencePool) List() []*Evidence { return p.evidence }
