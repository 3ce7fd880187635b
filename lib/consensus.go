package lib

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/canopy-network/accord/lib/crypto"
)

/* This file defines the messages exchanged by the agreement engine: proposals, votes and commit certificates */

// Step is the phase of a round; the order of the constants is the order they are passed through
type Step uint8

const (
	StepPropose Step = iota
	StepPreVote
	StepPreCommit
	StepCommit
)

// String() returns the human-readable name of the step
func (s Step) String() string {
	switch s {
	case StepPropose:
		return "PROPOSE"
	case StepPreVote:
		return "PRE_VOTE"
	case StepPreCommit:
		return "PRE_COMMIT"
	case StepCommit:
		return "COMMIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// IsVote() returns true if authorities cast votes in this step
func (s Step) IsVote() bool { return s == StepPreVote || s == StepPreCommit }

// MarshalJSON() renders the step by name
func (s Step) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON() parses a step rendered by MarshalJSON()
func (s *Step) UnmarshalJSON(bz []byte) error {
	var name string
	if err := json.Unmarshal(bz, &name); err != nil {
		return err
	}
	for step := StepPropose; step <= StepCommit; step++ {
		if step.String() == name {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", name)
}

// View is a position in the protocol: a height, a round within it and a step within that round
type View struct {
	Height uint64 `json:"height"`
	Round  uint64 `json:"round"`
	Step   Step   `json:"step"`
}

// Copy() returns a reference to a clone of the View
func (x *View) Copy() *View {
	return &View{Height: x.Height, Round: x.Round, Step: x.Step}
}

// Equals() compares two views
func (x *View) Equals(v *View) bool {
	if x == nil || v == nil {
		return x == v
	}
	return x.Height == v.Height && x.Round == v.Round && x.Step == v.Step
}

// Less() returns true if x is ordered before v (height, then round, then step)
func (x *View) Less(v *View) bool {
	switch {
	case x.Height != v.Height:
		return x.Height < v.Height
	case x.Round != v.Round:
		return x.Round < v.Round
	default:
		return x.Step < v.Step
	}
}

// ToString() returns the log string format of View
func (x *View) ToString() string {
	return fmt.Sprintf("(H:%d, R:%d, S:%s)", x.Height, x.Round, x.Step)
}

// VOTE CODE BELOW

// Vote is a signed statement by one authority for a value hash (empty means nil) at (height, round, step)
type Vote struct {
	Height    uint64 `json:"height"`
	Round     uint64 `json:"round"`
	Step      Step   `json:"step"`
	ValueHash []byte `json:"valueHash,omitempty"`
	Voter     []byte `json:"voter"`
	Signature []byte `json:"signature"`
}

// IsNil() returns true if the vote is for no value
func (x *Vote) IsNil() bool { return len(x.ValueHash) == 0 }

// View() returns the position the vote was cast at
func (x *Vote) View() *View { return &View{Height: x.Height, Round: x.Round, Step: x.Step} }

// CheckBasic() performs stateless validation of a vote
func (x *Vote) CheckBasic() ErrorI {
	if x == nil {
		return ErrEmptyMessage()
	}
	if !x.Step.IsVote() {
		return ErrInvalidStep(x.Step)
	}
	if !x.IsNil() && len(x.ValueHash) != crypto.HashSize {
		return ErrInvalidValueHash()
	}
	if len(x.Voter) == 0 {
		return ErrEmptyVoter()
	}
	if len(x.Signature) == 0 {
		return ErrEmptySignature()
	}
	return nil
}

// Matches() returns true if two votes are for the same value at the same position
func (x *Vote) Matches(v *Vote) bool {
	return x.Height == v.Height && x.Round == v.Round && x.Step == v.Step && bytes.Equal(x.ValueHash, v.ValueHash)
}

// Verify() checks the vote's signature with the given verifier
func (x *Vote) Verify(verifier VerifierI) ErrorI {
	if !verifier.Verify(x.Voter, x.SignBytes(), x.Signature) {
		return ErrInvalidSignature()
	}
	return nil
}

// String() returns the log string format of Vote
func (x *Vote) String() string {
	value := "nil"
	if !x.IsNil() {
		value = BytesToTruncatedString(x.ValueHash)
	}
	return fmt.Sprintf("Vote%s{value: %s, voter: %s}", x.View().ToString(), value, BytesToTruncatedString(x.Voter))
}

// PROPOSAL CODE BELOW

// Proposal is the leader's signed suggestion of a value for (height, round); PoLC justifies re-proposing a locked value
type Proposal struct {
	Height    uint64             `json:"height"`
	Round     uint64             `json:"round"`
	Value     []byte             `json:"value"`
	ValueHash []byte             `json:"valueHash"`
	PoLC      *QuorumCertificate `json:"polc,omitempty"`
	Proposer  []byte             `json:"proposer"`
	Signature []byte             `json:"signature"`
}

// CheckBasic() performs stateless validation of a proposal, including its value hash and the shape of its PoLC
func (x *Proposal) CheckBasic() ErrorI {
	if x == nil {
		return ErrEmptyMessage()
	}
	if len(x.ValueHash) != crypto.HashSize {
		return ErrInvalidValueHash()
	}
	if !bytes.Equal(x.ValueHash, crypto.Hash(x.Value)) {
		return ErrMismatchValueHash()
	}
	if len(x.Proposer) == 0 {
		return ErrEmptyVoter()
	}
	if len(x.Signature) == 0 {
		return ErrEmptySignature()
	}
	if x.PoLC != nil {
		if err := x.PoLC.CheckBasic(); err != nil {
			return err
		}
		switch {
		case x.PoLC.Step != StepPreVote:
			return ErrInvalidPoLC("not a pre-vote certificate")
		case x.PoLC.Height != x.Height:
			return ErrInvalidPoLC("wrong height")
		case x.PoLC.Round >= x.Round:
			return ErrInvalidPoLC("round is not below the proposal round")
		case !bytes.Equal(x.PoLC.ValueHash, x.ValueHash):
			return ErrInvalidPoLC("certifies a different value")
		}
	}
	return nil
}

// Verify() checks the proposer's signature with the given verifier
func (x *Proposal) Verify(verifier VerifierI) ErrorI {
	if !verifier.Verify(x.Proposer, x.SignBytes(), x.Signature) {
		return ErrInvalidSignature()
	}
	return nil
}

// String() returns the log string format of Proposal
func (x *Proposal) String() string {
	polc := "none"
	if x.PoLC != nil {
		polc = fmt.Sprintf("R:%d", x.PoLC.Round)
	}
	return fmt.Sprintf("Proposal(H:%d, R:%d){value: %s, polc: %s, proposer: %s}", x.Height, x.Round,
		BytesToTruncatedString(x.ValueHash), polc, BytesToTruncatedString(x.Proposer))
}

// COMMIT CERTIFICATE CODE BELOW

// CommitCertificate is a decided value together with the pre-commit quorum that decided it
type CommitCertificate struct {
	Value []byte             `json:"value"`
	QC    *QuorumCertificate `json:"qc"`
}

// CheckBasic() performs stateless validation of the certificate
func (x *CommitCertificate) CheckBasic() ErrorI {
	if x == nil || x.QC == nil {
		return ErrEmptyMessage()
	}
	if err := x.QC.CheckBasic(); err != nil {
		return err
	}
	if x.QC.Step != StepPreCommit {
		return ErrInvalidStep(x.QC.Step)
	}
	if x.QC.IsNil() {
		return ErrNilCommitCertificate()
	}
	if !bytes.Equal(x.QC.ValueHash, crypto.Hash(x.Value)) {
		return ErrMismatchValueHash()
	}
	return nil
}

// MESSAGE CODE BELOW

// Message is the network envelope; exactly one payload is set
type Message struct {
	Proposal *Proposal          `json:"proposal,omitempty"`
	Vote     *Vote              `json:"vote,omitempty"`
	Commit   *CommitCertificate `json:"commit,omitempty"`
}

// CheckBasic() ensures exactly one payload is present and that payload is well-formed
func (x *Message) CheckBasic() ErrorI {
	if x == nil {
		return ErrEmptyMessage()
	}
	count := 0
	for _, set := range []bool{x.Proposal != nil, x.Vote != nil, x.Commit != nil} {
		if set {
			count++
		}
	}
	switch {
	case count == 0:
		return ErrEmptyMessage()
	case count > 1:
		return ErrMultipleMessagePayloads()
	case x.Proposal != nil:
		return x.Proposal.CheckBasic()
	case x.Vote != nil:
		return x.Vote.CheckBasic()
	default:
		return x.Commit.CheckBasic()
	}
}

// Height() returns the height the payload belongs to
func (x *Message) Height() uint64 {
	switch {
	case x.Proposal != nil:
		return x.Proposal.Height
	case x.Vote != nil:
		return x.Vote.Height
	case x.Commit != nil && x.Commit.QC != nil:
		return x.Commit.QC.Height
	}
	return 0
}

// Sender() returns the authority that signed the payload, nil for commit certificates
func (x *Message) Sender() []byte {
	switch {
	case x.Proposal != nil:
		return x.Proposal.Proposer
	case x.Vote != nil:
		return x.Vote.Voter
	}
	return nil
}

// String() returns the log string format of the payload
func (x *Message) String() string {
	switch {
	case x.Proposal != nil:
		return x.Proposal.String()
	case x.Vote != nil:
		return x.Vote.String()
	case x.Commit != nil && x.Commit.QC != nil:
		return fmt.Sprintf("Commit(H:%d, R:%d){value: %s}", x.Commit.QC.Height, x.Commit.QC.Round,
			BytesToTruncatedString(x.Commit.QC.ValueHash))
	}
	return "EmptyMessage"
}

// VerifierI checks that signature is authority's signature over payload
type VerifierI interface {
	Verify(authority, payload, signature []byte) bool
}
