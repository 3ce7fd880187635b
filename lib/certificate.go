package lib

import (
	"bytes"
	"fmt"

	"github.com/canopy-network/accord/lib/crypto"
)

// QuorumCertificate is proof that at least 2f+1 weight voted for the same value hash (or nil) at one
// (height, round, step)
type QuorumCertificate struct {
	Height    uint64  `json:"height"`
	Round     uint64  `json:"round"`
	Step      Step    `json:"step"`
	ValueHash []byte  `json:"valueHash,omitempty"`
	Votes     []*Vote `json:"votes"`
}

// NewQuorumCertificate() builds a certificate from votes that all match the first one
func NewQuorumCertificate(votes []*Vote) *QuorumCertificate {
	if len(votes) == 0 {
		return nil
	}
	first := votes[0]
	return &QuorumCertificate{
		Height:    first.Height,
		Round:     first.Round,
		Step:      first.Step,
		ValueHash: first.ValueHash,
		Votes:     append([]*Vote(nil), votes...),
	}
}

// IsNil() returns true if the certificate is for no value
func (x *QuorumCertificate) IsNil() bool { return len(x.ValueHash) == 0 }

// View() returns the position the certificate was formed at
func (x *QuorumCertificate) View() *View { return &View{Height: x.Height, Round: x.Round, Step: x.Step} }

// CheckBasic() performs stateless validation: the votes must all match the certificate's position and value
func (x *QuorumCertificate) CheckBasic() ErrorI {
	if x == nil || len(x.Votes) == 0 {
		return ErrEmptyQuorumCertificate()
	}
	if !x.Step.IsVote() {
		return ErrInvalidStep(x.Step)
	}
	if !x.IsNil() && len(x.ValueHash) != crypto.HashSize {
		return ErrInvalidValueHash()
	}
	expected := &Vote{Height: x.Height, Round: x.Round, Step: x.Step, ValueHash: x.ValueHash}
	for _, v := range x.Votes {
		if err := v.CheckBasic(); err != nil {
			return err
		}
		if !v.Matches(expected) {
			return ErrMismatchVote()
		}
	}
	return nil
}

// Check() validates the certificate against an authority set: distinct known voters, valid signatures
// and at least 2f+1 combined weight
func (x *QuorumCertificate) Check(set *AuthoritySet, verifier VerifierI) ErrorI {
	if err := x.CheckBasic(); err != nil {
		return err
	}
	seen, weight := NewDeDuplicator[string](), uint64(0)
	for _, v := range x.Votes {
		if seen.Found(string(v.Voter)) {
			return ErrDuplicateVoter(v.Voter)
		}
		authority, _, err := set.Get(v.Voter)
		if err != nil {
			return err
		}
		if err = v.Verify(verifier); err != nil {
			return err
		}
		weight += authority.Weight
	}
	if !set.HasMaj23(weight) {
		return ErrNoMaj23(weight, set.MinimumMaj23)
	}
	return nil
}

// Weight() returns the combined weight of the distinct known voters in the certificate
func (x *QuorumCertificate) Weight(set *AuthoritySet) (weight uint64) {
	seen := NewDeDuplicator[string]()
	for _, v := range x.Votes {
		if !seen.Found(string(v.Voter)) {
			weight += set.Weight(v.Voter)
		}
	}
	return
}

// Equals() compares the position, value and voters of two certificates
func (x *QuorumCertificate) Equals(qc *QuorumCertificate) bool {
	if x == nil || qc == nil {
		return x == qc
	}
	if x.Height != qc.Height || x.Round != qc.Round || x.Step != qc.Step || !bytes.Equal(x.ValueHash, qc.ValueHash) {
		return false
	}
	if len(x.Votes) != len(qc.Votes) {
		return false
	}
	for i := range x.Votes {
		if !bytes.Equal(x.Votes[i].Voter, qc.Votes[i].Voter) || !bytes.Equal(x.Votes[i].Signature, qc.Votes[i].Signature) {
			return false
		}
	}
	return true
}

// String() returns the log string format of QuorumCertificate
func (x *QuorumCertificate) String() string {
	value := "nil"
	if !x.IsNil() {
		value = BytesToTruncatedString(x.ValueHash)
	}
	return fmt.Sprintf("QC%s{value: %s, votes: %d}", x.View().ToString(), value, len(x.Votes))
}
