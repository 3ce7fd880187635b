package bft

import (
	"testing"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestEvidenceCheck(t *testing.T) {
	signers := newTestSigners(t, 4)
	set := newTestSet(t, signers)
	outsider := newTestSigner(t, "outsider")
	tests := []struct {
		name         string
		detail       string
		evidence     *Evidence
		expectedCode lib.ErrorCode // zero means valid
	}{
		{
			name:   "double sign",
			detail: "two votes from one authority at one position for different values",
			evidence: &Evidence{DoubleSign: &DoubleSignEvidence{
				VoteA: newTestVote(signers[0], 1, 0, lib.StepPreCommit, hashA),
				VoteB: newTestVote(signers[0], 1, 0, lib.StepPreCommit, hashB),
			}},
		},
		{
			name:   "double sign with nil",
			detail: "nil is a value like any other",
			evidence: &Evidence{DoubleSign: &DoubleSignEvidence{
				VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, nil),
				VoteB: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashB),
			}},
		},
		{
			name:   "same value",
			detail: "two votes for the same value are not an offence",
			evidence: &Evidence{DoubleSign: &DoubleSignEvidence{
				VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
				VoteB: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
			}},
			expectedCode: lib.CodeInvalidEvidence,
		},
		{
			name:   "different steps",
			detail: "a pre-vote and a pre-commit are different positions",
			evidence: &Evidence{DoubleSign: &DoubleSignEvidence{
				VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
				VoteB: newTestVote(signers[0], 1, 0, lib.StepPreCommit, hashB),
			}},
			expectedCode: lib.CodeInvalidEvidence,
		},
		{
			name:   "different voters",
			detail: "the votes must come from one authority",
			evidence: &Evidence{DoubleSign: &DoubleSignEvidence{
				VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
				VoteB: newTestVote(signers[1], 1, 0, lib.StepPreVote, hashB),
			}},
			expectedCode: lib.CodeInvalidEvidence,
		},
		{
			name:   "forged",
			detail: "both signatures must verify",
			evidence: &Evidence{DoubleSign: &DoubleSignEvidence{
				VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
				VoteB: func() *lib.Vote {
					v := newTestVote(signers[0], 1, 0, lib.StepPreVote, hashB)
					v.Signature = newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA).Signature
					return v
				}(),
			}},
			expectedCode: lib.CodeInvalidSignature,
		},
		{
			name:   "outsider",
			detail: "only authorities can be offenders",
			evidence: &Evidence{DoubleSign: &DoubleSignEvidence{
				VoteA: newTestVote(outsider, 1, 0, lib.StepPreVote, hashA),
				VoteB: newTestVote(outsider, 1, 0, lib.StepPreVote, hashB),
			}},
			expectedCode: lib.CodeUnknownAuthority,
		},
		{
			name:   "double proposal",
			detail: "two proposals from one leader for one round",
			evidence: &Evidence{DoubleProposal: &DoubleProposalEvidence{
				ProposalA: newTestProposal(signers[1], 1, 0, valueA, nil),
				ProposalB: newTestProposal(signers[1], 1, 0, valueB, nil),
			}},
		},
		{
			name:   "proposals in different rounds",
			detail: "a new round allows a new proposal",
			evidence: &Evidence{DoubleProposal: &DoubleProposalEvidence{
				ProposalA: newTestProposal(signers[1], 1, 0, valueA, nil),
				ProposalB: newTestProposal(signers[1], 1, 1, valueB, nil),
			}},
			expectedCode: lib.CodeInvalidEvidence,
		},
		{
			name:         "empty",
			detail:       "one kind of evidence must be set",
			evidence:     &Evidence{},
			expectedCode: lib.CodeInvalidEvidence,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.evidence.Check(set, crypto.Ed25519Verifier{})
			if test.expectedCode == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, test.expectedCode, err.Code())
		})
	}
}

func TestEvidenceOffender(t *testing.T) {
	signers := newTestSigners(t, 2)
	vote := &Evidence{DoubleSign: &DoubleSignEvidence{
		VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
		VoteB: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashB),
	}}
	require.Equal(t, doubleSignKind, vote.Kind())
	require.Equal(t, signers[0].PublicKey(), vote.Offender())
	proposal := &Evidence{DoubleProposal: &DoubleProposalEvidence{
		ProposalA: newTestProposal(signers[1], 1, 0, valueA, nil),
		ProposalB: newTestProposal(signers[1], 1, 0, valueB, nil),
	}}
	require.Equal(t, doubleProposalKind, proposal.Kind())
	require.Equal(t, signers[1].PublicKey(), proposal.Offender())
	require.Nil(t, (&Evidence{}).Offender())
}

func TestEvidencePool(t *testing.T) {
	signers := newTestSigners(t, 1)
	pool := NewEvidencePool()
	first := &Evidence{DoubleSign: &DoubleSignEvidence{
		VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
		VoteB: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashB),
	}}
	// a different pair proving the same offence
	again := &Evidence{DoubleSign: &DoubleSignEvidence{
		VoteA: newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA),
		VoteB: newTestVote(signers[0], 1, 0, lib.StepPreVote, nil),
	}}
	other := &Evidence{DoubleSign: &DoubleSignEvidence{
		VoteA: newTestVote(signers[0], 1, 0, lib.StepPreCommit, hashA),
		VoteB: newTestVote(signers[0], 1, 0, lib.StepPreCommit, hashB),
	}}
	require.True(t, pool.Add(first))
	require.False(t, pool.Add(again))
	require.True(t, pool.Add(other))
	require.Equal(t, []*Evidence{first, other}, pool.List())
}
