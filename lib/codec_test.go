package lib

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMessageEncoding(t *testing.T) {
	s, _ := newTestSigners(t, 4)
	value := []byte("value")
	proposal := &Proposal{
		Height:    1,
		Round:     2,
		Value:     value,
		ValueHash: testValueHash,
		PoLC:      s.qc(StepPreVote, testValueHash, 0, 1, 2),
		Proposer:  s[3].PublicKey(),
	}
	proposal.Signature, _ = s[3].Sign(proposal.SignBytes())
	tests := []struct {
		name   string
		detail string
		msg    *Message
	}{
		{
			name:   "proposal",
			detail: "a proposal with its proof of lock change",
			msg:    &Message{Proposal: proposal},
		},
		{
			name:   "vote",
			detail: "a vote for a value",
			msg:    &Message{Vote: s.vote(0, 0, StepPreCommit, testValueHash)},
		},
		{
			name:   "commit",
			detail: "a decided value with its certificate",
			msg:    &Message{Commit: &CommitCertificate{Value: value, QC: s.qc(StepPreCommit, testValueHash, 0, 1, 2)}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bz := test.msg.Marshal()
			got, err := NewMessageFromBytes(bz)
			require.NoError(t, err)
			// the encoding is canonical
			require.Equal(t, bz, got.Marshal())
			require.Equal(t, test.msg.Height(), got.Height())
			require.Equal(t, test.msg.Sender(), got.Sender())
		})
	}
}

func TestSignBytes(t *testing.T) {
	s, _ := newTestSigners(t, 1)
	v := s.vote(0, 0, StepPreVote, testValueHash)
	// the signature is not part of what is signed
	signed := v.SignBytes()
	v.Signature = []byte("other")
	require.Equal(t, signed, v.SignBytes())
	// every field is
	for _, change := range []func(v *Vote){
		func(v *Vote) { v.Height++ },
		func(v *Vote) { v.Round++ },
		func(v *Vote) { v.Step = StepPreCommit },
		func(v *Vote) { v.ValueHash = nil },
	} {
		c := *v
		change(&c)
		require.NotEqual(t, signed, c.SignBytes())
	}
	// votes and proposals sign under different domains
	p := &Proposal{Height: 1, ValueHash: testValueHash, Proposer: v.Voter}
	require.False(t, bytes.Equal(signed, p.SignBytes()))
}

func TestDecodeRejects(t *testing.T) {
	s, _ := newTestSigners(t, 1)
	vote := s.vote(0, 0, StepPreVote, testValueHash)
	tests := []struct {
		name         string
		detail       string
		bz           []byte
		expectedCode ErrorCode
	}{
		{
			name:         "truncated",
			detail:       "a length prefix longer than the data",
			bz:           (&Message{Vote: vote}).Marshal()[:10],
			expectedCode: CodeUnmarshal,
		},
		{
			name:   "unknown step",
			detail: "steps beyond commit are not defined",
			bz: func() []byte {
				v := AppendVarintField(nil, 1, 1)
				v = AppendVarintField(v, 3, 9)
				return AppendBytesField(nil, 2, v)
			}(),
			expectedCode: CodeUnmarshal,
		},
		{
			name:         "empty",
			detail:       "a message must carry a payload",
			bz:           nil,
			expectedCode: CodeEmptyMessage,
		},
		{
			name:   "two payloads",
			detail: "exactly one payload per message",
			bz: func() []byte {
				b := AppendBytesField(nil, 2, vote.Marshal())
				return append(b, (&Message{Commit: &CommitCertificate{Value: []byte("x")}}).Marshal()...)
			}(),
			expectedCode: CodeMultipleMessagePayloads,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewMessageFromBytes(test.bz)
			require.Error(t, err)
			require.Equal(t, test.expectedCode, err.Code())
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	s, _ := newTestSigners(t, 1)
	vote := s.vote(0, 0, StepPreVote, testValueHash)
	bz := (&Message{Vote: vote}).Marshal()
	bz = protowire.AppendTag(bz, 9, protowire.Fixed64Type)
	bz = protowire.AppendFixed64(bz, 42)
	got, err := NewMessageFromBytes(bz)
	require.NoError(t, err)
	require.Equal(t, vote, got.Vote)
}
