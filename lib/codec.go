package lib

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

/*
	Canonical binary encoding of consensus messages in protobuf wire format. Fields are always written in
	ascending field order so the encoding of a message is deterministic, which lets the same bytes serve as the
	signing payload (minus the signature, plus a domain tag) and as the network and recovery log encoding.
*/

const (
	domainField protowire.Number = 15

	voteDomain     = "accord/vote"
	proposalDomain = "accord/proposal"
)

// VOTE

// SignBytes() returns the canonical bytes an authority signs when casting the vote
func (x *Vote) SignBytes() []byte {
	return x.appendFields(AppendBytesField(nil, domainField, []byte(voteDomain)), false)
}

// Marshal() encodes the vote including its signature
func (x *Vote) Marshal() []byte { return x.appendFields(nil, true) }

func (x *Vote) appendFields(b []byte, withSignature bool) []byte {
	b = AppendVarintField(b, 1, x.Height)
	b = AppendVarintField(b, 2, x.Round)
	b = AppendVarintField(b, 3, uint64(x.Step))
	b = AppendBytesField(b, 4, x.ValueHash)
	b = AppendBytesField(b, 5, x.Voter)
	if withSignature {
		b = AppendBytesField(b, 6, x.Signature)
	}
	return b
}

// Unmarshal() decodes a vote produced by Marshal()
func (x *Vote) Unmarshal(bz []byte) ErrorI {
	return DecodeFields(bz, func(num protowire.Number, v uint64, field []byte) (err ErrorI) {
		switch num {
		case 1:
			x.Height = v
		case 2:
			x.Round = v
		case 3:
			x.Step, err = stepFromVarint(v)
		case 4:
			x.ValueHash = field
		case 5:
			x.Voter = field
		case 6:
			x.Signature = field
		}
		return
	})
}

// QUORUM CERTIFICATE

// Marshal() encodes the certificate and all of its votes
func (x *QuorumCertificate) Marshal() []byte {
	b := AppendVarintField(nil, 1, x.Height)
	b = AppendVarintField(b, 2, x.Round)
	b = AppendVarintField(b, 3, uint64(x.Step))
	b = AppendBytesField(b, 4, x.ValueHash)
	for _, v := range x.Votes {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Marshal())
	}
	return b
}

// Unmarshal() decodes a certificate produced by Marshal()
func (x *QuorumCertificate) Unmarshal(bz []byte) ErrorI {
	return DecodeFields(bz, func(num protowire.Number, v uint64, field []byte) (err ErrorI) {
		switch num {
		case 1:
			x.Height = v
		case 2:
			x.Round = v
		case 3:
			x.Step, err = stepFromVarint(v)
		case 4:
			x.ValueHash = field
		case 5:
			vote := new(Vote)
			if err = vote.Unmarshal(field); err == nil {
				x.Votes = append(x.Votes, vote)
			}
		}
		return
	})
}

// PROPOSAL

// SignBytes() returns the canonical bytes the proposer signs; the value is covered through its hash
func (x *Proposal) SignBytes() []byte {
	b := AppendBytesField(nil, domainField, []byte(proposalDomain))
	b = AppendVarintField(b, 1, x.Height)
	b = AppendVarintField(b, 2, x.Round)
	b = AppendBytesField(b, 4, x.ValueHash)
	if x.PoLC != nil {
		b = AppendBytesField(b, 5, x.PoLC.Marshal())
	}
	return AppendBytesField(b, 6, x.Proposer)
}

// Marshal() encodes the proposal including its value and signature
func (x *Proposal) Marshal() []byte {
	b := AppendVarintField(nil, 1, x.Height)
	b = AppendVarintField(b, 2, x.Round)
	b = AppendBytesField(b, 3, x.Value)
	b = AppendBytesField(b, 4, x.ValueHash)
	if x.PoLC != nil {
		b = AppendBytesField(b, 5, x.PoLC.Marshal())
	}
	b = AppendBytesField(b, 6, x.Proposer)
	return AppendBytesField(b, 7, x.Signature)
}

// Unmarshal() decodes a proposal produced by Marshal()
func (x *Proposal) Unmarshal(bz []byte) ErrorI {
	return DecodeFields(bz, func(num protowire.Number, v uint64, field []byte) (err ErrorI) {
		switch num {
		case 1:
			x.Height = v
		case 2:
			x.Round = v
		case 3:
			x.Value = field
		case 4:
			x.ValueHash = field
		case 5:
			x.PoLC = new(QuorumCertificate)
			err = x.PoLC.Unmarshal(field)
		case 6:
			x.Proposer = field
		case 7:
			x.Signature = field
		}
		return
	})
}

// COMMIT CERTIFICATE

// Marshal() encodes the decided value and its certificate
func (x *CommitCertificate) Marshal() []byte {
	b := AppendBytesField(nil, 1, x.Value)
	if x.QC != nil {
		b = AppendBytesField(b, 2, x.QC.Marshal())
	}
	return b
}

// Unmarshal() decodes a commit certificate produced by Marshal()
func (x *CommitCertificate) Unmarshal(bz []byte) ErrorI {
	return DecodeFields(bz, func(num protowire.Number, _ uint64, field []byte) (err ErrorI) {
		switch num {
		case 1:
			x.Value = field
		case 2:
			x.QC = new(QuorumCertificate)
			err = x.QC.Unmarshal(field)
		}
		return
	})
}

// MESSAGE

// Marshal() encodes the envelope with whichever payload is set
func (x *Message) Marshal() []byte {
	var b []byte
	if x.Proposal != nil {
		b = AppendBytesField(b, 1, x.Proposal.Marshal())
	}
	if x.Vote != nil {
		b = AppendBytesField(b, 2, x.Vote.Marshal())
	}
	if x.Commit != nil {
		b = AppendBytesField(b, 3, x.Commit.Marshal())
	}
	return b
}

// Unmarshal() decodes an envelope produced by Marshal()
func (x *Message) Unmarshal(bz []byte) ErrorI {
	return DecodeFields(bz, func(num protowire.Number, _ uint64, field []byte) (err ErrorI) {
		switch num {
		case 1:
			x.Proposal = new(Proposal)
			err = x.Proposal.Unmarshal(field)
		case 2:
			x.Vote = new(Vote)
			err = x.Vote.Unmarshal(field)
		case 3:
			x.Commit = new(CommitCertificate)
			err = x.Commit.Unmarshal(field)
		}
		return
	})
}

// NewMessageFromBytes() decodes and sanity checks a network message
func NewMessageFromBytes(bz []byte) (*Message, ErrorI) {
	msg := new(Message)
	if err := msg.Unmarshal(bz); err != nil {
		return nil, err
	}
	if err := msg.CheckBasic(); err != nil {
		return nil, err
	}
	return msg, nil
}

// HELPERS

// AppendVarintField() writes a varint field
func AppendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendBytesField() writes a length-delimited field; empty values are omitted
func AppendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// DecodeFields() walks the fields of an encoded message, handing each varint or (copied) byte field to visit;
// unknown wire types are skipped
func DecodeFields(bz []byte, visit func(num protowire.Number, v uint64, field []byte) ErrorI) ErrorI {
	for len(bz) > 0 {
		num, typ, n := protowire.ConsumeTag(bz)
		if n < 0 {
			return ErrUnmarshal(protowire.ParseError(n))
		}
		bz = bz[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(bz)
			if m < 0 {
				return ErrUnmarshal(protowire.ParseError(m))
			}
			if err := visit(num, v, nil); err != nil {
				return err
			}
			bz = bz[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(bz)
			if m < 0 {
				return ErrUnmarshal(protowire.ParseError(m))
			}
			if err := visit(num, 0, bytes.Clone(v)); err != nil {
				return err
			}
			bz = bz[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, bz)
			if m < 0 {
				return ErrUnmarshal(protowire.ParseError(m))
			}
			bz = bz[m:]
		}
	}
	return nil
}

func stepFromVarint(v uint64) (Step, ErrorI) {
	if v > uint64(StepCommit) {
		return 0, ErrUnmarshal(fmt.Errorf("unknown step %d", v))
	}
	return Step(v), nil
}
