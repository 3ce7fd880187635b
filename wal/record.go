package wal

import (
	"fmt"

	"github.com/canopy-network/accord/lib"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind identifies what a Record remembers
type Kind uint8

const (
	KindRoundChange Kind = iota + 1 // the node entered Round of Height
	KindProposal                    // the node signed Proposal as leader
	KindVote                        // the node signed Vote
	KindLock                        // the node locked on Value with the pre-vote certificate QC
	KindCommit                      // the node decided Value with the pre-commit certificate QC
)

// String() returns the human-readable name of the record kind
func (k Kind) String() string {
	switch k {
	case KindRoundChange:
		return "ROUND_CHANGE"
	case KindProposal:
		return "PROPOSAL"
	case KindVote:
		return "VOTE"
	case KindLock:
		return "LOCK"
	case KindCommit:
		return "COMMIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Record is one durable entry of the crash-recovery log
type Record struct {
	Kind     Kind
	Height   uint64
	Round    uint64
	Proposal *lib.Proposal          // KindProposal
	Vote     *lib.Vote              // KindVote
	Value    []byte                 // KindLock, KindCommit
	QC       *lib.QuorumCertificate // KindLock, KindCommit
}

// CheckBasic() ensures the record carries exactly what its kind requires
func (r *Record) CheckBasic() lib.ErrorI {
	if r == nil {
		return lib.ErrInvalidRecord("nil record")
	}
	switch r.Kind {
	case KindRoundChange:
		return nil
	case KindProposal:
		if r.Proposal == nil || r.Proposal.Height != r.Height || r.Proposal.Round != r.Round {
			return lib.ErrInvalidRecord("proposal missing or misplaced")
		}
	case KindVote:
		if r.Vote == nil || r.Vote.Height != r.Height || r.Vote.Round != r.Round {
			return lib.ErrInvalidRecord("vote missing or misplaced")
		}
	case KindLock, KindCommit:
		if r.QC == nil || r.QC.Height != r.Height || r.QC.Round != r.Round {
			return lib.ErrInvalidRecord("certificate missing or misplaced")
		}
	default:
		return lib.ErrInvalidRecord(fmt.Sprintf("unknown kind %d", r.Kind))
	}
	return nil
}

// String() returns the log string format of Record
func (r *Record) String() string {
	return fmt.Sprintf("Record{%s, H:%d, R:%d}", r.Kind, r.Height, r.Round)
}

// Marshal() encodes the record in protobuf wire format
func (r *Record) Marshal() []byte {
	b := lib.AppendVarintField(nil, 1, uint64(r.Kind))
	b = lib.AppendVarintField(b, 2, r.Height)
	b = lib.AppendVarintField(b, 3, r.Round)
	if r.Proposal != nil {
		b = lib.AppendBytesField(b, 4, r.Proposal.Marshal())
	}
	if r.Vote != nil {
		b = lib.AppendBytesField(b, 5, r.Vote.Marshal())
	}
	b = lib.AppendBytesField(b, 6, r.Value)
	if r.QC != nil {
		b = lib.AppendBytesField(b, 7, r.QC.Marshal())
	}
	return b
}

// Unmarshal() decodes a record produced by Marshal()
func (r *Record) Unmarshal(bz []byte) lib.ErrorI {
	return lib.DecodeFields(bz, func(num protowire.Number, v uint64, field []byte) (err lib.ErrorI) {
		switch num {
		case 1:
			r.Kind = Kind(v)
		case 2:
			r.Height = v
		case 3:
			r.Round = v
		case 4:
			r.Proposal = new(lib.Proposal)
			err = r.Proposal.Unmarshal(field)
		case 5:
			r.Vote = new(lib.Vote)
			err = r.Vote.Unmarshal(field)
		case 6:
			r.Value = field
		case 7:
			r.QC = new(lib.QuorumCertificate)
			err = r.QC.Unmarshal(field)
		}
		return
	})
}
