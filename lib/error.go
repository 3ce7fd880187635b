package lib

import (
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

// NewError() constructs a new Error instance
func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

// IsError() reports whether err carries the given module and code
func IsError(err error, module ErrorModule, code ErrorCode) bool {
	e, ok := err.(ErrorI)
	return ok && e != nil && e.Module() == module && e.Code() == code
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal     ErrorCode = 1
	CodeJSONUnmarshal   ErrorCode = 2
	CodeUnmarshal       ErrorCode = 3
	CodeMarshal         ErrorCode = 4
	CodeWriteFile       ErrorCode = 5
	CodeReadFile        ErrorCode = 6
	CodeInvalidArgument ErrorCode = 7
	CodeInvalidPubKey   ErrorCode = 8
	CodeInvalidConfig   ErrorCode = 9

	// Authority Module
	AuthorityModule ErrorModule = "authority"

	// Authority Module Error Codes
	CodeEmptyAuthoritySet  ErrorCode = 1
	CodeZeroWeight         ErrorCode = 2
	CodeDuplicateAuthority ErrorCode = 3
	CodeWeightOverflow     ErrorCode = 4
	CodeUnknownAuthority   ErrorCode = 5
	CodeEmptyAuthorityKey  ErrorCode = 6

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeEmptyMessage            ErrorCode = 1
	CodeWrongHeight             ErrorCode = 2
	CodeFailedSafeNode          ErrorCode = 3
	CodeFarFutureRound          ErrorCode = 4
	CodeInvalidStep             ErrorCode = 5
	CodeInvalidProposer         ErrorCode = 6
	CodeInvalidSignature        ErrorCode = 7
	CodeEmptySignature          ErrorCode = 8
	CodeEmptyVoter              ErrorCode = 9
	CodeInvalidValueHash        ErrorCode = 10
	CodeMismatchValueHash       ErrorCode = 11
	CodeInvalidPoLC             ErrorCode = 12
	CodeNoMaj23                 ErrorCode = 13
	CodeDuplicateVoter          ErrorCode = 14
	CodeMismatchVote            ErrorCode = 15
	CodeEmptyQuorumCertificate  ErrorCode = 16
	CodeNilCommitCertificate    ErrorCode = 17
	CodeInvalidEvidence         ErrorCode = 18
	CodeSign                    ErrorCode = 19
	CodeBroadcast               ErrorCode = 20
	CodePropose                 ErrorCode = 21
	CodeCommit                  ErrorCode = 22
	CodeAuthorityProvider       ErrorCode = 23
	CodeNotAnAuthority          ErrorCode = 24
	CodeEngineStopped           ErrorCode = 25
	CodeDuplicateProposal       ErrorCode = 26
	CodeMultipleMessagePayloads ErrorCode = 27

	// Recovery Module
	RecoveryModule ErrorModule = "recovery"

	// Recovery Module Error Codes
	CodeOpenLog          ErrorCode = 1
	CodeAppendRecord     ErrorCode = 2
	CodeReadRecords      ErrorCode = 3
	CodeCorruptRecord    ErrorCode = 4
	CodeRecordOutOfOrder ErrorCode = 5
	CodeTruncateLog      ErrorCode = 6
	CodeCloseLog         ErrorCode = 7
	CodeInvalidRecord    ErrorCode = 8

	// P2P Module
	P2PModule ErrorModule = "p2p"

	// P2P Module Error Codes
	CodeUnknownPeer   ErrorCode = 1
	CodePeerInboxFull ErrorCode = 2
	CodeNetworkClosed ErrorCode = 3

	// RPC Module
	RPCModule ErrorModule = "rpc"

	// RPC Module Error Codes
	CodeServerTimeout ErrorCode = 1
	CodeUnknownNode   ErrorCode = 2
)

// MAIN

func newLogError(err error) ErrorI {
	return NewError(NoCode, MainModule, err.Error())
}

func ErrUnmarshal(err error) ErrorI {
	return NewError(CodeUnmarshal, MainModule, fmt.Sprintf("unmarshal() failed with err: %s", err.Error()))
}

func ErrMarshal(err error) ErrorI {
	return NewError(CodeMarshal, MainModule, fmt.Sprintf("marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrInvalidArgument() ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "invalid argument")
}

func ErrInvalidPubKey(err error) ErrorI {
	return NewError(CodeInvalidPubKey, MainModule, fmt.Sprintf("invalid public key: %s", err.Error()))
}

func ErrInvalidConfig(reason string) ErrorI {
	return NewError(CodeInvalidConfig, MainModule, "invalid config: "+reason)
}

// AUTHORITY

func ErrEmptyAuthoritySet() ErrorI {
	return NewError(CodeEmptyAuthoritySet, AuthorityModule, "authority set is empty")
}

func ErrZeroWeight(publicKey []byte) ErrorI {
	return NewError(CodeZeroWeight, AuthorityModule, fmt.Sprintf("authority %s has zero weight", BytesToTruncatedString(publicKey)))
}

func ErrDuplicateAuthority(publicKey []byte) ErrorI {
	return NewError(CodeDuplicateAuthority, AuthorityModule, fmt.Sprintf("authority %s listed twice", BytesToTruncatedString(publicKey)))
}

func ErrWeightOverflow() ErrorI {
	return NewError(CodeWeightOverflow, AuthorityModule, "total authority weight overflows uint64")
}

func ErrUnknownAuthority(publicKey []byte) ErrorI {
	return NewError(CodeUnknownAuthority, AuthorityModule, fmt.Sprintf("%s is not in the authority set", BytesToTruncatedString(publicKey)))
}

func ErrEmptyAuthorityKey() ErrorI {
	return NewError(CodeEmptyAuthorityKey, AuthorityModule, "authority public key is empty")
}

// CONSENSUS

func ErrEmptyMessage() ErrorI {
	return NewError(CodeEmptyMessage, ConsensusModule, "message is empty")
}

func ErrMultipleMessagePayloads() ErrorI {
	return NewError(CodeMultipleMessagePayloads, ConsensusModule, "message carries more than one payload")
}

func ErrInvalidStep(s Step) ErrorI {
	return NewError(CodeInvalidStep, ConsensusModule, fmt.Sprintf("invalid step %s", s))
}

func ErrInvalidSignature() ErrorI {
	return NewError(CodeInvalidSignature, ConsensusModule, "invalid signature")
}

func ErrEmptySignature() ErrorI {
	return NewError(CodeEmptySignature, ConsensusModule, "signature is empty")
}

func ErrEmptyVoter() ErrorI {
	return NewError(CodeEmptyVoter, ConsensusModule, "voter is empty")
}

func ErrInvalidValueHash() ErrorI {
	return NewError(CodeInvalidValueHash, ConsensusModule, "value hash has invalid length")
}

func ErrMismatchValueHash() ErrorI {
	return NewError(CodeMismatchValueHash, ConsensusModule, "value hash does not match the value")
}

func ErrInvalidPoLC(reason string) ErrorI {
	return NewError(CodeInvalidPoLC, ConsensusModule, "invalid proof of lock change: "+reason)
}

func ErrNoMaj23(got, needed uint64) ErrorI {
	return NewError(CodeNoMaj23, ConsensusModule, fmt.Sprintf("quorum not reached: %d of %d required weight", got, needed))
}

func ErrDuplicateVoter(voter []byte) ErrorI {
	return NewError(CodeDuplicateVoter, ConsensusModule, fmt.Sprintf("voter %s appears twice", BytesToTruncatedString(voter)))
}

func ErrMismatchVote() ErrorI {
	return NewError(CodeMismatchVote, ConsensusModule, "vote does not match the certificate")
}

func ErrEmptyQuorumCertificate() ErrorI {
	return NewError(CodeEmptyQuorumCertificate, ConsensusModule, "quorum certificate is empty")
}

func ErrNilCommitCertificate() ErrorI {
	return NewError(CodeNilCommitCertificate, ConsensusModule, "commit certificate carries a nil decision")
}

// RECOVERY

func ErrOpenLog(err error) ErrorI {
	return NewError(CodeOpenLog, RecoveryModule, fmt.Sprintf("open() failed with err: %s", err.Error()))
}

func ErrAppendRecord(err error) ErrorI {
	return NewError(CodeAppendRecord, RecoveryModule, fmt.Sprintf("append() failed with err: %s", err.Error()))
}

func ErrReadRecords(err error) ErrorI {
	return NewError(CodeReadRecords, RecoveryModule, fmt.Sprintf("records() failed with err: %s", err.Error()))
}

func ErrCorruptRecord(key []byte, reason string) ErrorI {
	return NewError(CodeCorruptRecord, RecoveryModule, fmt.Sprintf("corrupt record %x: %s", key, reason))
}

func ErrRecordOutOfOrder(reason string) ErrorI {
	return NewError(CodeRecordOutOfOrder, RecoveryModule, "record out of order: "+reason)
}

func ErrTruncateLog(err error) ErrorI {
	return NewError(CodeTruncateLog, RecoveryModule, fmt.Sprintf("truncate() failed with err: %s", err.Error()))
}

func ErrCloseLog(err error) ErrorI {
	return NewError(CodeCloseLog, RecoveryModule, fmt.Sprintf("close() failed with err: %s", err.Error()))
}

func ErrInvalidRecord(reason string) ErrorI {
	return NewError(CodeInvalidRecord, RecoveryModule, "invalid record: "+reason)
}
