package bft

import (
	"fmt"

	"github.com/canopy-network/accord/lib"
)

func ErrWrongHeight(got, expected uint64) lib.ErrorI {
	return lib.NewError(lib.CodeWrongHeight, lib.ConsensusModule, fmt.Sprintf("wrong height: got %d expected %d", got, expected))
}

func ErrFarFutureRound(got, current uint64) lib.ErrorI {
	return lib.NewError(lib.CodeFarFutureRound, lib.ConsensusModule, fmt.Sprintf("round %d is too far ahead of %d", got, current))
}

func ErrInvalidProposer(got, expected []byte) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidProposer, lib.ConsensusModule, fmt.Sprintf("invalid proposer %s, expected %s",
		lib.BytesToTruncatedString(got), lib.BytesToTruncatedString(expected)))
}

func ErrDuplicateProposal() lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateProposal, lib.ConsensusModule, "conflicting proposal for the same round")
}

func ErrInvalidEvidence(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidEvidence, lib.ConsensusModule, "invalid evidence: "+reason)
}

func ErrSign(err error) lib.ErrorI {
	return lib.NewError(lib.CodeSign, lib.ConsensusModule, fmt.Sprintf("sign() failed with err: %s", err.Error()))
}

func ErrBroadcast(err error) lib.ErrorI {
	return lib.NewError(lib.CodeBroadcast, lib.ConsensusModule, fmt.Sprintf("broadcast() failed with err: %s", err.Error()))
}

func ErrPropose(err error) lib.ErrorI {
	return lib.NewError(lib.CodePropose, lib.ConsensusModule, fmt.Sprintf("propose() failed with err: %s", err.Error()))
}

func ErrCommit(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCommit, lib.ConsensusModule, fmt.Sprintf("commit() failed with err: %s", err.Error()))
}

func ErrAuthorityProvider(height uint64, err error) lib.ErrorI {
	return lib.NewError(lib.CodeAuthorityProvider, lib.ConsensusModule, fmt.Sprintf("authorities(%d) failed with err: %s", height, err.Error()))
}

func ErrNotAnAuthority() lib.ErrorI {
	return lib.NewError(lib.CodeNotAnAuthority, lib.ConsensusModule, "this node is not an authority")
}

func ErrEngineStopped() lib.ErrorI {
	return lib.NewError(lib.CodeEngineStopped, lib.ConsensusModule, "engine stopped")
}

func ErrFailedSafeNode(locked, proposed uint64) lib.ErrorI {
	return lib.NewError(lib.CodeFailedSafeNode, lib.ConsensusModule, fmt.Sprintf("proposal conflicts with the lock from round %d and carries no newer justification (polc round %d)", locked, proposed))
}
