package p2p

import (
	"fmt"

	"github.com/canopy-network/accord/lib"
)

func ErrUnknownPeer(id []byte) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownPeer, lib.P2PModule, fmt.Sprintf("peer %s not found", lib.BytesToTruncatedString(id)))
}

func ErrPeerInboxFull(id []byte) lib.ErrorI {
	return lib.NewError(lib.CodePeerInboxFull, lib.P2PModule, fmt.Sprintf("inbox of peer %s is full", lib.BytesToTruncatedString(id)))
}

func ErrNetworkClosed() lib.ErrorI {
	return lib.NewError(lib.CodeNetworkClosed, lib.P2PModule, "network closed")
}
