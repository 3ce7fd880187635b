package rpc

import (
	"fmt"

	"github.com/canopy-network/accord/lib"
)

func ErrServerTimeout() lib.ErrorI {
	return lib.NewError(lib.CodeServerTimeout, lib.RPCModule, "server timeout")
}

func ErrUnknownNode(name string) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownNode, lib.RPCModule, fmt.Sprintf("node %q not found", name))
}
