package bft

import (
	"context"

	"github.com/canopy-network/accord/lib"
)

/*
	The agreement engine owns no transport, keys, storage of values or membership. Everything outside the
	protocol is reached through the capabilities below, injected at construction.
*/

// Network is the unreliable transport between authorities; messages may be lost, duplicated or reordered
type Network interface {
	// Broadcast() sends the message to every other authority
	Broadcast(msg *lib.Message) lib.ErrorI
	// Send() sends the message to one authority
	Send(to []byte, msg *lib.Message) lib.ErrorI
	// Inbound() is the stream of messages received from other authorities
	Inbound() <-chan *lib.Message
}

// Signer produces this node's signatures; PublicKey() is the node's authority id
type Signer interface {
	PublicKey() []byte
	Sign(payload []byte) ([]byte, error)
}

// Executor decides what values contain; the engine only orders them
type Executor interface {
	// Propose() returns a new value for the height when this node leads a round without a lock
	Propose(height uint64) ([]byte, error)
	// Validate() reports whether a proposed value may be voted for
	Validate(height uint64, value []byte) bool
	// Commit() delivers a decided value; the engine retries until it returns nil
	Commit(ctx context.Context, height uint64, value []byte, qc *lib.QuorumCertificate) error
}

// AuthorityProvider returns the authority set responsible for deciding a height
type AuthorityProvider interface {
	Authorities(height uint64) (*lib.AuthoritySet, lib.ErrorI)
}

// EvidenceReporter receives proof of equivocation; handling it (slashing, banning) is outside the engine
type EvidenceReporter interface {
	ReportEvidence(e *Evidence)
}

// StaticAuthorities serves the same authority set for every height
type StaticAuthorities struct{ Set *lib.AuthoritySet }

// Authorities() implements AuthorityProvider
func (s StaticAuthorities) Authorities(uint64) (*lib.AuthoritySet, lib.ErrorI) { return s.Set, nil }
