package bft

import (
	"sync"
	"testing"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/stretchr/testify/require"
)

// countingVerifier counts calls to the wrapped verifier
type countingVerifier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingVerifier) Verify(authority, payload, signature []byte) bool {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return crypto.Ed25519Verifier{}.Verify(authority, payload, signature)
}

func TestCachingVerifier(t *testing.T) {
	signers := newTestSigners(t, 1)
	inner := new(countingVerifier)
	v := NewCachingVerifier(inner, 2)
	vote := newTestVote(signers[0], 1, 0, lib.StepPreVote, hashA)
	// successes are remembered
	for range 3 {
		require.True(t, v.Verify(vote.Voter, vote.SignBytes(), vote.Signature))
	}
	require.Equal(t, 1, inner.calls)
	// failures are checked every time
	for range 2 {
		require.False(t, v.Verify(vote.Voter, []byte("other payload"), vote.Signature))
	}
	require.Equal(t, 3, inner.calls)
	// the cache is bounded
	for _, hash := range [][]byte{hashB, nil} {
		other := newTestVote(signers[0], 1, 0, lib.StepPreVote, hash)
		require.True(t, v.Verify(other.Voter, other.SignBytes(), other.Signature))
	}
	require.True(t, v.Verify(vote.Voter, vote.SignBytes(), vote.Signature))
	require.Equal(t, 6, inner.calls)
}

func TestVerificationKeyIsUnambiguous(t *testing.T) {
	require.NotEqual(t, verificationKey([]byte("ab"), []byte("c"), nil), verificationKey([]byte("a"), []byte("bc"), nil))
	require.Equal(t, verificationKey([]byte("a"), []byte("b"), []byte("c")), verificationKey([]byte("a"), []byte("b"), []byte("c")))
}
