package bft

import (
	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingVerifier remembers successful signature checks so the same vote verified by the worker pool, again by
// the aggregator and again inside certificates is only checked once; it is safe for concurrent use
type CachingVerifier struct {
	verifier lib.VerifierI
	verified *lru.Cache[string, struct{}]
}

var _ lib.VerifierI = &CachingVerifier{}

// NewCachingVerifier() wraps verifier with an LRU of up to size verified signatures
func NewCachingVerifier(verifier lib.VerifierI, size int) *CachingVerifier {
	if size < 1 {
		size = 1
	}
	cache, _ := lru.New[string, struct{}](size) // only fails for non-positive sizes
	return &CachingVerifier{verifier: verifier, verified: cache}
}

// Verify() implements lib.VerifierI; failures are never cached
func (c *CachingVerifier) Verify(authority, payload, signature []byte) bool {
	key := verificationKey(authority, payload, signature)
	if c.verified.Contains(key) {
		return true
	}
	if !c.verifier.Verify(authority, payload, signature) {
		return false
	}
	c.verified.Add(key, struct{}{})
	return true
}

// verificationKey() digests the length-prefixed triple so distinct triples can't collide by concatenation
func verificationKey(authority, payload, signature []byte) string {
	bz := lib.AppendBytesField(nil, 1, authority)
	bz = lib.AppendBytesField(bz, 2, payload)
	bz = lib.AppendBytesField(bz, 3, signature)
	return string(crypto.Hash(bz))
}
