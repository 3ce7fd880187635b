package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	Ed25519PrivKeySize   = ed25519.PrivateKeySize
	Ed25519PubKeySize    = ed25519.PublicKeySize
	Ed25519SignatureSize = ed25519.SignatureSize
)

// Private Key Below

// ED25519PrivateKey wraps an Ed25519 signing key so it satisfies PrivateKeyI
type ED25519PrivateKey struct{ ed25519.PrivateKey }

// NewEd25519PrivateKey() generates a new random ED25519 private key
func NewEd25519PrivateKey() (PrivateKeyI, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ED25519PrivateKey{PrivateKey: priv}, nil
}

// DeriveEd25519PrivateKey() deterministically derives a private key from a shared secret and a per-key label
// using HKDF-SHA256; the same (secret, label) always yields the same key
func DeriveEd25519PrivateKey(secret []byte, label string) (PrivateKeyI, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(label)), seed); err != nil {
		return nil, err
	}
	return &ED25519PrivateKey{PrivateKey: ed25519.NewKeyFromSeed(seed)}, nil
}

// NewED25519PrivateKeyFromBytes() creates a PrivateKeyI from ED25519 bytes
func NewED25519PrivateKeyFromBytes(bz []byte) PrivateKeyI {
	return &ED25519PrivateKey{PrivateKey: bz}
}

var _ PrivateKeyI = &ED25519PrivateKey{}

// String() returns the hex string representation of the private key
func (p *ED25519PrivateKey) String() string { return hex.EncodeToString(p.Bytes()) }

// Bytes() casts the private key to bytes
func (p *ED25519PrivateKey) Bytes() []byte { return p.PrivateKey }

// Sign() returns the Ed25519 signature of msg
func (p *ED25519PrivateKey) Sign(msg []byte) []byte { return ed25519.Sign(p.PrivateKey, msg) }

// PublicKey() returns the public key that pairs with this private key object
func (p *ED25519PrivateKey) PublicKey() PublicKeyI {
	return &ED25519PublicKey{p.PrivateKey.Public().(ed25519.PublicKey)}
}

// Equals() compares two private key objects and returns true if they are equal
func (p *ED25519PrivateKey) Equals(key PrivateKeyI) bool {
	return p.PrivateKey.Equal(ed25519.PrivateKey(key.Bytes()))
}

// MarshalJSON() implements the json.Marshaller interface for ED25519PrivateKey
func (p *ED25519PrivateKey) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON() implements the json.Unmarshaler interface for ED25519PrivateKey
func (p *ED25519PrivateKey) UnmarshalJSON(b []byte) (err error) {
	var hexString string
	if err = json.Unmarshal(b, &hexString); err != nil {
		return
	}
	bz, err := hex.DecodeString(hexString)
	if err != nil {
		return
	}
	p.PrivateKey = bz
	return
}

// Public Key Below

// ED25519PublicKey wraps an Ed25519 verifying key so it satisfies PublicKeyI
type ED25519PublicKey struct{ ed25519.PublicKey }

// NewED25519PubKeyFromBytes() creates a PublicKeyI from ED25519 bytes
func NewED25519PubKeyFromBytes(bz []byte) PublicKeyI {
	return &ED25519PublicKey{PublicKey: bz}
}

var _ PublicKeyI = &ED25519PublicKey{}

// Bytes() casts the public key to bytes
func (p *ED25519PublicKey) Bytes() []byte { return p.PublicKey }

// String() returns the hex string representation of the public key
func (p *ED25519PublicKey) String() string { return hex.EncodeToString(p.Bytes()) }

// VerifyBytes() validates a digital signature was signed by the paired private key given the message signed
func (p *ED25519PublicKey) VerifyBytes(msg []byte, sig []byte) bool {
	if len(p.PublicKey) != Ed25519PubKeySize {
		return false
	}
	return ed25519.Verify(p.PublicKey, msg, sig)
}

// Equals() compares two public key objects and returns if the two are equal
func (p *ED25519PublicKey) Equals(i PublicKeyI) bool {
	return p.PublicKey.Equal(ed25519.PublicKey(i.Bytes()))
}

// MarshalJSON() implements the json.Marshaller interface for ED25519PublicKey
func (p *ED25519PublicKey) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// Signer & Verifier Below

// Ed25519Signer signs consensus payloads with a local private key; the authority id is the public key bytes
type Ed25519Signer struct {
	key PrivateKeyI
}

// NewEd25519Signer() wraps a private key as a consensus signer
func NewEd25519Signer(key PrivateKeyI) *Ed25519Signer { return &Ed25519Signer{key: key} }

// PublicKey() returns the authority id of this signer
func (s *Ed25519Signer) PublicKey() []byte { return s.key.PublicKey().Bytes() }

// Sign() signs the payload
func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) { return s.key.Sign(payload), nil }

// Ed25519Verifier checks signatures where the authority id is an Ed25519 public key
type Ed25519Verifier struct{}

// Verify() returns true if signature is a valid signature of payload by authority
func (Ed25519Verifier) Verify(authority, payload, signature []byte) bool {
	if len(authority) != Ed25519PubKeySize || len(signature) != Ed25519SignatureSize {
		return false
	}
	return ed25519.Verify(authority, payload, signature)
}
