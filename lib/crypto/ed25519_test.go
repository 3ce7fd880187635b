package crypto

import (
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestED25519Bytes(t *testing.T) {
	for i := 0; i < 100; i++ {
		privateKey, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		// private key round trip
		privateKey2 := NewED25519PrivateKeyFromBytes(privateKey.Bytes())
		require.True(t, privateKey.Equals(privateKey2))
		// public key round trip
		pubKey := privateKey.PublicKey()
		pubKey2 := NewED25519PubKeyFromBytes(pubKey.Bytes())
		require.True(t, pubKey.Equals(pubKey2))
	}
}

func TestED25519SignAndVerify(t *testing.T) {
	for i := 0; i < 100; i++ {
		pk, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		pubKey := pk.PublicKey()
		msg := make([]byte, 100)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		signature := pk.Sign(msg)
		require.True(t, pubKey.VerifyBytes(msg, signature))
		// a different message must not verify
		msg = make([]byte, 100)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		require.False(t, pubKey.VerifyBytes(msg, signature))
	}
}

func TestDeriveEd25519PrivateKey(t *testing.T) {
	secret := []byte("simulation secret")
	a, err := DeriveEd25519PrivateKey(secret, "node-0")
	require.NoError(t, err)
	again, err := DeriveEd25519PrivateKey(secret, "node-0")
	require.NoError(t, err)
	b, err := DeriveEd25519PrivateKey(secret, "node-1")
	require.NoError(t, err)
	// deterministic per label, distinct across labels
	require.True(t, a.Equals(again))
	require.False(t, a.Equals(b))
	require.Len(t, a.PublicKey().Bytes(), Ed25519PubKeySize)
}

func TestED25519PrivateKeyJSON(t *testing.T) {
	pk, err := NewEd25519PrivateKey()
	require.NoError(t, err)
	bz, err := json.Marshal(pk)
	require.NoError(t, err)
	got := new(ED25519PrivateKey)
	require.NoError(t, json.Unmarshal(bz, got))
	require.True(t, pk.Equals(got))
}

func TestEd25519SignerAndVerifier(t *testing.T) {
	pk, err := NewEd25519PrivateKey()
	require.NoError(t, err)
	signer := NewEd25519Signer(pk)
	payload := []byte("payload")
	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	tests := []struct {
		name      string
		detail    string
		authority []byte
		payload   []byte
		signature []byte
		expected  bool
	}{
		{
			name:      "valid",
			detail:    "the signer's own signature verifies against its public key",
			authority: signer.PublicKey(),
			payload:   payload,
			signature: sig,
			expected:  true,
		},
		{
			name:      "wrong payload",
			detail:    "the signature doesn't cover a different payload",
			authority: signer.PublicKey(),
			payload:   []byte("other"),
			signature: sig,
		},
		{
			name:      "short authority",
			detail:    "malformed public keys are rejected without panicking",
			authority: []byte{1, 2, 3},
			payload:   payload,
			signature: sig,
		},
		{
			name:      "short signature",
			detail:    "malformed signatures are rejected",
			authority: signer.PublicKey(),
			payload:   payload,
			signature: sig[:10],
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, Ed25519Verifier{}.Verify(test.authority, test.payload, test.signature))
		})
	}
}
