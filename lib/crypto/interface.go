package crypto

// PublicKeyI is the verifying half of a signing key pair; an authority is identified by its bytes
type PublicKeyI interface {
	Bytes() []byte
	VerifyBytes(msg []byte, sig []byte) bool
	String() string
	Equals(PublicKeyI) bool
}

// PrivateKeyI is the signing half of a key pair
type PrivateKeyI interface {
	Bytes() []byte
	Sign(msg []byte) []byte
	PublicKey() PublicKeyI
	String() string
	Equals(PrivateKeyI) bool
}
