package wallet

import (
	"crypto/rand"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/pkg/errors"
)

// ErrInvalidSeed is returned for a seed of the wrong length.
var ErrInvalidSeed = errors.New("ed448 seed must be 57 bytes")

// Ed448Signer signs with an Ed448 key. Ed448 signatures are deterministic,
// which key derivation depends on.
type Ed448Signer struct {
	priv ed448.PrivateKey
	pub  ed448.PublicKey
}

// NewEd448Signer generates a fresh signing key.
func NewEd448Signer() (*Ed448Signer, error) {
	pub, priv, err := ed448.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate ed448 key")
	}
	return &Ed448Signer{priv: priv, pub: pub}, nil
}

// Ed448SignerFromSeed restores a signer from its 57-byte seed.
func Ed448SignerFromSeed(seed []byte) (*Ed448Signer, error) {
	if len(seed) != ed448.SeedSize {
		return nil, ErrInvalidSeed
	}
	priv := ed448.NewKeyFromSeed(seed)
	return &Ed448Signer{priv: priv, pub: priv.Public().(ed448.PublicKey)}, nil
}

// Sign signs msg with an empty context string.
func (s *Ed448Signer) Sign(msg []byte) ([]byte, error) {
	return ed448.Sign(s.priv, msg, ""), nil
}

// PublicKey returns the encoded public key.
func (s *Ed448Signer) PublicKey() []byte {
	return append([]byte(nil), s.pub...)
}

// Seed returns a copy of the private seed.
func (s *Ed448Signer) Seed() []byte {
	return s.priv.Seed()
}

// Verify checks sig over msg against pub.
func Verify(pub, msg, sig []byte) bool {
	if len(pub) != ed448.PublicKeySize {
		return false
	}
	return ed448.Verify(ed448.PublicKey(pub), msg, sig, "")
}
