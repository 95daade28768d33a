// derive.go - Deterministic key derivation from a signing capability.
//
// The account holder never stores encryption keys. Both keys are recomputed
// from signatures over fixed, domain-separated messages, so the signing key
// alone recovers them. Signers must be deterministic.

package encryption

import (
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	elgamalDeriveMessage = "ElGamalSecretKey"
	aeDeriveMessage      = "AeKey"
)

// ErrEmptySignature is returned when a signer produces no signature bytes.
var ErrEmptySignature = errors.New("signer returned an empty signature")

// Signer is the signing capability keys are derived from.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() []byte
}

// DeriveKeypair derives the ElGamal keypair bound to context (typically the account address).
func DeriveKeypair(signer Signer, context []byte) (*Keypair, error) {
	seed, err := deriveSeed(signer, elgamalDeriveMessage, context, SeedSize)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(seed)
	return KeypairFromSeed(seed)
}

// DeriveAeKey derives the AE key bound to context.
func DeriveAeKey(signer Signer, context []byte) (*AeKey, error) {
	seed, err := deriveSeed(signer, aeDeriveMessage, context, AeKeySize)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(seed)
	return AeKeyFromSeed(seed)
}

func deriveSeed(signer Signer, label string, context []byte, size int) ([]byte, error) {
	msg := append([]byte(label), context...)
	sig, err := signer.Sign(msg)
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 {
		return nil, ErrEmptySignature
	}
	defer wipeBytes(sig)

	seed := make([]byte, size)
	r := hkdf.New(sha3.New256, sig, signer.PublicKey(), []byte(label))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
