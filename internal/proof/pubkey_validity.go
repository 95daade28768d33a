// pubkey_validity.go - Proof that the prover knows the secret behind a public key.
//
// With P = s⁻¹·H the prover shows knowledge of s such that s·P = H:
// Y = y·P, c = challenge, z = c·s + y; verifier checks z·P = c·H + Y.

package proof

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

// PubkeyValidityProofSize is the size of the proof bytes.
const PubkeyValidityProofSize = 64

const pubkeyValidityDomain = "pubkey-validity-proof"

// PubkeyValidityProof is the Sigma proof (Y, z).
type PubkeyValidityProof struct {
	Y bn254.G1Affine
	Z fr.Element
}

// PubkeyValidityProofData carries the public key and its validity proof.
type PubkeyValidityProofData struct {
	Pubkey encryption.PublicKey
	Proof  PubkeyValidityProof
}

// NewPubkeyValidityProofData proves that kp's public key is well formed.
func NewPubkeyValidityProofData(kp *encryption.Keypair) (*PubkeyValidityProofData, error) {
	s := kp.Secret().Scalar()
	if s.IsZero() || kp.Public.IsZero() {
		return nil, ErrInvalidKey
	}
	sP := mul(&kp.Public.Point, &s)
	if !sP.Equal(&encryption.H) {
		return nil, ErrInvalidKey
	}
	pd, err := provePubkeyValidity(kp)
	if err != nil {
		return nil, err
	}
	return verified(pd)
}

func provePubkeyValidity(kp *encryption.Keypair) (*PubkeyValidityProofData, error) {
	y, err := encryption.RandomScalar()
	if err != nil {
		return nil, err
	}
	s := kp.Secret().Scalar()
	defer wipe(&y, &s)

	t := pubkeyValidityTranscript(kp.Public)
	Y := mul(&kp.Public.Point, &y)
	t.AppendPoint("Y", &Y)
	c := t.ChallengeScalar("c")

	z := respond(&c, &s, &y)
	return &PubkeyValidityProofData{
		Pubkey: kp.Public,
		Proof:  PubkeyValidityProof{Y: Y, Z: z},
	}, nil
}

func pubkeyValidityTranscript(pk encryption.PublicKey) *Transcript {
	t := NewTranscript(pubkeyValidityDomain)
	t.AppendPoint("pubkey", &pk.Point)
	return t
}

func (pd *PubkeyValidityProofData) Kind() Kind { return KindPubkeyValidity }

// Verify checks z·P = c·H + Y.
func (pd *PubkeyValidityProofData) Verify() error {
	if pd.Pubkey.IsZero() {
		return ErrVerification
	}
	t := pubkeyValidityTranscript(pd.Pubkey)
	t.AppendPoint("Y", &pd.Proof.Y)
	c := t.ChallengeScalar("c")

	if !zeroCombination(
		[]bn254.G1Affine{pd.Pubkey.Point, encryption.H, pd.Proof.Y},
		[]fr.Element{pd.Proof.Z, neg(&c), minusOne()},
	) {
		return ErrVerification
	}
	return nil
}

func (pd *PubkeyValidityProofData) Bytes() []byte {
	w := &writer{}
	w.point(&pd.Pubkey.Point)
	w.point(&pd.Proof.Y)
	w.scalar(&pd.Proof.Z)
	return w.buf
}

// Size is 96 bytes: the key and a 64-byte proof.
func (pd *PubkeyValidityProofData) Size() int { return encryption.PointSize + PubkeyValidityProofSize }

func (*PubkeyValidityProofData) isProofData() {}

func decodePubkeyValidity(data []byte) (ProofData, error) {
	r := &reader{buf: data}
	pd := &PubkeyValidityProofData{}
	pd.Pubkey.Point = r.point()
	pd.Proof.Y = r.point()
	pd.Proof.Z = r.scalar()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return pd, nil
}
