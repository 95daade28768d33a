// zero_ciphertext.go - Proof that a ciphertext encrypts zero.
//
// A ciphertext (C, D) under P = s⁻¹·H encrypts zero iff C = s·D. The prover
// shows one s satisfies both s·P = H and s·D = C:
// Y_P = y·P, Y_D = y·D, z = c·s + y; verifier checks
// z·P = c·H + Y_P and z·D = c·C + Y_D.

package proof

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

// ZeroCiphertextProofSize is the size of the proof bytes.
const ZeroCiphertextProofSize = 96

const zeroCiphertextDomain = "zero-ciphertext-proof"

// ZeroCiphertextProof is the Sigma proof (Y_P, Y_D, z).
type ZeroCiphertextProof struct {
	YP bn254.G1Affine
	YD bn254.G1Affine
	Z  fr.Element
}

// ZeroCiphertextProofData carries the key, the ciphertext and the proof.
type ZeroCiphertextProofData struct {
	Pubkey     encryption.PublicKey
	Ciphertext encryption.Ciphertext
	Proof      ZeroCiphertextProof
}

// NewZeroCiphertextProofData proves that ct, encrypted under kp, encodes 0.
func NewZeroCiphertextProofData(kp *encryption.Keypair, ct encryption.Ciphertext) (*ZeroCiphertextProofData, error) {
	if !kp.Decrypt(ct).Target.IsInfinity() {
		return nil, ErrNotZero
	}
	pd, err := proveZeroCiphertext(kp, ct)
	if err != nil {
		return nil, err
	}
	return verified(pd)
}

func proveZeroCiphertext(kp *encryption.Keypair, ct encryption.Ciphertext) (*ZeroCiphertextProofData, error) {
	y, err := encryption.RandomScalar()
	if err != nil {
		return nil, err
	}
	s := kp.Secret().Scalar()
	defer wipe(&y, &s)

	t := zeroCiphertextTranscript(kp.Public, ct)
	yp := mul(&kp.Public.Point, &y)
	yd := mul(&ct.Handle.Point, &y)
	t.AppendPoint("Y_P", &yp)
	t.AppendPoint("Y_D", &yd)
	c := t.ChallengeScalar("c")

	return &ZeroCiphertextProofData{
		Pubkey:     kp.Public,
		Ciphertext: ct,
		Proof:      ZeroCiphertextProof{YP: yp, YD: yd, Z: respond(&c, &s, &y)},
	}, nil
}

func zeroCiphertextTranscript(pk encryption.PublicKey, ct encryption.Ciphertext) *Transcript {
	t := NewTranscript(zeroCiphertextDomain)
	t.AppendPoint("pubkey", &pk.Point)
	t.AppendMessage("ciphertext", ct.Bytes())
	return t
}

func (pd *ZeroCiphertextProofData) Kind() Kind { return KindZeroCiphertext }

func (pd *ZeroCiphertextProofData) Verify() error {
	if pd.Pubkey.IsZero() {
		return ErrVerification
	}
	t := zeroCiphertextTranscript(pd.Pubkey, pd.Ciphertext)
	t.AppendPoint("Y_P", &pd.Proof.YP)
	t.AppendPoint("Y_D", &pd.Proof.YD)
	c := t.ChallengeScalar("c")
	nc, m1 := neg(&c), minusOne()

	if !zeroCombination(
		[]bn254.G1Affine{pd.Pubkey.Point, encryption.H, pd.Proof.YP},
		[]fr.Element{pd.Proof.Z, nc, m1},
	) {
		return ErrVerification
	}
	if !zeroCombination(
		[]bn254.G1Affine{pd.Ciphertext.Handle.Point, pd.Ciphertext.Commitment.Point, pd.Proof.YD},
		[]fr.Element{pd.Proof.Z, nc, m1},
	) {
		return ErrVerification
	}
	return nil
}

func (pd *ZeroCiphertextProofData) Bytes() []byte {
	w := &writer{}
	w.point(&pd.Pubkey.Point)
	w.ciphertext(&pd.Ciphertext)
	w.point(&pd.Proof.YP)
	w.point(&pd.Proof.YD)
	w.scalar(&pd.Proof.Z)
	return w.buf
}

// Size is 192 bytes: a 96-byte statement and a 96-byte proof.
func (pd *ZeroCiphertextProofData) Size() int {
	return encryption.PointSize + encryption.CiphertextSize + ZeroCiphertextProofSize
}

func (*ZeroCiphertextProofData) isProofData() {}

func decodeZeroCiphertext(data []byte) (ProofData, error) {
	r := &reader{buf: data}
	pd := &ZeroCiphertextProofData{}
	pd.Pubkey.Point = r.point()
	pd.Ciphertext = r.ciphertext()
	pd.Proof.YP = r.point()
	pd.Proof.YD = r.point()
	pd.Proof.Z = r.scalar()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return pd, nil
}
