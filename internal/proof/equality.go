// equality.go - Equality proofs between ciphertexts and commitments.
//
// Ciphertext-commitment: the owner of ct = (C_E, D) under P knows s and the
// commitment opening r, and shows C_E - s·D = x·G and C_P = x·G + r·H for one x.
//
// Ciphertext-ciphertext: additionally binds a second ciphertext (C_2, D_2)
// under P_2 whose opening r the prover knows: C_2 = x·G + r·H, D_2 = r·P_2.

package proof

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

const (
	// CiphertextCommitmentEqualityProofSize is the size of the proof bytes.
	CiphertextCommitmentEqualityProofSize = 192
	// CiphertextCiphertextEqualityProofSize is the size of the proof bytes.
	CiphertextCiphertextEqualityProofSize = 224

	ctCommitmentEqualityDomain = "ciphertext-commitment-equality-proof"
	ctCtEqualityDomain         = "ciphertext-ciphertext-equality-proof"
)

// CiphertextCommitmentEqualityProof is the Sigma proof (Y0, Y1, Y2, z_s, z_x, z_r).
type CiphertextCommitmentEqualityProof struct {
	Y0, Y1, Y2 bn254.G1Affine
	Zs, Zx, Zr fr.Element
}

// CiphertextCommitmentEqualityProofData carries pubkey, ciphertext, commitment and proof.
type CiphertextCommitmentEqualityProofData struct {
	Pubkey     encryption.PublicKey
	Ciphertext encryption.Ciphertext
	Commitment encryption.Commitment
	Proof      CiphertextCommitmentEqualityProof
}

// NewCiphertextCommitmentEqualityProofData proves that ct (under kp) and
// commitment (under opening) both encode amount.
func NewCiphertextCommitmentEqualityProofData(
	kp *encryption.Keypair,
	ct encryption.Ciphertext,
	commitment encryption.Commitment,
	opening *encryption.Opening,
	amount uint64,
) (*CiphertextCommitmentEqualityProofData, error) {
	x := encryption.ScalarFromUint64(amount)
	xG := mul(&encryption.G, &x)
	if target := kp.Decrypt(ct).Target; !target.Equal(&xG) {
		return nil, ErrMismatchedAmount
	}
	if !encryption.Commit(amount, opening).Equal(commitment) {
		return nil, ErrMismatchedAmount
	}
	pd, err := proveCiphertextCommitmentEquality(kp, ct, commitment, opening, amount)
	if err != nil {
		return nil, err
	}
	return verified(pd)
}

func proveCiphertextCommitmentEquality(
	kp *encryption.Keypair,
	ct encryption.Ciphertext,
	commitment encryption.Commitment,
	opening *encryption.Opening,
	amount uint64,
) (*CiphertextCommitmentEqualityProofData, error) {
	ys, err := randomScalars(3)
	if err != nil {
		return nil, err
	}
	defer wipeVec(ys)
	s, x, r := kp.Secret().Scalar(), encryption.ScalarFromUint64(amount), opening.Scalar()
	defer wipe(&s, &x, &r)

	pd := &CiphertextCommitmentEqualityProofData{Pubkey: kp.Public, Ciphertext: ct, Commitment: commitment}
	p := &pd.Proof
	p.Y0 = mul(&kp.Public.Point, &ys[0])
	p.Y1 = msm([]bn254.G1Affine{encryption.G, ct.Handle.Point}, []fr.Element{ys[1], ys[0]})
	p.Y2 = encryption.PedersenPoint(&ys[1], &ys[2])

	t := pd.transcript()
	c := t.ChallengeScalar("c")
	p.Zs = respond(&c, &s, &ys[0])
	p.Zx = respond(&c, &x, &ys[1])
	p.Zr = respond(&c, &r, &ys[2])
	return pd, nil
}

func (pd *CiphertextCommitmentEqualityProofData) transcript() *Transcript {
	t := NewTranscript(ctCommitmentEqualityDomain)
	t.AppendPoint("pubkey", &pd.Pubkey.Point)
	t.AppendMessage("ciphertext", pd.Ciphertext.Bytes())
	t.AppendPoint("commitment", &pd.Commitment.Point)
	t.AppendPoint("Y_0", &pd.Proof.Y0)
	t.AppendPoint("Y_1", &pd.Proof.Y1)
	t.AppendPoint("Y_2", &pd.Proof.Y2)
	return t
}

func (pd *CiphertextCommitmentEqualityProofData) Kind() Kind {
	return KindCiphertextCommitmentEquality
}

func (pd *CiphertextCommitmentEqualityProofData) Verify() error {
	if pd.Pubkey.IsZero() {
		return ErrVerification
	}
	c := pd.transcript().ChallengeScalar("c")
	nc, m1 := neg(&c), minusOne()
	p := &pd.Proof

	// z_s·P = c·H + Y_0
	if !zeroCombination(
		[]bn254.G1Affine{pd.Pubkey.Point, encryption.H, p.Y0},
		[]fr.Element{p.Zs, nc, m1},
	) {
		return ErrVerification
	}
	// z_x·G + z_s·D = c·C_E + Y_1
	if !zeroCombination(
		[]bn254.G1Affine{encryption.G, pd.Ciphertext.Handle.Point, pd.Ciphertext.Commitment.Point, p.Y1},
		[]fr.Element{p.Zx, p.Zs, nc, m1},
	) {
		return ErrVerification
	}
	// z_x·G + z_r·H = c·C_P + Y_2
	if !zeroCombination(
		[]bn254.G1Affine{encryption.G, encryption.H, pd.Commitment.Point, p.Y2},
		[]fr.Element{p.Zx, p.Zr, nc, m1},
	) {
		return ErrVerification
	}
	return nil
}

func (pd *CiphertextCommitmentEqualityProofData) Bytes() []byte {
	w := &writer{}
	w.point(&pd.Pubkey.Point)
	w.ciphertext(&pd.Ciphertext)
	w.point(&pd.Commitment.Point)
	p := &pd.Proof
	w.point(&p.Y0)
	w.point(&p.Y1)
	w.point(&p.Y2)
	w.scalar(&p.Zs)
	w.scalar(&p.Zx)
	w.scalar(&p.Zr)
	return w.buf
}

// Size is 320 bytes: a 128-byte statement and a 192-byte proof. The proof
// carries three points and three scalars, so it is larger than the 128 bytes
// often quoted for it.
func (pd *CiphertextCommitmentEqualityProofData) Size() int {
	return 2*encryption.PointSize + encryption.CiphertextSize + CiphertextCommitmentEqualityProofSize
}

func (*CiphertextCommitmentEqualityProofData) isProofData() {}

func decodeCiphertextCommitmentEquality(data []byte) (ProofData, error) {
	r := &reader{buf: data}
	pd := &CiphertextCommitmentEqualityProofData{}
	pd.Pubkey.Point = r.point()
	pd.Ciphertext = r.ciphertext()
	pd.Commitment.Point = r.point()
	p := &pd.Proof
	p.Y0, p.Y1, p.Y2 = r.point(), r.point(), r.point()
	p.Zs, p.Zx, p.Zr = r.scalar(), r.scalar(), r.scalar()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return pd, nil
}

// CiphertextCiphertextEqualityProof is the Sigma proof (Y0..Y3, z_s, z_x, z_r).
type CiphertextCiphertextEqualityProof struct {
	Y0, Y1, Y2, Y3 bn254.G1Affine
	Zs, Zx, Zr     fr.Element
}

// CiphertextCiphertextEqualityProofData carries both keys, both ciphertexts and the proof.
type CiphertextCiphertextEqualityProofData struct {
	SourcePubkey      encryption.PublicKey
	DestinationPubkey encryption.PublicKey
	SourceCiphertext  encryption.Ciphertext
	DestCiphertext    encryption.Ciphertext
	Proof             CiphertextCiphertextEqualityProof
}

// NewCiphertextCiphertextEqualityProofData proves that ct1 (under kp) and
// ct2 (under dst with opening2) encode the same amount.
func NewCiphertextCiphertextEqualityProofData(
	kp *encryption.Keypair,
	dst encryption.PublicKey,
	ct1, ct2 encryption.Ciphertext,
	opening2 *encryption.Opening,
	amount uint64,
) (*CiphertextCiphertextEqualityProofData, error) {
	x := encryption.ScalarFromUint64(amount)
	xG := mul(&encryption.G, &x)
	if target := kp.Decrypt(ct1).Target; !target.Equal(&xG) {
		return nil, ErrMismatchedAmount
	}
	if !dst.EncryptWithOpening(amount, opening2).Equal(ct2) {
		return nil, ErrMismatchedAmount
	}
	pd, err := proveCiphertextCiphertextEquality(kp, dst, ct1, ct2, opening2, amount)
	if err != nil {
		return nil, err
	}
	return verified(pd)
}

func proveCiphertextCiphertextEquality(
	kp *encryption.Keypair,
	dst encryption.PublicKey,
	ct1, ct2 encryption.Ciphertext,
	opening2 *encryption.Opening,
	amount uint64,
) (*CiphertextCiphertextEqualityProofData, error) {
	ys, err := randomScalars(3)
	if err != nil {
		return nil, err
	}
	defer wipeVec(ys)
	s, x, r := kp.Secret().Scalar(), encryption.ScalarFromUint64(amount), opening2.Scalar()
	defer wipe(&s, &x, &r)

	pd := &CiphertextCiphertextEqualityProofData{
		SourcePubkey:      kp.Public,
		DestinationPubkey: dst,
		SourceCiphertext:  ct1,
		DestCiphertext:    ct2,
	}
	p := &pd.Proof
	p.Y0 = mul(&kp.Public.Point, &ys[0])
	p.Y1 = msm([]bn254.G1Affine{encryption.G, ct1.Handle.Point}, []fr.Element{ys[1], ys[0]})
	p.Y2 = encryption.PedersenPoint(&ys[1], &ys[2])
	p.Y3 = mul(&dst.Point, &ys[2])

	c := pd.transcript().ChallengeScalar("c")
	p.Zs = respond(&c, &s, &ys[0])
	p.Zx = respond(&c, &x, &ys[1])
	p.Zr = respond(&c, &r, &ys[2])
	return pd, nil
}

func (pd *CiphertextCiphertextEqualityProofData) transcript() *Transcript {
	t := NewTranscript(ctCtEqualityDomain)
	t.AppendPoint("source-pubkey", &pd.SourcePubkey.Point)
	t.AppendPoint("destination-pubkey", &pd.DestinationPubkey.Point)
	t.AppendMessage("source-ciphertext", pd.SourceCiphertext.Bytes())
	t.AppendMessage("destination-ciphertext", pd.DestCiphertext.Bytes())
	t.AppendPoint("Y_0", &pd.Proof.Y0)
	t.AppendPoint("Y_1", &pd.Proof.Y1)
	t.AppendPoint("Y_2", &pd.Proof.Y2)
	t.AppendPoint("Y_3", &pd.Proof.Y3)
	return t
}

func (pd *CiphertextCiphertextEqualityProofData) Kind() Kind {
	return KindCiphertextCiphertextEquality
}

func (pd *CiphertextCiphertextEqualityProofData) Verify() error {
	if pd.SourcePubkey.IsZero() || pd.DestinationPubkey.IsZero() {
		return ErrVerification
	}
	c := pd.transcript().ChallengeScalar("c")
	nc, m1 := neg(&c), minusOne()
	p := &pd.Proof
	src, dst := &pd.SourceCiphertext, &pd.DestCiphertext

	checks := []struct {
		points  []bn254.G1Affine
		scalars []fr.Element
	}{
		// z_s·P_1 = c·H + Y_0
		{[]bn254.G1Affine{pd.SourcePubkey.Point, encryption.H, p.Y0}, []fr.Element{p.Zs, nc, m1}},
		// z_x·G + z_s·D_1 = c·C_1 + Y_1
		{[]bn254.G1Affine{encryption.G, src.Handle.Point, src.Commitment.Point, p.Y1}, []fr.Element{p.Zx, p.Zs, nc, m1}},
		// z_x·G + z_r·H = c·C_2 + Y_2
		{[]bn254.G1Affine{encryption.G, encryption.H, dst.Commitment.Point, p.Y2}, []fr.Element{p.Zx, p.Zr, nc, m1}},
		// z_r·P_2 = c·D_2 + Y_3
		{[]bn254.G1Affine{pd.DestinationPubkey.Point, dst.Handle.Point, p.Y3}, []fr.Element{p.Zr, nc, m1}},
	}
	for _, chk := range checks {
		if !zeroCombination(chk.points, chk.scalars) {
			return ErrVerification
		}
	}
	return nil
}

func (pd *CiphertextCiphertextEqualityProofData) Bytes() []byte {
	w := &writer{}
	w.point(&pd.SourcePubkey.Point)
	w.point(&pd.DestinationPubkey.Point)
	w.ciphertext(&pd.SourceCiphertext)
	w.ciphertext(&pd.DestCiphertext)
	p := &pd.Proof
	w.point(&p.Y0)
	w.point(&p.Y1)
	w.point(&p.Y2)
	w.point(&p.Y3)
	w.scalar(&p.Zs)
	w.scalar(&p.Zx)
	w.scalar(&p.Zr)
	return w.buf
}

// Size is 416 bytes: a 192-byte statement and a 224-byte proof of four
// points and three scalars, above the 192 bytes often quoted for the proof.
func (pd *CiphertextCiphertextEqualityProofData) Size() int {
	return 2*encryption.PointSize + 2*encryption.CiphertextSize + CiphertextCiphertextEqualityProofSize
}

func (*CiphertextCiphertextEqualityProofData) isProofData() {}

func decodeCiphertextCiphertextEquality(data []byte) (ProofData, error) {
	r := &reader{buf: data}
	pd := &CiphertextCiphertextEqualityProofData{}
	pd.SourcePubkey.Point = r.point()
	pd.DestinationPubkey.Point = r.point()
	pd.SourceCiphertext = r.ciphertext()
	pd.DestCiphertext = r.ciphertext()
	p := &pd.Proof
	p.Y0, p.Y1, p.Y2, p.Y3 = r.point(), r.point(), r.point(), r.point()
	p.Zs, p.Zx, p.Zr = r.scalar(), r.scalar(), r.scalar()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return pd, nil
}
