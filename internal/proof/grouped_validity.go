// grouped_validity.go - Validity of grouped ciphertexts.
//
// A grouped ciphertext (C, D_1..D_n) is valid for keys P_1..P_n when
// C = x·G + r·H and D_i = r·P_i for one (x, r). Prover:
// Y_0 = y_r·H + y_x·G, Y_i = y_r·P_i, z_r = c·r + y_r, z_x = c·x + y_x.
// Verifier: z_r·H + z_x·G = c·C + Y_0 and z_r·P_i = c·D_i + Y_i.
//
// The batched variant folds (lo, hi) into lo + t·hi with a transcript
// challenge t and proves validity of the fold.

package proof

import (
	"bytes"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

const (
	groupedValidityDomain        = "grouped-ciphertext-validity-proof"
	batchedGroupedValidityDomain = "batched-grouped-ciphertext-validity-proof"
)

// GroupedValidityProofSize returns the proof size for n handles.
func GroupedValidityProofSize(handles int) int {
	return (1+handles)*encryption.PointSize + 2*encryption.ScalarSize
}

// GroupedValidityProof is (Y_0, Y_1..Y_n, z_r, z_x).
type GroupedValidityProof struct {
	Y0 bn254.G1Affine
	Yi []bn254.G1Affine
	Zr fr.Element
	Zx fr.Element
}

func proveGroupedValidity(
	t *Transcript,
	pubkeys []encryption.PublicKey,
	grouped encryption.GroupedCiphertext,
	x, r *fr.Element,
) (GroupedValidityProof, error) {
	ys, err := randomScalars(2)
	if err != nil {
		return GroupedValidityProof{}, err
	}
	defer wipeVec(ys)
	yr, yx := &ys[0], &ys[1]

	p := GroupedValidityProof{Yi: make([]bn254.G1Affine, len(pubkeys))}
	p.Y0 = encryption.PedersenPoint(yx, yr)
	for i := range pubkeys {
		p.Yi[i] = mul(&pubkeys[i].Point, yr)
	}
	appendGroupedStatement(t, pubkeys, grouped)
	c := p.challenge(t)
	p.Zr = respond(&c, r, yr)
	p.Zx = respond(&c, x, yx)
	return p, nil
}

func (p *GroupedValidityProof) challenge(t *Transcript) fr.Element {
	t.AppendPoint("Y_0", &p.Y0)
	for i := range p.Yi {
		t.AppendPoint("Y_i", &p.Yi[i])
	}
	return t.ChallengeScalar("c")
}

func appendGroupedStatement(t *Transcript, pubkeys []encryption.PublicKey, grouped encryption.GroupedCiphertext) {
	t.AppendUint64("handles", uint64(len(pubkeys)))
	for i := range pubkeys {
		t.AppendPoint("pubkey", &pubkeys[i].Point)
	}
	t.AppendMessage("grouped-ciphertext", grouped.Bytes())
}

func (p *GroupedValidityProof) verify(t *Transcript, pubkeys []encryption.PublicKey, grouped encryption.GroupedCiphertext) error {
	if len(pubkeys) != grouped.Len() || len(p.Yi) != len(pubkeys) {
		return ErrVerification
	}
	appendGroupedStatement(t, pubkeys, grouped)
	c := p.challenge(t)
	nc, m1 := neg(&c), minusOne()

	if !zeroCombination(
		[]bn254.G1Affine{encryption.H, encryption.G, grouped.Commitment.Point, p.Y0},
		[]fr.Element{p.Zr, p.Zx, nc, m1},
	) {
		return ErrVerification
	}
	for i := range pubkeys {
		if !zeroCombination(
			[]bn254.G1Affine{pubkeys[i].Point, grouped.Handles[i].Point, p.Yi[i]},
			[]fr.Element{p.Zr, nc, m1},
		) {
			return ErrVerification
		}
	}
	return nil
}

func (p *GroupedValidityProof) write(w *writer) {
	w.point(&p.Y0)
	for i := range p.Yi {
		w.point(&p.Yi[i])
	}
	w.scalar(&p.Zr)
	w.scalar(&p.Zx)
}

func readGroupedValidityProof(r *reader, handles int) GroupedValidityProof {
	p := GroupedValidityProof{Y0: r.point(), Yi: make([]bn254.G1Affine, handles)}
	for i := range p.Yi {
		p.Yi[i] = r.point()
	}
	p.Zr = r.scalar()
	p.Zx = r.scalar()
	return p
}

func checkHandleCount(pubkeys []encryption.PublicKey, grouped ...encryption.GroupedCiphertext) error {
	if len(pubkeys) < 2 || len(pubkeys) > encryption.MaxGroupedHandles {
		return ErrInvalidEncoding
	}
	for _, g := range grouped {
		if g.Len() != len(pubkeys) {
			return ErrInvalidEncoding
		}
	}
	return nil
}

// GroupedValidityProofData carries the keys, the grouped ciphertext and the proof.
type GroupedValidityProofData struct {
	Pubkeys []encryption.PublicKey
	Grouped encryption.GroupedCiphertext
	Proof   GroupedValidityProof
}

// NewGroupedCiphertextValidityProofData proves that grouped encrypts amount
// under opening for every key in pubkeys. The kind follows len(pubkeys).
func NewGroupedCiphertextValidityProofData(
	pubkeys []encryption.PublicKey,
	grouped encryption.GroupedCiphertext,
	amount uint64,
	opening *encryption.Opening,
) (*GroupedValidityProofData, error) {
	if err := checkHandleCount(pubkeys, grouped); err != nil {
		return nil, err
	}
	expected, err := encryption.EncryptGrouped(pubkeys, amount, opening)
	if err != nil || !bytes.Equal(expected.Bytes(), grouped.Bytes()) {
		return nil, ErrInvalidEncoding
	}
	pd, err := proveGroupedValidityData(pubkeys, grouped, amount, opening)
	if err != nil {
		return nil, err
	}
	return verified(pd)
}

func proveGroupedValidityData(
	pubkeys []encryption.PublicKey,
	grouped encryption.GroupedCiphertext,
	amount uint64,
	opening *encryption.Opening,
) (*GroupedValidityProofData, error) {
	x, r := encryption.ScalarFromUint64(amount), opening.Scalar()
	defer wipe(&x, &r)
	p, err := proveGroupedValidity(NewTranscript(groupedValidityDomain), pubkeys, grouped, &x, &r)
	if err != nil {
		return nil, err
	}
	return &GroupedValidityProofData{Pubkeys: pubkeys, Grouped: grouped, Proof: p}, nil
}

func (pd *GroupedValidityProofData) Kind() Kind {
	if len(pd.Pubkeys) == 3 {
		return KindGroupedCiphertext3HandlesValidity
	}
	return KindGroupedCiphertext2HandlesValidity
}

func (pd *GroupedValidityProofData) Verify() error {
	if checkHandleCount(pd.Pubkeys, pd.Grouped) != nil {
		return ErrVerification
	}
	return pd.Proof.verify(NewTranscript(groupedValidityDomain), pd.Pubkeys, pd.Grouped)
}

func (pd *GroupedValidityProofData) Bytes() []byte {
	w := &writer{}
	for i := range pd.Pubkeys {
		w.point(&pd.Pubkeys[i].Point)
	}
	w.buf = append(w.buf, pd.Grouped.Bytes()...)
	pd.Proof.write(w)
	return w.buf
}

// Size counts the statement and the proof. The proof is 160 bytes with two
// handles and 192 with three; each extra handle adds one point, not two, so
// the 224 bytes sometimes quoted for three handles overstates it.
func (pd *GroupedValidityProofData) Size() int {
	n := len(pd.Pubkeys)
	return n*encryption.PointSize + (1+n)*encryption.PointSize + GroupedValidityProofSize(n)
}

func (*GroupedValidityProofData) isProofData() {}

func readGrouped(r *reader, handles int) encryption.GroupedCiphertext {
	g := encryption.GroupedCiphertext{
		Commitment: encryption.Commitment{Point: r.point()},
		Handles:    make([]encryption.DecryptHandle, handles),
	}
	for i := range g.Handles {
		g.Handles[i] = encryption.DecryptHandle{Point: r.point()}
	}
	return g
}

func readPubkeys(r *reader, n int) []encryption.PublicKey {
	out := make([]encryption.PublicKey, n)
	for i := range out {
		out[i] = encryption.PublicKey{Point: r.point()}
	}
	return out
}

func decodeGroupedValidity(data []byte, handles int) (ProofData, error) {
	r := &reader{buf: data}
	pd := &GroupedValidityProofData{}
	pd.Pubkeys = readPubkeys(r, handles)
	pd.Grouped = readGrouped(r, handles)
	pd.Proof = readGroupedValidityProof(r, handles)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return pd, nil
}

// BatchedGroupedValidityProofData proves validity of a (lo, hi) pair of
// grouped ciphertexts in one proof.
type BatchedGroupedValidityProofData struct {
	Pubkeys []encryption.PublicKey
	Lo      encryption.GroupedCiphertext
	Hi      encryption.GroupedCiphertext
	Proof   GroupedValidityProof
}

// NewBatchedGroupedCiphertextValidityProofData proves validity of lo and hi
// against their amounts and openings.
func NewBatchedGroupedCiphertextValidityProofData(
	pubkeys []encryption.PublicKey,
	lo, hi encryption.GroupedCiphertext,
	amountLo, amountHi uint64,
	openingLo, openingHi *encryption.Opening,
) (*BatchedGroupedValidityProofData, error) {
	if err := checkHandleCount(pubkeys, lo, hi); err != nil {
		return nil, err
	}
	expLo, err := encryption.EncryptGrouped(pubkeys, amountLo, openingLo)
	if err != nil || !bytes.Equal(expLo.Bytes(), lo.Bytes()) {
		return nil, ErrInvalidEncoding
	}
	expHi, err := encryption.EncryptGrouped(pubkeys, amountHi, openingHi)
	if err != nil || !bytes.Equal(expHi.Bytes(), hi.Bytes()) {
		return nil, ErrInvalidEncoding
	}
	pd, err := proveBatchedGroupedValidity(pubkeys, lo, hi, amountLo, amountHi, openingLo, openingHi)
	if err != nil {
		return nil, err
	}
	return verified(pd)
}

func batchedTranscript(pubkeys []encryption.PublicKey, lo, hi encryption.GroupedCiphertext) (*Transcript, fr.Element) {
	t := NewTranscript(batchedGroupedValidityDomain)
	appendGroupedStatement(t, pubkeys, lo)
	appendGroupedStatement(t, pubkeys, hi)
	return t, t.ChallengeScalar("t")
}

// foldGrouped returns lo + t·hi.
func foldGrouped(lo, hi encryption.GroupedCiphertext, t *fr.Element) encryption.GroupedCiphertext {
	out := encryption.GroupedCiphertext{
		Commitment: lo.Commitment.Add(hi.Commitment.Mul(t)),
		Handles:    make([]encryption.DecryptHandle, lo.Len()),
	}
	for i := range out.Handles {
		th := mul(&hi.Handles[i].Point, t)
		out.Handles[i] = encryption.DecryptHandle{Point: encryption.AddPoints(&lo.Handles[i].Point, &th)}
	}
	return out
}

func proveBatchedGroupedValidity(
	pubkeys []encryption.PublicKey,
	lo, hi encryption.GroupedCiphertext,
	amountLo, amountHi uint64,
	openingLo, openingHi *encryption.Opening,
) (*BatchedGroupedValidityProofData, error) {
	tr, t := batchedTranscript(pubkeys, lo, hi)

	var x, r fr.Element
	xl, xh := encryption.ScalarFromUint64(amountLo), encryption.ScalarFromUint64(amountHi)
	x.Mul(&xh, &t).Add(&x, &xl)
	rl, rh := openingLo.Scalar(), openingHi.Scalar()
	r.Mul(&rh, &t).Add(&r, &rl)
	defer wipe(&x, &r, &xl, &xh, &rl, &rh)

	p, err := proveGroupedValidity(tr, pubkeys, foldGrouped(lo, hi, &t), &x, &r)
	if err != nil {
		return nil, err
	}
	return &BatchedGroupedValidityProofData{Pubkeys: pubkeys, Lo: lo, Hi: hi, Proof: p}, nil
}

func (pd *BatchedGroupedValidityProofData) Kind() Kind {
	if len(pd.Pubkeys) == 3 {
		return KindBatchedGroupedCiphertext3HandlesValidity
	}
	return KindBatchedGroupedCiphertext2HandlesValidity
}

func (pd *BatchedGroupedValidityProofData) Verify() error {
	if checkHandleCount(pd.Pubkeys, pd.Lo, pd.Hi) != nil {
		return ErrVerification
	}
	tr, t := batchedTranscript(pd.Pubkeys, pd.Lo, pd.Hi)
	return pd.Proof.verify(tr, pd.Pubkeys, foldGrouped(pd.Lo, pd.Hi, &t))
}

func (pd *BatchedGroupedValidityProofData) Bytes() []byte {
	w := &writer{}
	for i := range pd.Pubkeys {
		w.point(&pd.Pubkeys[i].Point)
	}
	w.buf = append(w.buf, pd.Lo.Bytes()...)
	w.buf = append(w.buf, pd.Hi.Bytes()...)
	pd.Proof.write(w)
	return w.buf
}

// Size counts the statement, both grouped ciphertexts and one proof sized
// like the unbatched one.
func (pd *BatchedGroupedValidityProofData) Size() int {
	n := len(pd.Pubkeys)
	return n*encryption.PointSize + 2*(1+n)*encryption.PointSize + GroupedValidityProofSize(n)
}

func (*BatchedGroupedValidityProofData) isProofData() {}

func decodeBatchedGroupedValidity(data []byte, handles int) (ProofData, error) {
	r := &reader{buf: data}
	pd := &BatchedGroupedValidityProofData{}
	pd.Pubkeys = readPubkeys(r, handles)
	pd.Lo = readGrouped(r, handles)
	pd.Hi = readGrouped(r, handles)
	pd.Proof = readGroupedValidityProof(r, handles)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return pd, nil
}
