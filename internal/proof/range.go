// range.go - Batched range proofs (aggregated Bulletproofs).
//
// Proves that commitments V_j = v_j·G + γ_j·H hide v_j < 2^{n_j}, with the
// bit lengths n_j in [1, 64] summing to 64, 128 or 256. The bit vector of
// every value is laid out back to back and block j is weighted by z^{2+j}.

package proof

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

const (
	rangeDomain = "batched-range-proof"

	// MaxRangeCommitments is the largest number of values in one range proof.
	MaxRangeCommitments = 8
	maxValueBits        = 64
)

// RangeProofSize returns the proof size for a total bit budget.
func RangeProofSize(totalBits int) int {
	return 4*encryption.PointSize + 3*encryption.ScalarSize +
		2*log2(totalBits)*encryption.PointSize + 2*encryption.ScalarSize
}

// RangeProof is an aggregated Bulletproof.
type RangeProof struct {
	A, S, T1, T2 bn254.G1Affine
	Tx, TauX, Mu fr.Element
	IPP          InnerProductProof
}

// BatchedRangeProofData carries commitments, their bit lengths and the proof.
type BatchedRangeProofData struct {
	Commitments []encryption.Commitment
	BitLengths  []uint8
	Proof       RangeProof
}

func kindForBits(total int) (Kind, bool) {
	switch total {
	case 64:
		return KindBatchedRangeProofU64, true
	case 128:
		return KindBatchedRangeProofU128, true
	case 256:
		return KindBatchedRangeProofU256, true
	}
	return 0, false
}

func checkBitLengths(bitLengths []uint8) (int, error) {
	if len(bitLengths) == 0 || len(bitLengths) > MaxRangeCommitments {
		return 0, ErrLengthMismatch
	}
	total := 0
	for _, b := range bitLengths {
		if b == 0 || b > maxValueBits {
			return 0, ErrLengthMismatch
		}
		total += int(b)
	}
	if _, ok := kindForBits(total); !ok {
		return 0, ErrLengthMismatch
	}
	return total, nil
}

// NewBatchedRangeProofData proves that amounts[j] < 2^bitLengths[j] for the
// commitments built from amounts and openings.
func NewBatchedRangeProofData(
	commitments []encryption.Commitment,
	amounts []uint64,
	bitLengths []uint8,
	openings []*encryption.Opening,
) (*BatchedRangeProofData, error) {
	if len(commitments) != len(amounts) || len(amounts) != len(bitLengths) || len(amounts) != len(openings) {
		return nil, ErrLengthMismatch
	}
	if _, err := checkBitLengths(bitLengths); err != nil {
		return nil, err
	}
	for j, v := range amounts {
		if bitLengths[j] < 64 && v>>bitLengths[j] != 0 {
			return nil, ErrOutOfRange
		}
		if !encryption.Commit(v, openings[j]).Equal(commitments[j]) {
			return nil, ErrMismatchedAmount
		}
	}
	pd, err := proveRange(commitments, amounts, bitLengths, openings)
	if err != nil {
		return nil, err
	}
	return verified(pd)
}

func rangeTranscript(commitments []encryption.Commitment, bitLengths []uint8) *Transcript {
	t := NewTranscript(rangeDomain)
	t.AppendUint64("m", uint64(len(commitments)))
	for j := range commitments {
		t.AppendPoint("V", &commitments[j].Point)
		t.AppendUint64("n", uint64(bitLengths[j]))
	}
	return t
}

// blockWeights returns d_k = z^{2+j}·2^i for bit i of value j, and the
// per-value weights z^{2+j}.
func blockWeights(z *fr.Element, bitLengths []uint8, n int) ([]fr.Element, []fr.Element) {
	d := make([]fr.Element, 0, n)
	zj := make([]fr.Element, len(bitLengths))
	var w fr.Element
	w.Square(z)
	for j, nb := range bitLengths {
		zj[j] = w
		var p2 fr.Element
		p2.SetOne()
		for i := 0; i < int(nb); i++ {
			var dk fr.Element
			dk.Mul(&w, &p2)
			d = append(d, dk)
			p2.Double(&p2)
		}
		w.Mul(&w, z)
	}
	return d, zj
}

// proveRange builds the proof without checking the witness.
func proveRange(
	commitments []encryption.Commitment,
	amounts []uint64,
	bitLengths []uint8,
	openings []*encryption.Opening,
) (*BatchedRangeProofData, error) {
	n := 0
	for _, b := range bitLengths {
		n += int(b)
	}
	gs, hs := bulletproofGens.G[:n], bulletproofGens.H[:n]

	aL := make([]fr.Element, n)
	aR := make([]fr.Element, n)
	defer wipeVec(aL)
	defer wipeVec(aR)
	k := 0
	for j, v := range amounts {
		for i := 0; i < int(bitLengths[j]); i++ {
			if (v>>uint(i))&1 == 1 {
				aL[k].SetOne()
			} else {
				aR[k] = minusOne()
			}
			k++
		}
	}

	blind, err := randomScalars(4)
	if err != nil {
		return nil, err
	}
	defer wipeVec(blind)
	alpha, rho, tau1, tau2 := &blind[0], &blind[1], &blind[2], &blind[3]
	sL, err := randomScalars(n)
	if err != nil {
		return nil, err
	}
	sR, err := randomScalars(n)
	if err != nil {
		return nil, err
	}
	defer wipeVec(sL)
	defer wipeVec(sR)

	p := RangeProof{}
	p.A = msm(concatPoints([]bn254.G1Affine{encryption.H}, gs, hs), concatScalars([]fr.Element{*alpha}, aL, aR))
	p.S = msm(concatPoints([]bn254.G1Affine{encryption.H}, gs, hs), concatScalars([]fr.Element{*rho}, sL, sR))

	t := rangeTranscript(commitments, bitLengths)
	t.AppendPoint("A", &p.A)
	t.AppendPoint("S", &p.S)
	y := t.ChallengeScalar("y")
	z := t.ChallengeScalar("z")

	yPow := powers(&y, n)
	d, zj := blockWeights(&z, bitLengths, n)

	// l(X) = l0 + l1·X, r(X) = r0 + r1·X
	l0 := make([]fr.Element, n)
	r0 := make([]fr.Element, n)
	r1 := make([]fr.Element, n)
	for i := 0; i < n; i++ {
		l0[i].Sub(&aL[i], &z)
		var tmp fr.Element
		tmp.Add(&aR[i], &z)
		r0[i].Mul(&yPow[i], &tmp).Add(&r0[i], &d[i])
		r1[i].Mul(&yPow[i], &sR[i])
	}
	defer wipeVec(l0)
	defer wipeVec(r0)

	var t1, t2 fr.Element
	a1, a2 := innerProduct(l0, r1), innerProduct(sL, r0)
	t1.Add(&a1, &a2)
	t2 = innerProduct(sL, r1)

	p.T1 = encryption.PedersenPoint(&t1, tau1)
	p.T2 = encryption.PedersenPoint(&t2, tau2)
	t.AppendPoint("T_1", &p.T1)
	t.AppendPoint("T_2", &p.T2)
	x := t.ChallengeScalar("x")

	l := make([]fr.Element, n)
	r := make([]fr.Element, n)
	for i := 0; i < n; i++ {
		var tmp fr.Element
		tmp.Mul(&sL[i], &x)
		l[i].Add(&l0[i], &tmp)
		tmp.Mul(&r1[i], &x)
		r[i].Add(&r0[i], &tmp)
	}
	p.Tx = innerProduct(l, r)

	var x2, tmp fr.Element
	x2.Square(&x)
	p.TauX.Mul(tau2, &x2)
	tmp.Mul(tau1, &x)
	p.TauX.Add(&p.TauX, &tmp)
	for j, o := range openings {
		g := o.Scalar()
		tmp.Mul(&zj[j], &g)
		p.TauX.Add(&p.TauX, &tmp)
		wipe(&g)
	}
	p.Mu.Mul(rho, &x).Add(&p.Mu, alpha)

	t.AppendScalar("t_x", &p.Tx)
	t.AppendScalar("tau_x", &p.TauX)
	t.AppendScalar("mu", &p.Mu)
	w := t.ChallengeScalar("w")
	q := encryption.MulPoint(&encryption.G, &w)

	yInvPow := powers(inverse(&y), n)
	hPrime := make([]bn254.G1Affine, n)
	for i := range hPrime {
		hPrime[i] = encryption.MulPoint(&hs[i], &yInvPow[i])
	}
	p.IPP = proveInnerProduct(t, &q, gs, hPrime, l, r)

	lengths := append([]uint8(nil), bitLengths...)
	return &BatchedRangeProofData{
		Commitments: append([]encryption.Commitment(nil), commitments...),
		BitLengths:  lengths,
		Proof:       p,
	}, nil
}

func inverse(x *fr.Element) *fr.Element {
	var r fr.Element
	r.Inverse(x)
	return &r
}

func (pd *BatchedRangeProofData) Kind() Kind {
	total := 0
	for _, b := range pd.BitLengths {
		total += int(b)
	}
	k, _ := kindForBits(total)
	return k
}

// Verify checks the polynomial identity
//
//	t_x·G + τ_x·H = Σ z^{2+j}·V_j + δ(y,z)·G + x·T_1 + x²·T_2
//
// and the inner-product argument folded into one multi-scalar multiplication.
func (pd *BatchedRangeProofData) Verify() error {
	if len(pd.Commitments) != len(pd.BitLengths) {
		return ErrVerification
	}
	n, err := checkBitLengths(pd.BitLengths)
	if err != nil {
		return ErrVerification
	}
	p := &pd.Proof
	rounds := log2(n)
	if len(p.IPP.L) != rounds || len(p.IPP.R) != rounds {
		return ErrVerification
	}

	t := rangeTranscript(pd.Commitments, pd.BitLengths)
	t.AppendPoint("A", &p.A)
	t.AppendPoint("S", &p.S)
	y := t.ChallengeScalar("y")
	z := t.ChallengeScalar("z")
	t.AppendPoint("T_1", &p.T1)
	t.AppendPoint("T_2", &p.T2)
	x := t.ChallengeScalar("x")
	t.AppendScalar("t_x", &p.Tx)
	t.AppendScalar("tau_x", &p.TauX)
	t.AppendScalar("mu", &p.Mu)
	w := t.ChallengeScalar("w")
	u, uInv := p.IPP.challenges(t)

	yPow := powers(&y, n)
	d, zj := blockWeights(&z, pd.BitLengths, n)

	// δ(y,z) = (z - z²)·Σ y^k - Σ_j z^{3+j}·(2^{n_j} - 1)
	var z2, delta, tmp fr.Element
	z2.Square(&z)
	sumY := sum(yPow)
	delta.Sub(&z, &z2).Mul(&delta, &sumY)
	for j, nb := range pd.BitLengths {
		ones := encryption.ScalarFromUint64(^uint64(0) >> (64 - uint(nb)))
		tmp.Mul(&zj[j], &z).Mul(&tmp, &ones)
		delta.Sub(&delta, &tmp)
	}

	var x2 fr.Element
	x2.Square(&x)
	m := len(pd.Commitments)
	points := make([]bn254.G1Affine, 0, m+4)
	scalars := make([]fr.Element, 0, m+4)
	var gCoeff fr.Element
	gCoeff.Sub(&p.Tx, &delta)
	points = append(points, encryption.G, encryption.H, p.T1, p.T2)
	scalars = append(scalars, gCoeff, p.TauX, neg(&x), neg(&x2))
	for j := range pd.Commitments {
		points = append(points, pd.Commitments[j].Point)
		scalars = append(scalars, neg(&zj[j]))
	}
	if !zeroCombination(points, scalars) {
		return ErrVerification
	}

	// A + x·S - μ·H - z·ΣG_k + Σ(z + y^{-k}·d_k)·H_k + w·t_x·G + Σ(u²L + u⁻²R)
	//   = a·Σ s_k·G_k + b·Σ s_k⁻¹·y^{-k}·H_k + w·a·b·G
	s := foldingScalars(u, uInv, n)
	sInv := fr.BatchInvert(s)
	yInvPow := powers(inverse(&y), n)

	size := 2*n + 4 + 2*rounds
	points = make([]bn254.G1Affine, 0, size)
	scalars = make([]fr.Element, 0, size)

	var ab, wCoeff fr.Element
	ab.Mul(&p.IPP.A, &p.IPP.B)
	wCoeff.Sub(&p.Tx, &ab).Mul(&wCoeff, &w)
	var one fr.Element
	one.SetOne()
	points = append(points, p.A, p.S, encryption.H, encryption.G)
	scalars = append(scalars, one, x, neg(&p.Mu), wCoeff)

	for k := 0; k < n; k++ {
		var gk, hk fr.Element
		gk.Mul(&p.IPP.A, &s[k]).Add(&gk, &z)
		points = append(points, bulletproofGens.G[k])
		scalars = append(scalars, neg(&gk))

		tmp.Mul(&p.IPP.B, &sInv[k])
		hk.Sub(&d[k], &tmp).Mul(&hk, &yInvPow[k]).Add(&hk, &z)
		points = append(points, bulletproofGens.H[k])
		scalars = append(scalars, hk)
	}
	for i := 0; i < rounds; i++ {
		var u2, u2Inv fr.Element
		u2.Square(&u[i])
		u2Inv.Square(&uInv[i])
		points = append(points, p.IPP.L[i], p.IPP.R[i])
		scalars = append(scalars, u2, u2Inv)
	}
	if !zeroCombination(points, scalars) {
		return ErrVerification
	}
	return nil
}

func (pd *BatchedRangeProofData) Bytes() []byte {
	w := &writer{}
	w.u8(byte(len(pd.Commitments)))
	for i := range pd.Commitments {
		w.point(&pd.Commitments[i].Point)
	}
	for _, b := range pd.BitLengths {
		w.u8(b)
	}
	p := &pd.Proof
	w.point(&p.A)
	w.point(&p.S)
	w.point(&p.T1)
	w.point(&p.T2)
	w.scalar(&p.Tx)
	w.scalar(&p.TauX)
	w.scalar(&p.Mu)
	for i := range p.IPP.L {
		w.point(&p.IPP.L[i])
		w.point(&p.IPP.R[i])
	}
	w.scalar(&p.IPP.A)
	w.scalar(&p.IPP.B)
	return w.buf
}

// Size counts the bit partition, each commitment with its length, and the
// proof. A 128-bit proof is 736 bytes with compressed BN254 points, about
// half the 1,400 bytes often quoted. Together with the other transfer proofs
// it still exceeds MaxInlinePayload, so transfers publish to contexts.
func (pd *BatchedRangeProofData) Size() int {
	total := 0
	for _, b := range pd.BitLengths {
		total += int(b)
	}
	return 1 + len(pd.Commitments)*(encryption.PointSize+1) + RangeProofSize(total)
}

func (*BatchedRangeProofData) isProofData() {}

func decodeBatchedRange(data []byte, totalBits int) (ProofData, error) {
	r := &reader{buf: data}
	m := int(r.u8())
	if r.err == nil && (m == 0 || m > MaxRangeCommitments) {
		return nil, ErrMalformedProof
	}
	pd := &BatchedRangeProofData{
		Commitments: make([]encryption.Commitment, m),
		BitLengths:  make([]uint8, m),
	}
	for i := range pd.Commitments {
		pd.Commitments[i].Point = r.point()
	}
	sumBits := 0
	for i := range pd.BitLengths {
		pd.BitLengths[i] = r.u8()
		sumBits += int(pd.BitLengths[i])
	}
	if r.err == nil && sumBits != totalBits {
		return nil, ErrMalformedProof
	}
	p := &pd.Proof
	p.A, p.S, p.T1, p.T2 = r.point(), r.point(), r.point(), r.point()
	p.Tx, p.TauX, p.Mu = r.scalar(), r.scalar(), r.scalar()
	rounds := log2(totalBits)
	p.IPP.L = make([]bn254.G1Affine, rounds)
	p.IPP.R = make([]bn254.G1Affine, rounds)
	for i := 0; i < rounds; i++ {
		p.IPP.L[i] = r.point()
		p.IPP.R[i] = r.point()
	}
	p.IPP.A, p.IPP.B = r.scalar(), r.scalar()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return pd, nil
}
