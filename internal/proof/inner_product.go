// inner_product.go - Logarithmic inner-product argument.
//
// Proves knowledge of vectors a, b with P = <a,G> + <b,H> + <a,b>·Q.
// Each round halves the vectors:
//
//	a' = a_lo·u + a_hi·u⁻¹      G' = G_lo·u⁻¹ + G_hi·u
//	b' = b_lo·u⁻¹ + b_hi·u      H' = H_lo·u + H_hi·u⁻¹
//
// so P' = P + u²·L + u⁻²·R. The verifier folds everything into one
// multi-scalar multiplication (see rangeProof.verify).

package proof

import (
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

// InnerProductProof is (L_i, R_i) per round and the final scalars a, b.
type InnerProductProof struct {
	L []bn254.G1Affine
	R []bn254.G1Affine
	A fr.Element
	B fr.Element
}

func proveInnerProduct(t *Transcript, q *bn254.G1Affine, gs, hs []bn254.G1Affine, a, b []fr.Element) InnerProductProof {
	g := append([]bn254.G1Affine(nil), gs...)
	h := append([]bn254.G1Affine(nil), hs...)
	a = append([]fr.Element(nil), a...)
	b = append([]fr.Element(nil), b...)
	defer wipeVec(a)
	defer wipeVec(b)

	var proof InnerProductProof
	for n := len(a); n > 1; {
		n /= 2
		aLo, aHi := a[:n], a[n:2*n]
		bLo, bHi := b[:n], b[n:2*n]
		gLo, gHi := g[:n], g[n:2*n]
		hLo, hHi := h[:n], h[n:2*n]

		cL := innerProduct(aLo, bHi)
		cR := innerProduct(aHi, bLo)

		L := msm(concatPoints(gHi, hLo, []bn254.G1Affine{*q}), concatScalars(aLo, bHi, []fr.Element{cL}))
		R := msm(concatPoints(gLo, hHi, []bn254.G1Affine{*q}), concatScalars(aHi, bLo, []fr.Element{cR}))
		proof.L = append(proof.L, L)
		proof.R = append(proof.R, R)

		t.AppendPoint("L", &L)
		t.AppendPoint("R", &R)
		u := t.ChallengeScalar("u")
		var uInv fr.Element
		uInv.Inverse(&u)

		var s1, s2 fr.Element
		for i := 0; i < n; i++ {
			s1.Mul(&aLo[i], &u)
			s2.Mul(&aHi[i], &uInv)
			aLo[i].Add(&s1, &s2)

			s1.Mul(&bLo[i], &uInv)
			s2.Mul(&bHi[i], &u)
			bLo[i].Add(&s1, &s2)

			gLo[i] = lin2(&gLo[i], &uInv, &gHi[i], &u)
			hLo[i] = lin2(&hLo[i], &u, &hHi[i], &uInv)
		}
		a, b, g, h = aLo, bLo, gLo, hLo
	}
	proof.A, proof.B = a[0], b[0]
	return proof
}

// challenges replays the transcript and returns u_i and u_i⁻¹.
func (p *InnerProductProof) challenges(t *Transcript) ([]fr.Element, []fr.Element) {
	u := make([]fr.Element, len(p.L))
	for i := range p.L {
		t.AppendPoint("L", &p.L[i])
		t.AppendPoint("R", &p.R[i])
		u[i] = t.ChallengeScalar("u")
	}
	uInv := fr.BatchInvert(u)
	return u, uInv
}

// foldingScalars returns s_k = Π u_i^{±1}, where the sign for round i
// follows bit (rounds-1-i) of k.
func foldingScalars(u, uInv []fr.Element, n int) []fr.Element {
	rounds := len(u)
	s := make([]fr.Element, n)
	for k := 0; k < n; k++ {
		s[k].SetOne()
		for i := 0; i < rounds; i++ {
			if (k>>(rounds-1-i))&1 == 1 {
				s[k].Mul(&s[k], &u[i])
			} else {
				s[k].Mul(&s[k], &uInv[i])
			}
		}
	}
	return s
}

func log2(n int) int {
	return bits.Len(uint(n)) - 1
}

// lin2 returns s1·p1 + s2·p2.
func lin2(p1 *bn254.G1Affine, s1 *fr.Element, p2 *bn254.G1Affine, s2 *fr.Element) bn254.G1Affine {
	a := encryption.MulPoint(p1, s1)
	b := encryption.MulPoint(p2, s2)
	return encryption.AddPoints(&a, &b)
}

func concatPoints(parts ...[]bn254.G1Affine) []bn254.G1Affine {
	var out []bn254.G1Affine
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func concatScalars(parts ...[]fr.Element) []fr.Element {
	var out []fr.Element
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
