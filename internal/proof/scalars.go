package proof

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

func neg(s *fr.Element) fr.Element {
	var r fr.Element
	r.Neg(s)
	return r
}

func minusOne() fr.Element {
	var r fr.Element
	r.SetOne()
	r.Neg(&r)
	return r
}

// zeroCombination reports whether Σ scalars[i]·points[i] is the identity.
func zeroCombination(points []bn254.G1Affine, scalars []fr.Element) bool {
	r := msm(points, scalars)
	return r.IsInfinity()
}

// respond returns c·w + y.
func respond(c, w, y *fr.Element) fr.Element {
	var z fr.Element
	z.Mul(c, w).Add(&z, y)
	return z
}

func randomScalars(n int) ([]fr.Element, error) {
	out := make([]fr.Element, n)
	for i := range out {
		if _, err := out[i].SetRandom(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func wipe(scalars ...*fr.Element) {
	for _, s := range scalars {
		s.SetZero()
	}
}

func wipeVec(v []fr.Element) {
	for i := range v {
		v[i].SetZero()
	}
}

func innerProduct(a, b []fr.Element) fr.Element {
	var acc, t fr.Element
	for i := range a {
		t.Mul(&a[i], &b[i])
		acc.Add(&acc, &t)
	}
	return acc
}

// powers returns [1, x, x², …, x^(n-1)].
func powers(x *fr.Element, n int) []fr.Element {
	out := make([]fr.Element, n)
	if n == 0 {
		return out
	}
	out[0].SetOne()
	for i := 1; i < n; i++ {
		out[i].Mul(&out[i-1], x)
	}
	return out
}

func sum(v []fr.Element) fr.Element {
	var acc fr.Element
	for i := range v {
		acc.Add(&acc, &v[i])
	}
	return acc
}
