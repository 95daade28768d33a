// curve.go - Group helpers shared by the encryption and proof layers.
//
// Wraps gnark-crypto BN254 G1 arithmetic with fr scalars, canonical encodings,
// and hash-to-scalar / hash-to-curve utilities.

package encryption

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/sha3"
)

const (
	// PointSize is the size of a compressed G1 point.
	PointSize = bn254.SizeOfG1AffineCompressed
	// ScalarSize is the size of an encoded scalar.
	ScalarSize = fr.Bytes

	pedersenDST = "CONFIDENTIAL-BALANCES-V1-BN254G1_XMD:SHA-256_SVDW_RO_"
)

var (
	// G is the base point carrying amounts.
	G bn254.G1Affine
	// H is the base point carrying openings. Its discrete log relative to G is unknown.
	H bn254.G1Affine

	// ErrInvalidPoint is returned when bytes do not decode to a curve point.
	ErrInvalidPoint = errors.New("invalid curve point encoding")
	// ErrInvalidScalar is returned when bytes are not a canonical scalar.
	ErrInvalidScalar = errors.New("invalid scalar encoding")
)

func init() {
	_, _, G, _ = bn254.Generators()

	h, err := HashToPoint([]byte("pedersen-blinding-base"))
	if err != nil {
		panic(err)
	}
	H = h
}

// HashToPoint maps a message onto G1 under the package domain tag.
func HashToPoint(msg []byte) (bn254.G1Affine, error) {
	return bn254.HashToG1(msg, []byte(pedersenDST))
}

// HashToScalar hashes the given chunks with SHA3-512 and reduces the digest modulo the group order.
func HashToScalar(chunks ...[]byte) fr.Element {
	h := sha3.New512()
	for _, c := range chunks {
		var l [8]byte
		binary.LittleEndian.PutUint64(l[:], uint64(len(c)))
		h.Write(l[:])
		h.Write(c)
	}
	return ScalarFromWideBytes(h.Sum(nil))
}

// ScalarFromWideBytes reduces an arbitrary-length big-endian integer modulo the group order.
func ScalarFromWideBytes(b []byte) fr.Element {
	n := new(big.Int).SetBytes(b)
	n.Mod(n, fr.Modulus())
	var s fr.Element
	s.SetBigInt(n)
	return s
}

// RandomScalar draws a uniformly random scalar.
func RandomScalar() (fr.Element, error) {
	var s fr.Element
	if _, err := s.SetRandom(); err != nil {
		return s, err
	}
	return s, nil
}

// ScalarFromUint64 lifts an amount into the scalar field.
func ScalarFromUint64(v uint64) fr.Element {
	var s fr.Element
	s.SetUint64(v)
	return s
}

// DecodeScalar parses a canonical 32-byte big-endian scalar.
func DecodeScalar(b []byte) (fr.Element, error) {
	var s fr.Element
	if len(b) != ScalarSize {
		return s, ErrInvalidScalar
	}
	n := new(big.Int).SetBytes(b)
	if n.Cmp(fr.Modulus()) >= 0 {
		return s, ErrInvalidScalar
	}
	s.SetBigInt(n)
	return s, nil
}

// EncodeScalar returns the canonical encoding of s.
func EncodeScalar(s *fr.Element) []byte {
	b := s.Bytes()
	return b[:]
}

// DecodePoint parses a compressed G1 point. The identity is accepted.
func DecodePoint(b []byte) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if len(b) != PointSize {
		return p, ErrInvalidPoint
	}
	if _, err := p.SetBytes(b); err != nil {
		return p, ErrInvalidPoint
	}
	return p, nil
}

// EncodePoint returns the compressed encoding of p.
func EncodePoint(p *bn254.G1Affine) []byte {
	b := p.Bytes()
	return b[:]
}

// MulPoint returns s·p.
func MulPoint(p *bn254.G1Affine, s *fr.Element) bn254.G1Affine {
	var k big.Int
	s.BigInt(&k)
	var r bn254.G1Affine
	r.ScalarMultiplication(p, &k)
	return r
}

// AddPoints returns a + b.
func AddPoints(a, b *bn254.G1Affine) bn254.G1Affine {
	var r bn254.G1Affine
	r.Add(a, b)
	return r
}

// SubPoints returns a - b.
func SubPoints(a, b *bn254.G1Affine) bn254.G1Affine {
	var nb, r bn254.G1Affine
	nb.Neg(b)
	r.Add(a, &nb)
	return r
}

// PedersenPoint returns x·G + r·H.
func PedersenPoint(x, r *fr.Element) bn254.G1Affine {
	xG := MulPoint(&G, x)
	rH := MulPoint(&H, r)
	return AddPoints(&xG, &rH)
}

// wipeScalar overwrites a scalar in place.
func wipeScalar(s *fr.Element) {
	for i := range s {
		s[i] = 0
	}
}
