// pedersen.go - Pedersen commitments C = x·G + r·H.
//
// Commitments are hiding and binding, and add homomorphically:
// Commit(a, r_a) + Commit(b, r_b) = Commit(a+b, r_a+r_b).

package encryption

import (
	"encoding/base64"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Opening is the blinding scalar bound to one commitment or ciphertext.
// It must never be reused for an unrelated value.
type Opening struct {
	r fr.Element
}

// NewOpening draws a fresh random opening.
func NewOpening() (*Opening, error) {
	r, err := RandomScalar()
	if err != nil {
		return nil, err
	}
	return &Opening{r: r}, nil
}

// OpeningFromScalar wraps an existing scalar.
func OpeningFromScalar(r fr.Element) *Opening {
	return &Opening{r: r}
}

// ZeroOpening returns the opening of a trivially encrypted (unblinded) value.
func ZeroOpening() *Opening {
	return &Opening{}
}

// Scalar returns a copy of the opening scalar.
func (o *Opening) Scalar() fr.Element {
	return o.r
}

// Add returns o + other.
func (o *Opening) Add(other *Opening) *Opening {
	var r fr.Element
	r.Add(&o.r, &other.r)
	return &Opening{r: r}
}

// Sub returns o - other.
func (o *Opening) Sub(other *Opening) *Opening {
	var r fr.Element
	r.Sub(&o.r, &other.r)
	return &Opening{r: r}
}

// Mul returns k·o.
func (o *Opening) Mul(k *fr.Element) *Opening {
	var r fr.Element
	r.Mul(&o.r, k)
	return &Opening{r: r}
}

// Zeroize wipes the opening.
func (o *Opening) Zeroize() {
	wipeScalar(&o.r)
}

// Commitment is a Pedersen commitment point.
type Commitment struct {
	Point bn254.G1Affine
}

// Commit creates C = amount·G + opening·H.
func Commit(amount uint64, opening *Opening) Commitment {
	x := ScalarFromUint64(amount)
	return Commitment{Point: PedersenPoint(&x, &opening.r)}
}

// CommitWithOpening commits to amount under a fresh random opening.
func CommitWithOpening(amount uint64) (Commitment, *Opening, error) {
	o, err := NewOpening()
	if err != nil {
		return Commitment{}, nil, err
	}
	return Commit(amount, o), o, nil
}

// Add returns c + other.
func (c Commitment) Add(other Commitment) Commitment {
	return Commitment{Point: AddPoints(&c.Point, &other.Point)}
}

// Sub returns c - other.
func (c Commitment) Sub(other Commitment) Commitment {
	return Commitment{Point: SubPoints(&c.Point, &other.Point)}
}

// Mul returns k·c.
func (c Commitment) Mul(k *fr.Element) Commitment {
	return Commitment{Point: MulPoint(&c.Point, k)}
}

// Equal reports whether both commitments are the same point.
func (c Commitment) Equal(other Commitment) bool {
	return c.Point.Equal(&other.Point)
}

// Bytes returns the compressed commitment.
func (c Commitment) Bytes() []byte {
	return EncodePoint(&c.Point)
}

// CommitmentFromBytes parses a compressed commitment.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	p, err := DecodePoint(b)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{Point: p}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Commitment) MarshalText() ([]byte, error) {
	return marshalBase64(c.Bytes()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Commitment) UnmarshalText(text []byte) error {
	b, err := unmarshalBase64(text)
	if err != nil {
		return err
	}
	v, err := CommitmentFromBytes(b)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func marshalBase64(b []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out
}

func unmarshalBase64(text []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(out, text)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
