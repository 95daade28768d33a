// elgamal.go - Twisted ElGamal encryption of 64-bit amounts.
//
// A keypair is (s, P = s⁻¹·H). Encrypting x with opening r yields the
// ciphertext (C, D) = (x·G + r·H, r·P). Decryption computes C - s·D = x·G
// and recovers x with a bounded discrete-log search (see discretelog.go).

package encryption

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	// SeedSize is the required length of an ElGamal keypair seed.
	SeedSize = 32
	// CiphertextSize is the encoded size of a ciphertext: commitment ‖ handle.
	CiphertextSize = 2 * PointSize
)

var (
	// ErrInvalidSeed is returned when a seed has the wrong length or yields a zero key.
	ErrInvalidSeed = errors.New("invalid seed")
	// ErrInvalidCiphertext is returned when ciphertext bytes fail to decode.
	ErrInvalidCiphertext = errors.New("invalid ciphertext encoding")
	// ErrInvalidPublicKey is returned when public key bytes fail to decode.
	ErrInvalidPublicKey = errors.New("invalid public key encoding")
)

// SecretKey is the ElGamal secret scalar s.
type SecretKey struct {
	s fr.Element
}

// Scalar returns a copy of the secret scalar.
func (sk *SecretKey) Scalar() fr.Element {
	return sk.s
}

// Zeroize wipes the secret scalar.
func (sk *SecretKey) Zeroize() {
	wipeScalar(&sk.s)
}

// PublicKey is the ElGamal public point P = s⁻¹·H.
type PublicKey struct {
	Point bn254.G1Affine
}

// Keypair holds an account's ElGamal keys.
type Keypair struct {
	Public PublicKey
	secret SecretKey
}

// NewKeypair generates a keypair from a random secret scalar.
func NewKeypair() (*Keypair, error) {
	for {
		s, err := RandomScalar()
		if err != nil {
			return nil, err
		}
		if !s.IsZero() {
			return KeypairFromSecret(s)
		}
	}
}

// KeypairFromSeed deterministically derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}
	s := HashToScalar([]byte("elgamal-secret-key"), seed)
	if s.IsZero() {
		return nil, ErrInvalidSeed
	}
	return KeypairFromSecret(s)
}

// KeypairFromSecret rebuilds a keypair from its secret scalar.
func KeypairFromSecret(s fr.Element) (*Keypair, error) {
	if s.IsZero() {
		return nil, ErrInvalidSeed
	}
	var inv fr.Element
	inv.Inverse(&s)
	return &Keypair{
		Public: PublicKey{Point: MulPoint(&H, &inv)},
		secret: SecretKey{s: s},
	}, nil
}

// Secret returns the secret key.
func (kp *Keypair) Secret() *SecretKey {
	return &kp.secret
}

// Zeroize wipes the secret half of the keypair.
func (kp *Keypair) Zeroize() {
	kp.secret.Zeroize()
}

// Decrypt strips the blinding from ct and returns the discrete-log instance x·G.
func (kp *Keypair) Decrypt(ct Ciphertext) *DiscreteLog {
	sD := MulPoint(&ct.Handle.Point, &kp.secret.s)
	return &DiscreteLog{Target: SubPoints(&ct.Commitment.Point, &sD)}
}

// DecryptU32 decrypts a ciphertext whose amount is below 2³².
func (kp *Keypair) DecryptU32(ct Ciphertext, d *Decoder) (uint64, error) {
	return kp.Decrypt(ct).DecodeU32(d)
}

// Encrypt encrypts amount under a fresh opening that is discarded.
func (pk PublicKey) Encrypt(amount uint64) (Ciphertext, error) {
	o, err := NewOpening()
	if err != nil {
		return Ciphertext{}, err
	}
	defer o.Zeroize()
	return pk.EncryptWithOpening(amount, o), nil
}

// EncryptWithOpening encrypts amount under a caller-retained opening.
func (pk PublicKey) EncryptWithOpening(amount uint64, opening *Opening) Ciphertext {
	return Ciphertext{
		Commitment: Commit(amount, opening),
		Handle:     pk.DecryptHandle(opening),
	}
}

// DecryptHandle returns r·P.
func (pk PublicKey) DecryptHandle(opening *Opening) DecryptHandle {
	return DecryptHandle{Point: MulPoint(&pk.Point, &opening.r)}
}

// Equal reports whether both keys are the same point.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.Point.Equal(&other.Point)
}

// IsZero reports whether the key is the identity (used for "no auditor").
func (pk PublicKey) IsZero() bool {
	return pk.Point.IsInfinity()
}

// Bytes returns the compressed key.
func (pk PublicKey) Bytes() []byte {
	return EncodePoint(&pk.Point)
}

// PublicKeyFromBytes parses a compressed public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	p, err := DecodePoint(b)
	if err != nil {
		return PublicKey{}, ErrInvalidPublicKey
	}
	return PublicKey{Point: p}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return marshalBase64(pk.Bytes()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	b, err := unmarshalBase64(text)
	if err != nil {
		return err
	}
	v, err := PublicKeyFromBytes(b)
	if err != nil {
		return err
	}
	*pk = v
	return nil
}

// DecryptHandle is the r·P component of a ciphertext.
type DecryptHandle struct {
	Point bn254.G1Affine
}

// Ciphertext is a twisted ElGamal ciphertext.
type Ciphertext struct {
	Commitment Commitment
	Handle     DecryptHandle
}

// ZeroCiphertext returns the trivial encryption of zero (identity, identity).
func ZeroCiphertext() Ciphertext {
	return Ciphertext{}
}

// AmountCiphertext returns the unblinded encryption (x·G, identity) of a public amount.
func AmountCiphertext(amount uint64) Ciphertext {
	x := ScalarFromUint64(amount)
	return Ciphertext{Commitment: Commitment{Point: MulPoint(&G, &x)}}
}

// Add returns the encryption of the sum.
func (c Ciphertext) Add(other Ciphertext) Ciphertext {
	return Ciphertext{
		Commitment: c.Commitment.Add(other.Commitment),
		Handle:     DecryptHandle{Point: AddPoints(&c.Handle.Point, &other.Handle.Point)},
	}
}

// Sub returns the encryption of the difference.
func (c Ciphertext) Sub(other Ciphertext) Ciphertext {
	return Ciphertext{
		Commitment: c.Commitment.Sub(other.Commitment),
		Handle:     DecryptHandle{Point: SubPoints(&c.Handle.Point, &other.Handle.Point)},
	}
}

// Mul scales the encrypted amount by k.
func (c Ciphertext) Mul(k *fr.Element) Ciphertext {
	return Ciphertext{
		Commitment: c.Commitment.Mul(k),
		Handle:     DecryptHandle{Point: MulPoint(&c.Handle.Point, k)},
	}
}

// AddAmount adds a public amount without touching the handle.
func (c Ciphertext) AddAmount(amount uint64) Ciphertext {
	return c.Add(AmountCiphertext(amount))
}

// SubAmount subtracts a public amount without touching the handle.
func (c Ciphertext) SubAmount(amount uint64) Ciphertext {
	return c.Sub(AmountCiphertext(amount))
}

// CombineLimbs returns lo + 2^shift·hi.
func CombineLimbs(lo, hi Ciphertext, shift uint) Ciphertext {
	k := ScalarFromUint64(1 << shift)
	return lo.Add(hi.Mul(&k))
}

// Equal reports whether both ciphertexts are identical.
func (c Ciphertext) Equal(other Ciphertext) bool {
	return c.Commitment.Equal(other.Commitment) && c.Handle.Point.Equal(&other.Handle.Point)
}

// Bytes returns commitment ‖ handle.
func (c Ciphertext) Bytes() []byte {
	out := make([]byte, 0, CiphertextSize)
	out = append(out, EncodePoint(&c.Commitment.Point)...)
	return append(out, EncodePoint(&c.Handle.Point)...)
}

// CiphertextFromBytes parses commitment ‖ handle.
func CiphertextFromBytes(b []byte) (Ciphertext, error) {
	if len(b) != CiphertextSize {
		return Ciphertext{}, ErrInvalidCiphertext
	}
	cp, err := DecodePoint(b[:PointSize])
	if err != nil {
		return Ciphertext{}, ErrInvalidCiphertext
	}
	hp, err := DecodePoint(b[PointSize:])
	if err != nil {
		return Ciphertext{}, ErrInvalidCiphertext
	}
	return Ciphertext{Commitment: Commitment{Point: cp}, Handle: DecryptHandle{Point: hp}}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Ciphertext) MarshalText() ([]byte, error) {
	return marshalBase64(c.Bytes()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Ciphertext) UnmarshalText(text []byte) error {
	b, err := unmarshalBase64(text)
	if err != nil {
		return err
	}
	v, err := CiphertextFromBytes(b)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
