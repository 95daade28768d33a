// grouped.go - Grouped ciphertexts: one commitment, one handle per key.

package encryption

import (
	"errors"
)

// MaxGroupedHandles is the largest number of handles carried by a grouped ciphertext.
const MaxGroupedHandles = 3

// ErrInvalidHandleCount is returned when a grouped ciphertext has a handle count other than 2 or 3.
var ErrInvalidHandleCount = errors.New("grouped ciphertext needs 2 or 3 handles")

// GroupedCiphertext encrypts one amount for several keys under a shared opening.
// Handle i decrypts under the secret key behind pubkeys[i].
type GroupedCiphertext struct {
	Commitment Commitment
	Handles    []DecryptHandle
}

// EncryptGrouped encrypts amount for every key in pubkeys with the same opening.
func EncryptGrouped(pubkeys []PublicKey, amount uint64, opening *Opening) (GroupedCiphertext, error) {
	if len(pubkeys) < 2 || len(pubkeys) > MaxGroupedHandles {
		return GroupedCiphertext{}, ErrInvalidHandleCount
	}
	g := GroupedCiphertext{
		Commitment: Commit(amount, opening),
		Handles:    make([]DecryptHandle, len(pubkeys)),
	}
	for i, pk := range pubkeys {
		g.Handles[i] = pk.DecryptHandle(opening)
	}
	return g, nil
}

// Ciphertext extracts the ordinary ciphertext addressed to key i.
func (g GroupedCiphertext) Ciphertext(i int) Ciphertext {
	return Ciphertext{Commitment: g.Commitment, Handle: g.Handles[i]}
}

// Len returns the number of handles.
func (g GroupedCiphertext) Len() int {
	return len(g.Handles)
}

// Bytes returns commitment ‖ handle_0 ‖ … ‖ handle_{n-1}.
func (g GroupedCiphertext) Bytes() []byte {
	out := make([]byte, 0, PointSize*(1+len(g.Handles)))
	out = append(out, EncodePoint(&g.Commitment.Point)...)
	for i := range g.Handles {
		out = append(out, EncodePoint(&g.Handles[i].Point)...)
	}
	return out
}

// GroupedCiphertextFromBytes parses a grouped ciphertext with the given handle count.
func GroupedCiphertextFromBytes(b []byte, handles int) (GroupedCiphertext, error) {
	if handles < 2 || handles > MaxGroupedHandles {
		return GroupedCiphertext{}, ErrInvalidHandleCount
	}
	if len(b) != PointSize*(1+handles) {
		return GroupedCiphertext{}, ErrInvalidCiphertext
	}
	c, err := DecodePoint(b[:PointSize])
	if err != nil {
		return GroupedCiphertext{}, ErrInvalidCiphertext
	}
	g := GroupedCiphertext{Commitment: Commitment{Point: c}, Handles: make([]DecryptHandle, handles)}
	for i := 0; i < handles; i++ {
		off := PointSize * (1 + i)
		p, err := DecodePoint(b[off : off+PointSize])
		if err != nil {
			return GroupedCiphertext{}, ErrInvalidCiphertext
		}
		g.Handles[i] = DecryptHandle{Point: p}
	}
	return g, nil
}

// MarshalText implements encoding.TextMarshaler.
func (g GroupedCiphertext) MarshalText() ([]byte, error) {
	b := append([]byte{byte(len(g.Handles))}, g.Bytes()...)
	return marshalBase64(b), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GroupedCiphertext) UnmarshalText(text []byte) error {
	b, err := unmarshalBase64(text)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return ErrInvalidCiphertext
	}
	v, err := GroupedCiphertextFromBytes(b[1:], int(b[0]))
	if err != nil {
		return err
	}
	*g = v
	return nil
}
