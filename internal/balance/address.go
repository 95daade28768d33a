package balance

import (
	"crypto/rand"
	"errors"

	"github.com/mr-tron/base58"
)

// AddressSize is the length of an account, mint or context address.
const AddressSize = 32

// ErrInvalidAddress is returned for malformed addresses.
var ErrInvalidAddress = errors.New("invalid address")

// Address identifies an account, a mint or a settlement context.
// It renders as base58.
type Address [AddressSize]byte

// NewAddress returns a random address.
func NewAddress() (Address, error) {
	var a Address
	_, err := rand.Read(a[:])
	return a, err
}

// AddressFromBytes copies b into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Address{}, ErrInvalidAddress
	}
	return AddressFromBytes(b)
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
