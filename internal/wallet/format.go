package wallet

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned by ParseAmount for negative, fractional or
// oversized amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// Format renders a base-unit amount with the mint's decimals, e.g. 12345
// with 2 decimals is "123.45".
func Format(amount uint64, decimals uint8) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
	return d.StringFixed(int32(decimals))
}

// ParseAmount converts a decimal string into base units.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q: %v", s, err)
	}
	units := d.Shift(int32(decimals))
	if units.IsNegative() || !units.IsInteger() {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q with %d decimals", s, decimals)
	}
	n := units.BigInt()
	if !n.IsUint64() {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q overflows", s)
	}
	return n.Uint64(), nil
}
