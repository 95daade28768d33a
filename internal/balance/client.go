// client.go - Owner-side view of an account.

package balance

import (
	"context"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

// Keys are the owner's decryption keys for one account.
type Keys struct {
	ElGamal *encryption.Keypair
	Ae      *encryption.AeKey
}

// DeriveKeys derives both keys from signer, bound to the account address.
func DeriveKeys(signer encryption.Signer, account Address) (*Keys, error) {
	kp, err := encryption.DeriveKeypair(signer, account[:])
	if err != nil {
		return nil, err
	}
	ae, err := encryption.DeriveAeKey(signer, account[:])
	if err != nil {
		kp.Zeroize()
		return nil, err
	}
	return &Keys{ElGamal: kp, Ae: ae}, nil
}

// Zeroize wipes both keys.
func (k *Keys) Zeroize() {
	if k.ElGamal != nil {
		k.ElGamal.Zeroize()
	}
	if k.Ae != nil {
		k.Ae.Zeroize()
	}
}

// Breakdown is the decrypted balance of an account. Confidential is
// Pending + Available.
type Breakdown struct {
	Public       uint64 `json:"public"`
	Pending      uint64 `json:"pending"`
	Available    uint64 `json:"available"`
	Confidential uint64 `json:"confidential"`
}

// AvailableOf decrypts the AE mirror of the available balance.
func AvailableOf(acct *Account, keys *Keys) (uint64, error) {
	return keys.Ae.Decrypt(acct.DecryptableAvailable)
}

// PendingOf decrypts both pending limbs. Repeated credits grow each limb
// past its single-credit width, so the decoder's full window is searched.
// The window must cover counter·2^32; see MaxPendingCreditsForWindow.
func PendingOf(ctx context.Context, acct *Account, keys *Keys, d *encryption.Decoder) (uint64, error) {
	lo, err := keys.ElGamal.Decrypt(acct.PendingLo).DecodeContext(ctx, d)
	if err != nil {
		return 0, err
	}
	hi, err := keys.ElGamal.Decrypt(acct.PendingHi).DecodeContext(ctx, d)
	if err != nil {
		return 0, err
	}
	total, ok := CombineAmount(lo, hi)
	if !ok {
		return 0, ErrOverflow
	}
	return total, nil
}

// BreakdownOf decrypts every balance of acct.
func BreakdownOf(ctx context.Context, acct *Account, keys *Keys, d *encryption.Decoder) (*Breakdown, error) {
	if err := acct.requireConfigured(); err != nil {
		return nil, err
	}
	available, err := AvailableOf(acct, keys)
	if err != nil {
		return nil, err
	}
	pending, err := PendingOf(ctx, acct, keys, d)
	if err != nil {
		return nil, err
	}
	if pending > ^uint64(0)-available {
		return nil, ErrOverflow
	}
	return &Breakdown{
		Public:       acct.PublicAmount,
		Pending:      pending,
		Available:    available,
		Confidential: pending + available,
	}, nil
}

// CheckInvariant verifies that the ElGamal available balance encrypts the
// same amount as its AE mirror. The comparison happens in the exponent and
// needs no discrete log.
func CheckInvariant(acct *Account, keys *Keys) error {
	amount, err := AvailableOf(acct, keys)
	if err != nil {
		return err
	}
	want := encryption.AmountCiphertext(amount).Commitment.Point
	got := keys.ElGamal.Decrypt(acct.Available).Target
	if !got.Equal(&want) {
		return ErrInvariantViolation
	}
	return nil
}
