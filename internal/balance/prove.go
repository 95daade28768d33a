// prove.go - Owner-side construction of the statements each transition needs.

package balance

import (
	"context"
	"errors"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
)

// ErrInsufficientAvailableBalance is returned when the owner asks to move
// more than the decrypted available balance.
var ErrInsufficientAvailableBalance = errors.New("insufficient available balance")

// WithdrawStatement bundles the proofs of one withdrawal.
type WithdrawStatement struct {
	Equality       *proof.CiphertextCommitmentEqualityProofData
	Range          *proof.BatchedRangeProofData
	NewDecryptable encryption.AeCiphertext
}

// ProveConfigure returns the key validity proof and the AE encryption of a
// zero available balance.
func ProveConfigure(keys *Keys) (*proof.PubkeyValidityProofData, encryption.AeCiphertext, error) {
	pv, err := proof.NewPubkeyValidityProofData(keys.ElGamal)
	if err != nil {
		return nil, encryption.AeCiphertext{}, err
	}
	zero, err := keys.Ae.Encrypt(0)
	if err != nil {
		return nil, encryption.AeCiphertext{}, err
	}
	return pv, zero, nil
}

// PrepareApplyPending returns the counter to expect and the AE encryption of
// available + pending.
func PrepareApplyPending(ctx context.Context, acct *Account, keys *Keys, d *encryption.Decoder) (uint64, encryption.AeCiphertext, error) {
	b, err := BreakdownOf(ctx, acct, keys, d)
	if err != nil {
		return 0, encryption.AeCiphertext{}, err
	}
	dec, err := keys.Ae.Encrypt(b.Confidential)
	if err != nil {
		return 0, encryption.AeCiphertext{}, err
	}
	return acct.PendingCreditCounter, dec, nil
}

// ProveWithdraw builds the proofs for withdrawing amount out of available.
func ProveWithdraw(ctx context.Context, acct *Account, keys *Keys, available, amount uint64) (*WithdrawStatement, error) {
	if amount > available {
		return nil, ErrInsufficientAvailableBalance
	}
	remaining := available - amount
	commitment, opening, err := encryption.CommitWithOpening(remaining)
	if err != nil {
		return nil, err
	}
	defer opening.Zeroize()

	eq, err := proof.NewCiphertextCommitmentEqualityProofData(
		keys.ElGamal, acct.Available.SubAmount(amount), commitment, opening, remaining)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rp, err := proof.NewBatchedRangeProofData(
		[]encryption.Commitment{commitment}, []uint64{remaining}, WithdrawRangeBits, []*encryption.Opening{opening})
	if err != nil {
		return nil, err
	}
	dec, err := keys.Ae.Encrypt(remaining)
	if err != nil {
		return nil, err
	}
	return &WithdrawStatement{Equality: eq, Range: rp, NewDecryptable: dec}, nil
}

// ProveTransfer builds the proofs for sending amount from src to the holder
// of dst, with an optional auditor handle. available is the owner's
// decrypted available balance. ctx is checked between proofs.
func ProveTransfer(
	ctx context.Context,
	src *Account,
	keys *Keys,
	available uint64,
	dst encryption.PublicKey,
	auditor *encryption.PublicKey,
	amount uint64,
) (*TransferStatement, error) {
	if amount > MaxCreditAmount {
		return nil, ErrAmountOutOfRange
	}
	if amount > available {
		return nil, ErrInsufficientAvailableBalance
	}
	pubkeys := []encryption.PublicKey{src.ElGamalPubkey, dst}
	if auditor != nil {
		pubkeys = append(pubkeys, *auditor)
	}

	lo, hi := SplitAmount(amount)
	openLo, err := encryption.NewOpening()
	if err != nil {
		return nil, err
	}
	defer openLo.Zeroize()
	openHi, err := encryption.NewOpening()
	if err != nil {
		return nil, err
	}
	defer openHi.Zeroize()
	groupedLo, err := encryption.EncryptGrouped(pubkeys, lo, openLo)
	if err != nil {
		return nil, err
	}
	groupedHi, err := encryption.EncryptGrouped(pubkeys, hi, openHi)
	if err != nil {
		return nil, err
	}

	validity, err := proof.NewBatchedGroupedCiphertextValidityProofData(
		pubkeys, groupedLo, groupedHi, lo, hi, openLo, openHi)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	remaining := available - amount
	debit := encryption.CombineLimbs(groupedLo.Ciphertext(0), groupedHi.Ciphertext(0), LimbBits)
	commitment, opening, err := encryption.CommitWithOpening(remaining)
	if err != nil {
		return nil, err
	}
	defer opening.Zeroize()
	eq, err := proof.NewCiphertextCommitmentEqualityProofData(
		keys.ElGamal, src.Available.Sub(debit), commitment, opening, remaining)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rp, err := proof.NewBatchedRangeProofData(
		[]encryption.Commitment{commitment, groupedLo.Commitment, groupedHi.Commitment, rangePadding},
		[]uint64{remaining, lo, hi, 0},
		TransferRangeBits,
		[]*encryption.Opening{opening, openLo, openHi, encryption.ZeroOpening()},
	)
	if err != nil {
		return nil, err
	}
	dec, err := keys.Ae.Encrypt(remaining)
	if err != nil {
		return nil, err
	}
	return &TransferStatement{
		Equality:             eq,
		Validity:             validity,
		Range:                rp,
		NewSourceDecryptable: dec,
	}, nil
}

// ProveEmpty proves that the available and the pending balance are zero.
func ProveEmpty(acct *Account, keys *Keys) (*proof.ZeroCiphertextProofData, *proof.ZeroCiphertextProofData, error) {
	za, err := proof.NewZeroCiphertextProofData(keys.ElGamal, acct.Available)
	if err != nil {
		return nil, nil, err
	}
	zp, err := proof.NewZeroCiphertextProofData(keys.ElGamal, acct.PendingBalance())
	if err != nil {
		return nil, nil, err
	}
	return za, zp, nil
}
