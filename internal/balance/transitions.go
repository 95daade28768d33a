// transitions.go - Ledger-side balance transitions.
//
// Each transition validates everything before mutating, so a failed call
// leaves the account untouched. Proofs passed in are assumed verified by
// the settlement layer; here only their statements are matched against the
// ciphertexts being moved.

package balance

import (
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
)

// TransferStatement bundles the verified proofs of one confidential transfer.
type TransferStatement struct {
	Equality             *proof.CiphertextCommitmentEqualityProofData
	Validity             *proof.BatchedGroupedValidityProofData
	Range                *proof.BatchedRangeProofData
	NewSourceDecryptable encryption.AeCiphertext
}

// TransferRangeBits is the bit partition of a transfer range proof:
// remaining source balance, low limb, high limb, padding. The padding entry
// commits to zero so the total is a power of two.
var TransferRangeBits = []uint8{64, LimbBits, HighLimbBits, 128 - 64 - LimbBits - HighLimbBits}

// rangePadding is the commitment filling the last transfer range slot.
var rangePadding = encryption.Commit(0, encryption.ZeroOpening())

// WithdrawRangeBits is the bit partition of a withdraw range proof.
var WithdrawRangeBits = []uint8{64}

// MintTo credits the public balance.
func (a *Account) MintTo(amount uint64) error {
	if a.PublicAmount > ^uint64(0)-amount {
		return ErrOverflow
	}
	a.PublicAmount += amount
	return nil
}

// Configure enables confidential balances with the key proven by pv. All
// encrypted balances start as the trivial encryption of zero.
func (a *Account) Configure(pv *proof.PubkeyValidityProofData, decryptable encryption.AeCiphertext, maxCounter uint64) error {
	if a.Status == Configured {
		return ErrAlreadyConfigured
	}
	if pv == nil || pv.Pubkey.IsZero() {
		return ErrProofMismatch
	}
	if maxCounter == 0 {
		maxCounter = DefaultMaxPendingCreditCounter
	}
	if maxCounter > DefaultMaxPendingCreditCounter {
		return ErrCounterLimit
	}
	a.Status = Configured
	a.ElGamalPubkey = pv.Pubkey
	a.PendingLo = encryption.ZeroCiphertext()
	a.PendingHi = encryption.ZeroCiphertext()
	a.Available = encryption.ZeroCiphertext()
	a.DecryptableAvailable = decryptable
	a.PendingCreditCounter = 0
	a.MaxPendingCreditCounter = maxCounter
	a.ExpectedPendingCreditCounter = 0
	a.ActualPendingCreditCounter = 0
	a.AllowConfidentialCredits = true
	return nil
}

// Deposit moves amount from the public balance into the pending balance.
func (a *Account) Deposit(amount uint64) error {
	if err := a.requireConfigured(); err != nil {
		return err
	}
	if !a.AllowConfidentialCredits {
		return ErrConfidentialCreditsDisabled
	}
	if amount > MaxCreditAmount {
		return ErrAmountOutOfRange
	}
	if amount > a.PublicAmount {
		return ErrInsufficientPublicBalance
	}
	if a.PendingCreditCounter >= a.MaxPendingCreditCounter {
		return ErrMaxPendingCreditCounter
	}
	lo, hi := SplitAmount(amount)
	a.PublicAmount -= amount
	a.PendingLo = a.PendingLo.AddAmount(lo)
	a.PendingHi = a.PendingHi.AddAmount(hi)
	a.PendingCreditCounter++
	return nil
}

// ApplyPending folds the pending balance into the available balance.
// expected must equal the current pending credit counter.
func (a *Account) ApplyPending(expected uint64, newDecryptable encryption.AeCiphertext) error {
	if err := a.requireConfigured(); err != nil {
		return err
	}
	if expected != a.PendingCreditCounter {
		return ErrCounterMismatch
	}
	a.Available = a.Available.Add(a.PendingBalance())
	a.DecryptableAvailable = newDecryptable
	a.PendingLo = encryption.ZeroCiphertext()
	a.PendingHi = encryption.ZeroCiphertext()
	a.ExpectedPendingCreditCounter = expected
	a.ActualPendingCreditCounter = a.PendingCreditCounter
	a.PendingCreditCounter = 0
	return nil
}

// Withdraw moves amount from the available balance to the public balance.
// eq binds the new available ciphertext to a commitment which rp proves
// to be a 64-bit value.
func (a *Account) Withdraw(
	amount uint64,
	newDecryptable encryption.AeCiphertext,
	eq *proof.CiphertextCommitmentEqualityProofData,
	rp *proof.BatchedRangeProofData,
) error {
	if err := a.requireConfigured(); err != nil {
		return err
	}
	if eq == nil || rp == nil {
		return ErrProofMismatch
	}
	if a.PublicAmount > ^uint64(0)-amount {
		return ErrOverflow
	}
	remaining := a.Available.SubAmount(amount)
	if !eq.Pubkey.Equal(a.ElGamalPubkey) || !eq.Ciphertext.Equal(remaining) {
		return ErrProofMismatch
	}
	if !rangeCovers(rp, []encryption.Commitment{eq.Commitment}, WithdrawRangeBits) {
		return ErrProofMismatch
	}
	a.Available = remaining
	a.DecryptableAvailable = newDecryptable
	a.PublicAmount += amount
	return nil
}

// Transfer debits src and credits the pending balance of dst. auditor must
// match the mint auditor, or be nil when the mint has none.
func Transfer(src, dst *Account, auditor *encryption.PublicKey, st *TransferStatement) error {
	if err := src.requireConfigured(); err != nil {
		return err
	}
	if err := dst.requireConfigured(); err != nil {
		return err
	}
	if !dst.AllowConfidentialCredits {
		return ErrConfidentialCreditsDisabled
	}
	if dst.PendingCreditCounter >= dst.MaxPendingCreditCounter {
		return ErrMaxPendingCreditCounter
	}
	if st == nil || st.Equality == nil || st.Validity == nil || st.Range == nil {
		return ErrProofMismatch
	}

	keys := []encryption.PublicKey{src.ElGamalPubkey, dst.ElGamalPubkey}
	if auditor != nil {
		keys = append(keys, *auditor)
	}
	v := st.Validity
	if len(v.Pubkeys) != len(keys) || v.Lo.Len() != len(keys) || v.Hi.Len() != len(keys) {
		return ErrProofMismatch
	}
	for i := range keys {
		if !v.Pubkeys[i].Equal(keys[i]) {
			return ErrProofMismatch
		}
	}

	debit := encryption.CombineLimbs(v.Lo.Ciphertext(0), v.Hi.Ciphertext(0), LimbBits)
	remaining := src.Available.Sub(debit)
	eq := st.Equality
	if !eq.Pubkey.Equal(src.ElGamalPubkey) || !eq.Ciphertext.Equal(remaining) {
		return ErrProofMismatch
	}
	want := []encryption.Commitment{eq.Commitment, v.Lo.Commitment, v.Hi.Commitment, rangePadding}
	if !rangeCovers(st.Range, want, TransferRangeBits) {
		return ErrProofMismatch
	}

	src.Available = remaining
	src.DecryptableAvailable = st.NewSourceDecryptable
	dst.PendingLo = dst.PendingLo.Add(v.Lo.Ciphertext(1))
	dst.PendingHi = dst.PendingHi.Add(v.Hi.Ciphertext(1))
	dst.PendingCreditCounter++
	return nil
}

// Empty checks that both the available and the pending balance are proven
// zero and resets the account for closing.
func (a *Account) Empty(zeroAvailable, zeroPending *proof.ZeroCiphertextProofData) error {
	if err := a.requireConfigured(); err != nil {
		return err
	}
	if a.PublicAmount != 0 {
		return ErrNonZeroBalance
	}
	if zeroAvailable == nil || zeroPending == nil {
		return ErrProofMismatch
	}
	if !zeroAvailable.Pubkey.Equal(a.ElGamalPubkey) || !zeroAvailable.Ciphertext.Equal(a.Available) {
		return ErrProofMismatch
	}
	if !zeroPending.Pubkey.Equal(a.ElGamalPubkey) || !zeroPending.Ciphertext.Equal(a.PendingBalance()) {
		return ErrProofMismatch
	}
	a.Available = encryption.ZeroCiphertext()
	a.PendingLo = encryption.ZeroCiphertext()
	a.PendingHi = encryption.ZeroCiphertext()
	a.PendingCreditCounter = 0
	a.AllowConfidentialCredits = false
	return nil
}

func rangeCovers(rp *proof.BatchedRangeProofData, commitments []encryption.Commitment, bits []uint8) bool {
	if len(rp.Commitments) != len(commitments) || len(rp.BitLengths) != len(bits) {
		return false
	}
	for i := range commitments {
		if !rp.Commitments[i].Equal(commitments[i]) || rp.BitLengths[i] != bits[i] {
			return false
		}
	}
	return true
}
