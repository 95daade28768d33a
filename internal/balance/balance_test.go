package balance

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

var (
	decoderOnce sync.Once
	decoder     *encryption.Decoder

	wideDecoderOnce sync.Once
	wideDecoder     *encryption.Decoder
)

// testWideDecoder searches 36 bits, enough for 16 maximal credits.
func testWideDecoder() *encryption.Decoder {
	wideDecoderOnce.Do(func() {
		wideDecoder = encryption.NewDecoder(encryption.WithWindowBits(36))
	})
	return wideDecoder
}

func testDecoder() *encryption.Decoder {
	decoderOnce.Do(func() {
		decoder = encryption.NewDecoder(encryption.WithWindowBits(32))
	})
	return decoder
}

func newKeys(t *testing.T) *Keys {
	t.Helper()
	kp, err := encryption.NewKeypair()
	require.NoError(t, err)
	ae, err := encryption.NewAeKey()
	require.NoError(t, err)
	return &Keys{ElGamal: kp, Ae: ae}
}

func newConfigured(t *testing.T, public uint64) (*Account, *Keys) {
	t.Helper()
	id, err := NewAddress()
	require.NoError(t, err)
	mint, err := NewAddress()
	require.NoError(t, err)
	acct := NewAccount(id, mint, []byte("owner"))
	require.NoError(t, acct.MintTo(public))

	keys := newKeys(t)
	pv, zero, err := ProveConfigure(keys)
	require.NoError(t, err)
	require.NoError(t, acct.Configure(pv, zero, 0))
	return acct, keys
}

func applyPending(t *testing.T, acct *Account, keys *Keys) {
	t.Helper()
	expected, dec, err := PrepareApplyPending(context.Background(), acct, keys, testDecoder())
	require.NoError(t, err)
	require.NoError(t, acct.ApplyPending(expected, dec))
}

func breakdown(t *testing.T, acct *Account, keys *Keys) *Breakdown {
	t.Helper()
	b, err := BreakdownOf(context.Background(), acct, keys, testDecoder())
	require.NoError(t, err)
	return b
}

func TestAddressText(t *testing.T) {
	a, err := NewAddress()
	require.NoError(t, err)
	parsed, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = ParseAddress("0OIl")
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = ParseAddress("abc")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSplitCombineAmount(t *testing.T) {
	for _, v := range []uint64{0, 1, 1<<16 - 1, 1 << 16, 1<<32 + 5, MaxCreditAmount, 0xdeadbeefcafebabe, ^uint64(0)} {
		lo, hi := SplitAmount(v)
		assert.Less(t, lo, uint64(1)<<LimbBits)
		assert.Less(t, hi, uint64(1)<<(64-LimbBits))
		got, ok := CombineAmount(lo, hi)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
	lo, hi := SplitAmount(MaxCreditAmount)
	assert.EqualValues(t, 1<<LimbBits-1, lo)
	assert.EqualValues(t, uint64(1)<<HighLimbBits-1, hi)

	_, ok := CombineAmount(1, 1<<48)
	assert.False(t, ok)
}

func TestConfigureTwice(t *testing.T) {
	acct, keys := newConfigured(t, 0)
	pv, zero, err := ProveConfigure(keys)
	require.NoError(t, err)
	require.ErrorIs(t, acct.Configure(pv, zero, 0), ErrAlreadyConfigured)
	assert.EqualValues(t, DefaultMaxPendingCreditCounter, acct.MaxPendingCreditCounter)
}

func TestUnconfiguredRejectsDeposit(t *testing.T) {
	acct := NewAccount(Address{1}, Address{2}, nil)
	require.NoError(t, acct.MintTo(10))
	require.ErrorIs(t, acct.Deposit(5), ErrNotConfigured)
}

func TestDepositApplyScenario(t *testing.T) {
	acct, keys := newConfigured(t, 1000)

	require.NoError(t, acct.Deposit(400))
	assert.EqualValues(t, 600, acct.PublicAmount)
	assert.EqualValues(t, 1, acct.PendingCreditCounter)
	b := breakdown(t, acct, keys)
	assert.Equal(t, Breakdown{Public: 600, Pending: 400, Available: 0, Confidential: 400}, *b)

	expected, dec, err := PrepareApplyPending(context.Background(), acct, keys, testDecoder())
	require.NoError(t, err)
	assert.EqualValues(t, 1, expected)
	require.NoError(t, acct.ApplyPending(expected, dec))

	b = breakdown(t, acct, keys)
	assert.Equal(t, Breakdown{Public: 600, Pending: 0, Available: 400, Confidential: 400}, *b)
	assert.EqualValues(t, 0, acct.PendingCreditCounter)
	assert.EqualValues(t, 1, acct.ActualPendingCreditCounter)
	require.NoError(t, CheckInvariant(acct, keys))
}

func TestDepositInsufficientPublic(t *testing.T) {
	acct, _ := newConfigured(t, 10)
	require.ErrorIs(t, acct.Deposit(11), ErrInsufficientPublicBalance)
	assert.EqualValues(t, 10, acct.PublicAmount)
	assert.EqualValues(t, 0, acct.PendingCreditCounter)
}

func TestDepositCounterLimit(t *testing.T) {
	acct, keys := newConfigured(t, 10)
	acct.MaxPendingCreditCounter = 2
	require.NoError(t, acct.Deposit(1))
	require.NoError(t, acct.Deposit(1))
	require.ErrorIs(t, acct.Deposit(1), ErrMaxPendingCreditCounter)
	applyPending(t, acct, keys)
	require.NoError(t, acct.Deposit(1))
}

func TestDepositLargeAmountSplitsLimbs(t *testing.T) {
	acct, keys := newConfigured(t, 1<<40)
	amount := uint64(3)<<32 + 17
	require.NoError(t, acct.Deposit(amount))
	b := breakdown(t, acct, keys)
	assert.Equal(t, amount, b.Pending)
}

func TestMaxPendingCreditsForWindow(t *testing.T) {
	assert.EqualValues(t, 1, MaxPendingCreditsForWindow(32))
	assert.EqualValues(t, 16, MaxPendingCreditsForWindow(36))
	assert.EqualValues(t, 256, MaxPendingCreditsForWindow(40))
	assert.EqualValues(t, DefaultMaxPendingCreditCounter, MaxPendingCreditsForWindow(48))
}

func TestDepositRejectsOversizedCredit(t *testing.T) {
	acct, _ := newConfigured(t, MaxCreditAmount+1)
	require.ErrorIs(t, acct.Deposit(MaxCreditAmount+1), ErrAmountOutOfRange)
	assert.EqualValues(t, 0, acct.PendingCreditCounter)
	require.NoError(t, acct.Deposit(MaxCreditAmount))
}

func TestConfigureRejectsOversizedCounterLimit(t *testing.T) {
	acct := NewAccount(Address{1}, Address{2}, nil)
	pv, zero, err := ProveConfigure(newKeys(t))
	require.NoError(t, err)
	require.ErrorIs(t, acct.Configure(pv, zero, DefaultMaxPendingCreditCounter+1), ErrCounterLimit)
	assert.Equal(t, Unconfigured, acct.Status)
}

// Filling the pending balance with maximal credits up to the counter limit
// must leave both limbs inside the decoder window.
func TestMaximalCreditsStayDecodable(t *testing.T) {
	d := testWideDecoder()
	limit := MaxPendingCreditsForWindow(d.WindowBits())
	acct, keys := newConfigured(t, (limit+1)*MaxCreditAmount)
	acct.MaxPendingCreditCounter = limit

	for i := uint64(0); i < limit; i++ {
		require.NoError(t, acct.Deposit(MaxCreditAmount))
	}
	require.ErrorIs(t, acct.Deposit(MaxCreditAmount), ErrMaxPendingCreditCounter)

	pending, err := PendingOf(context.Background(), acct, keys, d)
	require.NoError(t, err)
	assert.Equal(t, limit*MaxCreditAmount, pending)

	expected, dec, err := PrepareApplyPending(context.Background(), acct, keys, d)
	require.NoError(t, err)
	assert.Equal(t, limit, expected)
	require.NoError(t, acct.ApplyPending(expected, dec))
	available, err := AvailableOf(acct, keys)
	require.NoError(t, err)
	assert.Equal(t, limit*MaxCreditAmount, available)
	require.NoError(t, CheckInvariant(acct, keys))
}

func TestApplyPendingStaleCounter(t *testing.T) {
	acct, keys := newConfigured(t, 1000)
	require.NoError(t, acct.Deposit(100))
	expected, dec, err := PrepareApplyPending(context.Background(), acct, keys, testDecoder())
	require.NoError(t, err)

	// A credit lands between inspection and submission.
	require.NoError(t, acct.Deposit(50))
	before := acct.Clone()
	require.ErrorIs(t, acct.ApplyPending(expected, dec), ErrCounterMismatch)
	assert.Equal(t, before, acct)

	applyPending(t, acct, keys)
	assert.EqualValues(t, 150, breakdown(t, acct, keys).Available)
	require.NoError(t, CheckInvariant(acct, keys))
}

func TestCheckInvariantDetectsDrift(t *testing.T) {
	acct, keys := newConfigured(t, 100)
	require.NoError(t, acct.Deposit(100))
	applyPending(t, acct, keys)

	wrong, err := keys.Ae.Encrypt(99)
	require.NoError(t, err)
	acct.DecryptableAvailable = wrong
	require.ErrorIs(t, CheckInvariant(acct, keys), ErrInvariantViolation)
}

func TestWithdraw(t *testing.T) {
	acct, keys := newConfigured(t, 500)
	require.NoError(t, acct.Deposit(500))
	applyPending(t, acct, keys)

	st, err := ProveWithdraw(context.Background(), acct, keys, 500, 120)
	require.NoError(t, err)
	require.NoError(t, st.Equality.Verify())
	require.NoError(t, st.Range.Verify())

	// A statement for another amount does not apply.
	before := acct.Clone()
	require.ErrorIs(t, acct.Withdraw(121, st.NewDecryptable, st.Equality, st.Range), ErrProofMismatch)
	assert.Equal(t, before, acct)

	require.NoError(t, acct.Withdraw(120, st.NewDecryptable, st.Equality, st.Range))
	b := breakdown(t, acct, keys)
	assert.EqualValues(t, 120, b.Public)
	assert.EqualValues(t, 380, b.Available)
	require.NoError(t, CheckInvariant(acct, keys))

	_, err = ProveWithdraw(context.Background(), acct, keys, 380, 381)
	require.ErrorIs(t, err, ErrInsufficientAvailableBalance)
}

func TestTransferMovesBalance(t *testing.T) {
	for _, withAuditor := range []bool{false, true} {
		src, srcKeys := newConfigured(t, 1000)
		dst, dstKeys := newConfigured(t, 0)
		require.NoError(t, src.Deposit(1000))
		applyPending(t, src, srcKeys)

		var auditor *encryption.PublicKey
		var auditorKeys *Keys
		if withAuditor {
			auditorKeys = newKeys(t)
			auditor = &auditorKeys.ElGamal.Public
		}

		st, err := ProveTransfer(context.Background(), src, srcKeys, 1000, dst.ElGamalPubkey, auditor, 300)
		require.NoError(t, err)
		require.NoError(t, st.Validity.Verify())
		require.NoError(t, st.Equality.Verify())
		require.NoError(t, st.Range.Verify())
		require.NoError(t, Transfer(src, dst, auditor, st))

		assert.EqualValues(t, 700, breakdown(t, src, srcKeys).Available)
		require.NoError(t, CheckInvariant(src, srcKeys))
		b := breakdown(t, dst, dstKeys)
		assert.EqualValues(t, 300, b.Pending)
		assert.EqualValues(t, 1, dst.PendingCreditCounter)

		if withAuditor {
			lo, err := auditorKeys.ElGamal.DecryptU32(st.Validity.Lo.Ciphertext(2), testDecoder())
			require.NoError(t, err)
			assert.EqualValues(t, 300, lo)
		}

		applyPending(t, dst, dstKeys)
		assert.EqualValues(t, 300, breakdown(t, dst, dstKeys).Available)
		require.NoError(t, CheckInvariant(dst, dstKeys))
	}
}

func TestTransferRejectsMismatchedStatement(t *testing.T) {
	src, srcKeys := newConfigured(t, 100)
	dst, _ := newConfigured(t, 0)
	other, _ := newConfigured(t, 0)
	require.NoError(t, src.Deposit(100))
	applyPending(t, src, srcKeys)

	st, err := ProveTransfer(context.Background(), src, srcKeys, 100, dst.ElGamalPubkey, nil, 40)
	require.NoError(t, err)

	srcBefore, otherBefore := src.Clone(), other.Clone()
	require.ErrorIs(t, Transfer(src, other, nil, st), ErrProofMismatch)
	assert.Equal(t, srcBefore, src)
	assert.Equal(t, otherBefore, other)

	// The statement binds the auditor handle count.
	auditor := newKeys(t).ElGamal.Public
	require.ErrorIs(t, Transfer(src, dst, &auditor, st), ErrProofMismatch)

	// Once applied, the same statement no longer matches the source balance.
	require.NoError(t, Transfer(src, dst, nil, st))
	require.ErrorIs(t, Transfer(src, dst, nil, st), ErrProofMismatch)

	_, err = ProveTransfer(context.Background(), src, srcKeys, 60, dst.ElGamalPubkey, nil, 61)
	require.ErrorIs(t, err, ErrInsufficientAvailableBalance)
}

func TestTransferMaximalCredit(t *testing.T) {
	src, srcKeys := newConfigured(t, MaxCreditAmount)
	dst, dstKeys := newConfigured(t, 0)
	require.NoError(t, src.Deposit(MaxCreditAmount))
	applyPending(t, src, srcKeys)

	_, err := ProveTransfer(context.Background(), src, srcKeys, MaxCreditAmount, dst.ElGamalPubkey, nil, MaxCreditAmount+1)
	require.ErrorIs(t, err, ErrAmountOutOfRange)

	st, err := ProveTransfer(context.Background(), src, srcKeys, MaxCreditAmount, dst.ElGamalPubkey, nil, MaxCreditAmount)
	require.NoError(t, err)
	assert.Equal(t, TransferRangeBits, st.Range.BitLengths)
	require.NoError(t, st.Range.Verify())
	require.NoError(t, Transfer(src, dst, nil, st))

	hi, err := dstKeys.ElGamal.Decrypt(dst.PendingHi).DecodeContext(context.Background(), testDecoder())
	require.NoError(t, err)
	assert.EqualValues(t, uint64(1)<<HighLimbBits-1, hi)
	assert.EqualValues(t, MaxCreditAmount, breakdown(t, dst, dstKeys).Pending)
	assert.EqualValues(t, 0, breakdown(t, src, srcKeys).Available)
}

func TestTransferCancelledBetweenProofs(t *testing.T) {
	src, srcKeys := newConfigured(t, 10)
	dst, _ := newConfigured(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ProveTransfer(ctx, src, srcKeys, 10, dst.ElGamalPubkey, nil, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEmpty(t *testing.T) {
	acct, keys := newConfigured(t, 50)
	require.NoError(t, acct.Deposit(50))
	applyPending(t, acct, keys)

	_, _, err := ProveEmpty(acct, keys)
	require.Error(t, err)

	st, err := ProveWithdraw(context.Background(), acct, keys, 50, 50)
	require.NoError(t, err)
	require.NoError(t, acct.Withdraw(50, st.NewDecryptable, st.Equality, st.Range))

	za, zp, err := ProveEmpty(acct, keys)
	require.NoError(t, err)
	require.ErrorIs(t, acct.Empty(za, zp), ErrNonZeroBalance)

	acct.PublicAmount = 0
	require.NoError(t, acct.Empty(za, zp))
	assert.False(t, acct.AllowConfidentialCredits)
	require.ErrorIs(t, acct.Deposit(0), ErrConfidentialCreditsDisabled)
}

func TestMintToOverflow(t *testing.T) {
	acct := NewAccount(Address{1}, Address{2}, nil)
	require.NoError(t, acct.MintTo(^uint64(0)))
	require.ErrorIs(t, acct.MintTo(1), ErrOverflow)
}
