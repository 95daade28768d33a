package proof

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

func newKeypair(t *testing.T) *encryption.Keypair {
	t.Helper()
	kp, err := encryption.NewKeypair()
	require.NoError(t, err)
	return kp
}

func newOpening(t *testing.T) *encryption.Opening {
	t.Helper()
	o, err := encryption.NewOpening()
	require.NoError(t, err)
	return o
}

// roundTrip checks that pd survives Encode/Decode and still verifies.
func roundTrip(t *testing.T, pd ProofData) {
	t.Helper()
	enc := Encode(pd)
	require.Len(t, enc, pd.Size()+1)
	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, pd.Kind(), dec.Kind())
	assert.Equal(t, pd.Bytes(), dec.Bytes())
	require.NoError(t, dec.Verify())
}

func TestPubkeyValidity(t *testing.T) {
	kp := newKeypair(t)
	pd, err := NewPubkeyValidityProofData(kp)
	require.NoError(t, err)
	require.NoError(t, pd.Verify())
	assert.Equal(t, KindPubkeyValidity, pd.Kind())
	assert.Equal(t, 96, pd.Size())
	roundTrip(t, pd)

	// Proof bound to a different key must fail.
	other := newKeypair(t)
	forged := *pd
	forged.Pubkey = other.Public
	require.ErrorIs(t, forged.Verify(), ErrVerification)
}

func TestZeroCiphertext(t *testing.T) {
	kp := newKeypair(t)

	zero, err := kp.Public.Encrypt(0)
	require.NoError(t, err)
	pd, err := NewZeroCiphertextProofData(kp, zero)
	require.NoError(t, err)
	require.NoError(t, pd.Verify())
	assert.Equal(t, 192, pd.Size())
	roundTrip(t, pd)

	// The trivial ciphertext also encrypts zero.
	_, err = NewZeroCiphertextProofData(kp, encryption.ZeroCiphertext())
	require.NoError(t, err)

	five, err := kp.Public.Encrypt(5)
	require.NoError(t, err)
	_, err = NewZeroCiphertextProofData(kp, five)
	require.ErrorIs(t, err, ErrNotZero)

	bad, err := proveZeroCiphertext(kp, five)
	require.NoError(t, err)
	require.ErrorIs(t, bad.Verify(), ErrVerification)
}

func TestCiphertextCommitmentEquality(t *testing.T) {
	kp := newKeypair(t)
	for i := 0; i < 5; i++ {
		amount := uint64(700 + i)
		ct, err := kp.Public.Encrypt(amount)
		require.NoError(t, err)
		opening := newOpening(t)
		commitment := encryption.Commit(amount, opening)

		pd, err := NewCiphertextCommitmentEqualityProofData(kp, ct, commitment, opening, amount)
		require.NoError(t, err)
		require.NoError(t, pd.Verify())
		if i == 0 {
			assert.Equal(t, 320, pd.Size())
			roundTrip(t, pd)
		}
	}

	ct, err := kp.Public.Encrypt(10)
	require.NoError(t, err)
	opening := newOpening(t)
	commitment := encryption.Commit(11, opening)

	_, err = NewCiphertextCommitmentEqualityProofData(kp, ct, commitment, opening, 10)
	require.ErrorIs(t, err, ErrMismatchedAmount)

	bad, err := proveCiphertextCommitmentEquality(kp, ct, commitment, opening, 10)
	require.NoError(t, err)
	require.ErrorIs(t, bad.Verify(), ErrVerification)
}

func TestCiphertextCommitmentEqualityOnDerivedBalance(t *testing.T) {
	// The owner proves a homomorphically derived balance without knowing its opening.
	kp := newKeypair(t)
	available, err := kp.Public.Encrypt(1000)
	require.NoError(t, err)
	debit, err := kp.Public.Encrypt(300)
	require.NoError(t, err)
	remaining := available.Sub(debit)

	opening := newOpening(t)
	pd, err := NewCiphertextCommitmentEqualityProofData(kp, remaining, encryption.Commit(700, opening), opening, 700)
	require.NoError(t, err)
	require.NoError(t, pd.Verify())
}

func TestCiphertextCiphertextEquality(t *testing.T) {
	src := newKeypair(t)
	dst := newKeypair(t)

	ct1, err := src.Public.Encrypt(55)
	require.NoError(t, err)
	opening := newOpening(t)
	ct2 := dst.Public.EncryptWithOpening(55, opening)

	pd, err := NewCiphertextCiphertextEqualityProofData(src, dst.Public, ct1, ct2, opening, 55)
	require.NoError(t, err)
	require.NoError(t, pd.Verify())
	assert.Equal(t, 416, pd.Size())
	roundTrip(t, pd)

	ct3 := dst.Public.EncryptWithOpening(56, opening)
	_, err = NewCiphertextCiphertextEqualityProofData(src, dst.Public, ct1, ct3, opening, 55)
	require.ErrorIs(t, err, ErrMismatchedAmount)

	bad, err := proveCiphertextCiphertextEquality(src, dst.Public, ct1, ct3, opening, 55)
	require.NoError(t, err)
	require.ErrorIs(t, bad.Verify(), ErrVerification)
}

func TestGroupedCiphertextValidity(t *testing.T) {
	for _, handles := range []int{2, 3} {
		pubs := make([]encryption.PublicKey, handles)
		for i := range pubs {
			pubs[i] = newKeypair(t).Public
		}
		opening := newOpening(t)
		grouped, err := encryption.EncryptGrouped(pubs, 300, opening)
		require.NoError(t, err)

		pd, err := NewGroupedCiphertextValidityProofData(pubs, grouped, 300, opening)
		require.NoError(t, err)
		require.NoError(t, pd.Verify())
		assert.Equal(t, map[int]int{2: 160, 3: 192}[handles], GroupedValidityProofSize(handles))
		roundTrip(t, pd)

		// A handle built with a different opening breaks validity.
		broken := encryption.GroupedCiphertext{Commitment: grouped.Commitment, Handles: append([]encryption.DecryptHandle(nil), grouped.Handles...)}
		broken.Handles[1] = pubs[1].DecryptHandle(newOpening(t))
		_, err = NewGroupedCiphertextValidityProofData(pubs, broken, 300, opening)
		require.ErrorIs(t, err, ErrInvalidEncoding)

		bad, err := proveGroupedValidityData(pubs, broken, 300, opening)
		require.NoError(t, err)
		require.ErrorIs(t, bad.Verify(), ErrVerification)
	}
}

func TestBatchedGroupedCiphertextValidity(t *testing.T) {
	pubs := []encryption.PublicKey{newKeypair(t).Public, newKeypair(t).Public, newKeypair(t).Public}
	lo, hi := uint64(0xdeadbeef), uint64(7)
	olo, ohi := newOpening(t), newOpening(t)
	glo, err := encryption.EncryptGrouped(pubs, lo, olo)
	require.NoError(t, err)
	ghi, err := encryption.EncryptGrouped(pubs, hi, ohi)
	require.NoError(t, err)

	pd, err := NewBatchedGroupedCiphertextValidityProofData(pubs, glo, ghi, lo, hi, olo, ohi)
	require.NoError(t, err)
	require.NoError(t, pd.Verify())
	assert.Equal(t, KindBatchedGroupedCiphertext3HandlesValidity, pd.Kind())
	roundTrip(t, pd)

	// Swapping lo and hi changes the statement.
	swapped := *pd
	swapped.Lo, swapped.Hi = pd.Hi, pd.Lo
	require.ErrorIs(t, swapped.Verify(), ErrVerification)

	_, err = NewBatchedGroupedCiphertextValidityProofData(pubs, glo, ghi, lo, hi+1, olo, ohi)
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func commitAll(t *testing.T, amounts []uint64) ([]encryption.Commitment, []*encryption.Opening) {
	t.Helper()
	cs := make([]encryption.Commitment, len(amounts))
	os := make([]*encryption.Opening, len(amounts))
	for i, a := range amounts {
		os[i] = newOpening(t)
		cs[i] = encryption.Commit(a, os[i])
	}
	return cs, os
}

func TestBatchedRangeProof(t *testing.T) {
	cases := []struct {
		name    string
		amounts []uint64
		bits    []uint8
		kind    Kind
		size    int
	}{
		{"u64 single", []uint64{1<<64 - 1}, []uint8{64}, KindBatchedRangeProofU64, 672},
		{"u64 split", []uint64{0, 1<<32 - 1}, []uint8{32, 32}, KindBatchedRangeProofU64, 672},
		{"u128 transfer", []uint64{700, 300, 0, 0}, []uint8{64, 16, 32, 16}, KindBatchedRangeProofU128, 736},
		{"u128 pair", []uint64{12345, 1 << 63}, []uint8{64, 64}, KindBatchedRangeProofU128, 736},
		{"u256", []uint64{1, 2, 3, 4}, []uint8{64, 64, 64, 64}, KindBatchedRangeProofU256, 800},
		{"odd lengths", []uint64{1, 0, 5}, []uint8{1, 31, 32}, KindBatchedRangeProofU64, 672},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cs, os := commitAll(t, tc.amounts)
			pd, err := NewBatchedRangeProofData(cs, tc.amounts, tc.bits, os)
			require.NoError(t, err)
			require.NoError(t, pd.Verify())
			assert.Equal(t, tc.kind, pd.Kind())
			assert.Equal(t, tc.size, RangeProofSize(sumBits(tc.bits)))
			roundTrip(t, pd)
		})
	}
}

func sumBits(bits []uint8) int {
	s := 0
	for _, b := range bits {
		s += int(b)
	}
	return s
}

func TestBatchedRangeProofRejectsOutOfRange(t *testing.T) {
	amounts := []uint64{1 << 32, 1}
	bits := []uint8{32, 32}
	cs, os := commitAll(t, amounts)

	_, err := NewBatchedRangeProofData(cs, amounts, bits, os)
	require.ErrorIs(t, err, ErrOutOfRange)

	// A proof forced through for an out-of-range value does not verify.
	pd, err := proveRange(cs, amounts, bits, os)
	require.NoError(t, err)
	require.ErrorIs(t, pd.Verify(), ErrVerification)
}

func TestBatchedRangeProofLengthMismatch(t *testing.T) {
	cs, os := commitAll(t, []uint64{1, 2})

	_, err := NewBatchedRangeProofData(cs, []uint64{1}, []uint8{64, 64}, os)
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewBatchedRangeProofData(cs, []uint64{1, 2}, []uint8{64, 32}, os)
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewBatchedRangeProofData(cs, []uint64{1, 2}, []uint8{0, 64}, os)
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestBatchedRangeProofTamper(t *testing.T) {
	amounts := []uint64{700, 300}
	bits := []uint8{64, 64}
	cs, os := commitAll(t, amounts)
	pd, err := NewBatchedRangeProofData(cs, amounts, bits, os)
	require.NoError(t, err)

	// Rebinding the proof to another commitment fails.
	other, _ := commitAll(t, []uint64{700})
	forged := *pd
	forged.Commitments = []encryption.Commitment{other[0], cs[1]}
	require.ErrorIs(t, forged.Verify(), ErrVerification)

	forged = *pd
	forged.Proof.Tx.SetUint64(1)
	require.ErrorIs(t, forged.Verify(), ErrVerification)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrMalformedProof)

	_, err = Decode([]byte{0xff, 1, 2, 3})
	require.ErrorIs(t, err, ErrUnknownKind)

	kp := newKeypair(t)
	pd, err := NewPubkeyValidityProofData(kp)
	require.NoError(t, err)
	enc := Encode(pd)
	_, err = Decode(enc[:len(enc)-1])
	require.ErrorIs(t, err, ErrMalformedProof)
}

func TestInlinePayloadLimit(t *testing.T) {
	amounts := []uint64{1, 2, 3, 4}
	cs, os := commitAll(t, amounts)
	pd, err := NewBatchedRangeProofData(cs, amounts, []uint8{64, 64, 64, 64}, os)
	require.NoError(t, err)
	assert.Less(t, pd.Size(), MaxInlinePayload)

	kp := newKeypair(t)
	pk, err := NewPubkeyValidityProofData(kp)
	require.NoError(t, err)
	assert.Less(t, pk.Size(), MaxInlinePayload)
}

func TestProofDataJSON(t *testing.T) {
	kp := newKeypair(t)
	pv, err := NewPubkeyValidityProofData(kp)
	require.NoError(t, err)

	type envelope struct {
		Proof *PubkeyValidityProofData `json:"proof"`
		Zero  *ZeroCiphertextProofData `json:"zero,omitempty"`
	}
	data, err := json.Marshal(envelope{Proof: pv})
	require.NoError(t, err)

	var got envelope
	require.NoError(t, json.Unmarshal(data, &got))
	require.NotNil(t, got.Proof)
	assert.Nil(t, got.Zero)
	assert.Equal(t, pv.Bytes(), got.Proof.Bytes())
	require.NoError(t, got.Proof.Verify())

	// A proof of another kind is rejected.
	var zero ZeroCiphertextProofData
	text, err := pv.MarshalText()
	require.NoError(t, err)
	require.ErrorIs(t, zero.UnmarshalText(text), ErrUnknownKind)
}
