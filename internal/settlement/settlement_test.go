package settlement

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
	"github.com/gitteri/confidential-balances-exploration/internal/store"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	ledger *Ledger
	mint   balance.Mint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(t.Name(), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := DefaultLedgerConfig()
	cfg.SlotInterval = 0
	l, err := NewLedger(db, cfg, zerolog.Nop())
	require.NoError(t, err)

	f := &fixture{t: t, ctx: context.Background(), ledger: l}
	f.mint.ID, err = balance.NewAddress()
	require.NoError(t, err)
	f.mint.Decimals = 6
	f.commit(&CreateMintOp{Mint: f.mint})
	return f
}

func (f *fixture) fresh() Freshness {
	fr, err := f.ledger.Freshness(f.ctx)
	require.NoError(f.t, err)
	return fr
}

func (f *fixture) commit(op Operation, handles ...ContextHandle) *CommitReceipt {
	f.t.Helper()
	r, err := f.ledger.ReferenceAndCommit(f.ctx, op, handles, f.fresh())
	require.NoError(f.t, err)
	return r
}

// account opens, funds and configures an account.
func (f *fixture) account(public uint64) (balance.Address, *balance.Keys) {
	f.t.Helper()
	id, err := balance.NewAddress()
	require.NoError(f.t, err)
	f.commit(&CreateAccountOp{Account: id, Mint: f.mint.ID, Owner: []byte("owner")})
	f.commit(&MintToOp{Account: id, Amount: public})

	kp, err := encryption.NewKeypair()
	require.NoError(f.t, err)
	ae, err := encryption.NewAeKey()
	require.NoError(f.t, err)
	keys := &balance.Keys{ElGamal: kp, Ae: ae}
	pv, zero, err := balance.ProveConfigure(keys)
	require.NoError(f.t, err)
	f.commit(&ConfigureOp{Account: id, Proof: pv, Decryptable: zero})
	return id, keys
}

func (f *fixture) get(id balance.Address) *balance.Account {
	f.t.Helper()
	acct, err := f.ledger.GetAccount(f.ctx, id)
	require.NoError(f.t, err)
	return acct
}

// fund deposits and applies amount so that it becomes available.
func (f *fixture) fund(id balance.Address, keys *balance.Keys, amount uint64) {
	f.t.Helper()
	f.commit(&DepositOp{Account: id, Amount: amount})
	acct := f.get(id)
	avail, err := balance.AvailableOf(acct, keys)
	require.NoError(f.t, err)
	dec, err := keys.Ae.Encrypt(avail + amount)
	require.NoError(f.t, err)
	f.commit(&ApplyPendingOp{Account: id, ExpectedCounter: acct.PendingCreditCounter, NewDecryptable: dec})
}

func (f *fixture) publish(authority balance.Address, pd proof.ProofData) ContextHandle {
	f.t.Helper()
	h, err := f.ledger.CreateContext(f.ctx, CreateContextRequest{Kind: pd.Kind(), Authority: authority}, f.fresh())
	require.NoError(f.t, err)
	require.NoError(f.t, f.ledger.PublishProof(f.ctx, h, pd, f.fresh()))
	return h
}

func TestFreshnessWindow(t *testing.T) {
	f := newFixture(t)
	old := f.fresh()
	require.NoError(t, f.ledger.Advance(f.ledger.cfg.MaxFreshnessAge))
	_, err := f.ledger.CreateContext(f.ctx, CreateContextRequest{Kind: proof.KindZeroCiphertext}, old)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Advance(1))
	_, err = f.ledger.CreateContext(f.ctx, CreateContextRequest{Kind: proof.KindZeroCiphertext}, old)
	require.ErrorIs(t, err, ErrStaleFreshness)

	forged := f.fresh()
	forged.Hash[0] ^= 1
	_, err = f.ledger.CreateContext(f.ctx, CreateContextRequest{Kind: proof.KindZeroCiphertext}, forged)
	require.ErrorIs(t, err, ErrStaleFreshness)
}

func TestContextLifecycle(t *testing.T) {
	f := newFixture(t)
	owner, keys := f.account(0)
	pd, err := proof.NewPubkeyValidityProofData(keys.ElGamal)
	require.NoError(t, err)

	handle, err := balance.NewAddress()
	require.NoError(t, err)
	req := CreateContextRequest{Handle: handle, Kind: proof.KindPubkeyValidity, Authority: owner}
	h, err := f.ledger.CreateContext(f.ctx, req, f.fresh())
	require.NoError(t, err)
	assert.Equal(t, handle, h)
	assert.Equal(t, f.ledger.cfg.ContextRent, f.ledger.LockedRent())

	_, err = f.ledger.CreateContext(f.ctx, req, f.fresh())
	require.ErrorIs(t, err, ErrContextExists)

	zero, err := proof.NewZeroCiphertextProofData(keys.ElGamal, encryption.ZeroCiphertext())
	require.NoError(t, err)
	require.ErrorIs(t, f.ledger.PublishProof(f.ctx, h, zero, f.fresh()), ErrKindMismatch)

	require.NoError(t, f.ledger.PublishProof(f.ctx, h, pd, f.fresh()))
	require.ErrorIs(t, f.ledger.PublishProof(f.ctx, h, pd, f.fresh()), ErrAlreadyPublished)

	open, err := f.ledger.OpenContexts()
	require.NoError(t, err)
	assert.Equal(t, []ContextHandle{h}, open)

	info, err := f.ledger.GetContext(f.ctx, h)
	require.NoError(t, err)
	assert.Equal(t, ContextInfo{Handle: h, Kind: proof.KindPubkeyValidity, Authority: owner, Published: true}, *info)

	require.NoError(t, f.ledger.CloseContext(f.ctx, h, owner, owner, f.fresh()))
	require.ErrorIs(t, f.ledger.CloseContext(f.ctx, h, owner, owner, f.fresh()), ErrContextNotFound)
	_, err = f.ledger.GetContext(f.ctx, h)
	require.ErrorIs(t, err, ErrContextNotFound)
	assert.Zero(t, f.ledger.LockedRent())
	refunded, err := f.ledger.RentBalance(owner)
	require.NoError(t, err)
	assert.Equal(t, f.ledger.cfg.ContextRent, refunded)
}

func TestCloseContextRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.account(0)
	intruder, _ := f.account(0)

	h, err := f.ledger.CreateContext(f.ctx, CreateContextRequest{Kind: proof.KindZeroCiphertext, Authority: owner}, f.fresh())
	require.NoError(t, err)

	// Naming the intruder as rent destination does not help either.
	require.ErrorIs(t, f.ledger.CloseContext(f.ctx, h, intruder, intruder, f.fresh()), ErrWrongAuthority)
	require.ErrorIs(t, f.ledger.CloseContext(f.ctx, h, intruder, owner, f.fresh()), ErrWrongAuthority)
	assert.Equal(t, f.ledger.cfg.ContextRent, f.ledger.LockedRent())
	refunded, err := f.ledger.RentBalance(intruder)
	require.NoError(t, err)
	assert.Zero(t, refunded)
	_, err = f.ledger.GetContext(f.ctx, h)
	require.NoError(t, err)

	// The authority may send the rent elsewhere.
	require.NoError(t, f.ledger.CloseContext(f.ctx, h, owner, intruder, f.fresh()))
	refunded, err = f.ledger.RentBalance(intruder)
	require.NoError(t, err)
	assert.Equal(t, f.ledger.cfg.ContextRent, refunded)
}

func TestPublishRejectsInvalidProof(t *testing.T) {
	f := newFixture(t)
	owner, keys := f.account(0)
	pd, err := proof.NewPubkeyValidityProofData(keys.ElGamal)
	require.NoError(t, err)
	other, err := encryption.NewKeypair()
	require.NoError(t, err)
	forged := *pd
	forged.Pubkey = other.Public

	h, err := f.ledger.CreateContext(f.ctx, CreateContextRequest{Kind: pd.Kind(), Authority: owner}, f.fresh())
	require.NoError(t, err)
	require.ErrorIs(t, f.ledger.PublishProof(f.ctx, h, &forged, f.fresh()), ErrProofRejected)
}

func TestDepositApplyThroughLedger(t *testing.T) {
	f := newFixture(t)
	id, keys := f.account(1000)

	f.commit(&DepositOp{Account: id, Amount: 400})
	acct := f.get(id)
	assert.EqualValues(t, 600, acct.PublicAmount)
	assert.EqualValues(t, 1, acct.PendingCreditCounter)

	dec, err := keys.Ae.Encrypt(400)
	require.NoError(t, err)
	_, err = f.ledger.ReferenceAndCommit(f.ctx, &ApplyPendingOp{Account: id, ExpectedCounter: 2, NewDecryptable: dec}, nil, f.fresh())
	require.ErrorIs(t, err, balance.ErrCounterMismatch)
	assert.Equal(t, acct, f.get(id))

	f.commit(&ApplyPendingOp{Account: id, ExpectedCounter: 1, NewDecryptable: dec})
	acct = f.get(id)
	require.NoError(t, balance.CheckInvariant(acct, keys))
	avail, err := balance.AvailableOf(acct, keys)
	require.NoError(t, err)
	assert.EqualValues(t, 400, avail)

	_, err = f.ledger.ReferenceAndCommit(f.ctx, &DepositOp{Account: id, Amount: 601}, nil, f.fresh())
	require.ErrorIs(t, err, balance.ErrInsufficientPublicBalance)
}

func TestWithdrawInline(t *testing.T) {
	f := newFixture(t)
	id, keys := f.account(500)
	f.fund(id, keys, 500)

	st, err := balance.ProveWithdraw(f.ctx, f.get(id), keys, 500, 200)
	require.NoError(t, err)
	require.True(t, FitsInline(st.Equality.Size(), st.Range.Size()))
	f.commit(&WithdrawOp{Account: id, Amount: 200, NewDecryptable: st.NewDecryptable, Equality: st.Equality, Range: st.Range})

	acct := f.get(id)
	assert.EqualValues(t, 200, acct.PublicAmount)
	require.NoError(t, balance.CheckInvariant(acct, keys))
}

func TestTransferThroughContexts(t *testing.T) {
	f := newFixture(t)
	src, srcKeys := f.account(1000)
	dst, _ := f.account(0)
	f.fund(src, srcKeys, 1000)

	st, err := balance.ProveTransfer(f.ctx, f.get(src), srcKeys, 1000, f.get(dst).ElGamalPubkey, nil, 300)
	require.NoError(t, err)

	inline := &TransferOp{
		Source: src, Destination: dst, NewSourceDecryptable: st.NewSourceDecryptable,
		Equality: st.Equality, Validity: st.Validity, Range: st.Range,
	}
	_, err = f.ledger.ReferenceAndCommit(f.ctx, inline, nil, f.fresh())
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	handles := []ContextHandle{
		f.publish(src, st.Equality),
		f.publish(src, st.Validity),
		f.publish(src, st.Range),
	}
	op := &TransferOp{Source: src, Destination: dst, NewSourceDecryptable: st.NewSourceDecryptable}

	_, err = f.ledger.ReferenceAndCommit(f.ctx, op, handles[:2], f.fresh())
	require.ErrorIs(t, err, ErrMissingProof)

	f.commit(op, handles...)
	srcAcct, dstAcct := f.get(src), f.get(dst)
	require.NoError(t, balance.CheckInvariant(srcAcct, srcKeys))
	avail, err := balance.AvailableOf(srcAcct, srcKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 700, avail)
	assert.EqualValues(t, 1, dstAcct.PendingCreditCounter)

	_, err = f.ledger.ReferenceAndCommit(f.ctx, op, handles, f.fresh())
	require.ErrorIs(t, err, ErrContextConsumed)

	for _, h := range handles {
		info, err := f.ledger.GetContext(f.ctx, h)
		require.NoError(t, err)
		assert.True(t, info.Consumed)
		require.NoError(t, f.ledger.CloseContext(f.ctx, h, src, src, f.fresh()))
	}
	assert.Zero(t, f.ledger.LockedRent())
}

func TestCommitRejectsForeignContext(t *testing.T) {
	f := newFixture(t)
	id, keys := f.account(0)
	other, _ := f.account(0)
	za, zp, err := balance.ProveEmpty(f.get(id), keys)
	require.NoError(t, err)

	h := f.publish(other, za)
	_, err = f.ledger.ReferenceAndCommit(f.ctx, &EmptyAccountOp{Account: id, ZeroPending: zp}, []ContextHandle{h}, f.fresh())
	require.ErrorIs(t, err, ErrWrongAuthority)
}

func TestEmptyAccountRemovesRecord(t *testing.T) {
	f := newFixture(t)
	id, keys := f.account(0)
	za, zp, err := balance.ProveEmpty(f.get(id), keys)
	require.NoError(t, err)

	h := f.publish(id, za)
	f.commit(&EmptyAccountOp{Account: id, ZeroPending: zp}, h)
	_, err = f.ledger.GetAccount(f.ctx, id)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestOperationEnvelope(t *testing.T) {
	f := newFixture(t)
	id, keys := f.account(10)
	f.fund(id, keys, 10)
	st, err := balance.ProveWithdraw(f.ctx, f.get(id), keys, 10, 4)
	require.NoError(t, err)

	op := &WithdrawOp{Account: id, Amount: 4, NewDecryptable: st.NewDecryptable, Equality: st.Equality, Range: st.Range}
	env, err := MarshalOperation(op)
	require.NoError(t, err)
	assert.Equal(t, OpWithdraw, env.Type)

	back, err := UnmarshalOperation(env)
	require.NoError(t, err)
	got, ok := back.(*WithdrawOp)
	require.True(t, ok)
	assert.Equal(t, op.Account, got.Account)
	assert.Equal(t, op.Equality.Bytes(), got.Equality.Bytes())
	assert.Equal(t, op.Range.Bytes(), got.Range.Bytes())
	assert.Equal(t, PayloadSize(op), PayloadSize(got))

	_, err = UnmarshalOperation(Envelope{Type: "nope"})
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestThrottled(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.account(0)
	limiter, err := NewAuthorityLimiter(LimitConfig{Burst: 1, Refill: 1, Period: time.Hour})
	require.NoError(t, err)
	th := NewThrottled(f.ledger, limiter)

	h, err := th.CreateContext(f.ctx, CreateContextRequest{Kind: proof.KindZeroCiphertext, Authority: owner}, f.fresh())
	require.NoError(t, err)
	_, err = th.CreateContext(f.ctx, CreateContextRequest{Kind: proof.KindZeroCiphertext, Authority: owner}, f.fresh())
	require.ErrorIs(t, err, ErrThrottled)
	_, err = th.ReferenceAndCommit(f.ctx, &DepositOp{Account: owner}, nil, f.fresh())
	require.ErrorIs(t, err, ErrThrottled)

	// Closing is never throttled.
	require.NoError(t, th.CloseContext(f.ctx, h, owner, owner, f.fresh()))
}

func TestAuthorityLimiterRefill(t *testing.T) {
	l, err := NewAuthorityLimiter(LimitConfig{Burst: 3, Refill: 2, Period: time.Second, Authorities: 2})
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	a, b, c := balance.Address{1}, balance.Address{2}, balance.Address{3}

	for i := 0; i < 3; i++ {
		ok, _ := l.Take(a)
		require.True(t, ok)
	}
	now = now.Add(400 * time.Millisecond)
	ok, wait := l.Take(a)
	assert.False(t, ok)
	assert.Equal(t, 600*time.Millisecond, wait)
	assert.Equal(t, 3, l.Remaining(b))

	// A partial period carries over to the next refill.
	now = now.Add(700 * time.Millisecond)
	assert.Equal(t, 2, l.Remaining(a))
	now = now.Add(5 * time.Second)
	assert.Equal(t, 3, l.Remaining(a))

	// Two buckets are kept; an evicted authority comes back full.
	ok, _ = l.Take(a)
	require.True(t, ok)
	ok, _ = l.Take(c)
	require.True(t, ok)
	ok, _ = l.Take(b)
	require.True(t, ok)
	assert.Equal(t, 3, l.Remaining(a))

	_, err = NewAuthorityLimiter(LimitConfig{Burst: 1, Period: time.Second})
	require.Error(t, err)
}

func TestHTTPTransport(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(NewServer(f.ledger, f.ledger, zerolog.Nop()).Handler())
	defer srv.Close()
	c := NewClient(srv.URL, "test", srv.Client())

	owner, keys := f.account(100)
	acct, err := c.GetAccount(f.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, f.get(owner), acct)
	mint, err := c.GetMint(f.ctx, f.mint.ID)
	require.NoError(t, err)
	assert.Equal(t, f.mint.Decimals, mint.Decimals)

	fresh, err := c.Freshness(f.ctx)
	require.NoError(t, err)
	handle, err := balance.NewAddress()
	require.NoError(t, err)
	req := CreateContextRequest{Handle: handle, Kind: proof.KindPubkeyValidity, Authority: owner}
	h, err := c.CreateContext(f.ctx, req, fresh)
	require.NoError(t, err)
	assert.Equal(t, handle, h)
	_, err = c.CreateContext(f.ctx, req, fresh)
	require.ErrorIs(t, err, ErrContextExists)

	pd, err := proof.NewPubkeyValidityProofData(keys.ElGamal)
	require.NoError(t, err)
	require.NoError(t, c.PublishProof(f.ctx, h, pd, fresh))

	_, err = c.ReferenceAndCommit(f.ctx, &DepositOp{Account: owner, Amount: 40}, nil, fresh)
	require.NoError(t, err)
	_, err = c.ReferenceAndCommit(f.ctx, &DepositOp{Account: owner, Amount: 100}, nil, fresh)
	require.ErrorIs(t, err, balance.ErrInsufficientPublicBalance)

	info, err := c.GetContext(f.ctx, h)
	require.NoError(t, err)
	assert.True(t, info.Published)
	assert.Equal(t, owner, info.Authority)
	require.ErrorIs(t, c.CloseContext(f.ctx, h, balance.Address{9}, owner, fresh), ErrWrongAuthority)
	require.NoError(t, c.CloseContext(f.ctx, h, owner, owner, fresh))
	_, err = c.GetAccount(f.ctx, balance.Address{9})
	require.ErrorIs(t, err, ErrAccountNotFound)
}
