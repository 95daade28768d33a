package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/settlement"
	"github.com/gitteri/confidential-balances-exploration/internal/store"
)

var (
	decoderOnce sync.Once
	decoder     *encryption.Decoder
)

func testDecoder() *encryption.Decoder {
	decoderOnce.Do(func() {
		decoder = encryption.NewDecoder(encryption.WithWindowBits(32))
	})
	return decoder
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	ledger *settlement.Ledger
	store  *Store
	mint   balance.Mint
}

func newFixture(t *testing.T, auditor *encryption.PublicKey) *fixture {
	t.Helper()
	db, err := store.Open(t.Name(), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := settlement.DefaultLedgerConfig()
	cfg.SlotInterval = 0
	l, err := settlement.NewLedger(db, cfg, zerolog.Nop())
	require.NoError(t, err)

	f := &fixture{t: t, ctx: context.Background(), ledger: l, store: NewStore(db)}
	f.mint.ID, err = balance.NewAddress()
	require.NoError(t, err)
	f.mint.Decimals = 2
	f.mint.Auditor = auditor
	f.commit(&settlement.CreateMintOp{Mint: f.mint})
	return f
}

func (f *fixture) commit(op settlement.Operation) {
	f.t.Helper()
	fresh, err := f.ledger.Freshness(f.ctx)
	require.NoError(f.t, err)
	_, err = f.ledger.ReferenceAndCommit(f.ctx, op, nil, fresh)
	require.NoError(f.t, err)
}

// account opens and configures an account holding amount available.
func (f *fixture) account(amount uint64) (balance.Address, *balance.Keys) {
	f.t.Helper()
	id, err := balance.NewAddress()
	require.NoError(f.t, err)
	f.commit(&settlement.CreateAccountOp{Account: id, Mint: f.mint.ID, Owner: []byte("owner")})
	f.commit(&settlement.MintToOp{Account: id, Amount: amount})

	kp, err := encryption.NewKeypair()
	require.NoError(f.t, err)
	ae, err := encryption.NewAeKey()
	require.NoError(f.t, err)
	keys := &balance.Keys{ElGamal: kp, Ae: ae}
	pv, zero, err := balance.ProveConfigure(keys)
	require.NoError(f.t, err)
	f.commit(&settlement.ConfigureOp{Account: id, Proof: pv, Decryptable: zero})

	if amount > 0 {
		f.commit(&settlement.DepositOp{Account: id, Amount: amount})
		dec, err := keys.Ae.Encrypt(amount)
		require.NoError(f.t, err)
		f.commit(&settlement.ApplyPendingOp{Account: id, ExpectedCounter: 1, NewDecryptable: dec})
	}
	return id, keys
}

func (f *fixture) get(id balance.Address) *balance.Account {
	f.t.Helper()
	acct, err := f.ledger.GetAccount(f.ctx, id)
	require.NoError(f.t, err)
	return acct
}

func (f *fixture) orchestrator(s settlement.Settlement, cfg Config) *Orchestrator {
	f.t.Helper()
	o, err := New(s, f.ledger, f.store, nil, cfg, zerolog.Nop())
	require.NoError(f.t, err)
	return o
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

// faulty wraps a Settlement and injects failures.
type faulty struct {
	settlement.Settlement
	ledger *settlement.Ledger

	mu             sync.Mutex
	expireAtCommit bool
	closeFails     bool
	commitErr      error
	// crash stops the process around the commit: before it is sent, or
	// after the ledger applied it but before the caller hears back.
	crash crashPoint
	calls int
}

type crashPoint int

const (
	noCrash crashPoint = iota
	crashBeforeCommit
	crashAfterCommit
)

// errCrash is the panic value standing in for a process exit.
var errCrash = errors.New("process stopped")

// runUntilCrash runs a transfer that is expected to stop the process and
// returns the saved progress it left behind.
func (f *fixture) runUntilCrash(o *Orchestrator, req Request) *Progress {
	f.t.Helper()
	func() {
		defer func() { require.Equal(f.t, errCrash, recover()) }()
		_, _ = o.Transfer(f.ctx, req)
	}()
	unfinished, err := f.store.Unfinished()
	require.NoError(f.t, err)
	require.Len(f.t, unfinished, 1)
	return unfinished[0]
}

func (s *faulty) Freshness(ctx context.Context) (settlement.Freshness, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Settlement.Freshness(ctx)
}

func (s *faulty) CreateContext(ctx context.Context, req settlement.CreateContextRequest, fresh settlement.Freshness) (settlement.ContextHandle, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Settlement.CreateContext(ctx, req, fresh)
}

func (s *faulty) ReferenceAndCommit(ctx context.Context, op settlement.Operation, handles []settlement.ContextHandle, fresh settlement.Freshness) (*settlement.CommitReceipt, error) {
	s.mu.Lock()
	expire, commitErr, crash := s.expireAtCommit, s.commitErr, s.crash
	s.mu.Unlock()
	if crash == crashBeforeCommit {
		panic(errCrash)
	}
	if expire {
		if err := s.ledger.Advance(settlement.DefaultLedgerConfig().MaxFreshnessAge + 1); err != nil {
			return nil, err
		}
	}
	r, err := s.Settlement.ReferenceAndCommit(ctx, op, handles, fresh)
	if err == nil && crash == crashAfterCommit {
		panic(errCrash)
	}
	if err == nil && commitErr != nil {
		return nil, commitErr
	}
	return r, err
}

func (s *faulty) CloseContext(ctx context.Context, h settlement.ContextHandle, authority, dest balance.Address, fresh settlement.Freshness) error {
	s.mu.Lock()
	fail := s.closeFails
	s.mu.Unlock()
	if fail {
		return settlement.ErrThrottled
	}
	return s.Settlement.CloseContext(ctx, h, authority, dest, fresh)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(1000)
	dst, dstKeys := f.account(0)
	o := f.orchestrator(f.ledger, testConfig())

	res, err := o.Transfer(f.ctx, Request{Source: src, Destination: dst, Amount: 300, Keys: srcKeys})
	require.NoError(t, err)
	require.Len(t, res.Contexts, 3)
	assert.Equal(t, settlement.OpTransfer, res.Receipt.Operation)

	srcAcct := f.get(src)
	require.NoError(t, balance.CheckInvariant(srcAcct, srcKeys))
	avail, err := balance.AvailableOf(srcAcct, srcKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 700, avail)

	dstAcct := f.get(dst)
	assert.EqualValues(t, 1, dstAcct.PendingCreditCounter)
	pending, err := balance.PendingOf(f.ctx, dstAcct, dstKeys, testDecoder())
	require.NoError(t, err)
	assert.EqualValues(t, 300, pending)

	counter, dec, err := balance.PrepareApplyPending(f.ctx, dstAcct, dstKeys, testDecoder())
	require.NoError(t, err)
	f.commit(&settlement.ApplyPendingOp{Account: dst, ExpectedCounter: counter, NewDecryptable: dec})
	avail, err = balance.AvailableOf(f.get(dst), dstKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 300, avail)

	assert.Zero(t, f.ledger.LockedRent())
	refunded, err := f.ledger.RentBalance(src)
	require.NoError(t, err)
	assert.Equal(t, 3*settlement.DefaultLedgerConfig().ContextRent, refunded)

	p, err := f.store.Load(res.ID)
	require.NoError(t, err)
	assert.Equal(t, StageDone, p.Stage)
	assert.True(t, p.Finished())
}

func TestTransferWithAuditor(t *testing.T) {
	auditor, err := encryption.NewKeypair()
	require.NoError(t, err)
	f := newFixture(t, &auditor.Public)
	src, srcKeys := f.account(5000)
	dst, _ := f.account(0)

	o := f.orchestrator(f.ledger, testConfig())
	res, err := o.Transfer(f.ctx, Request{Source: src, Destination: dst, Amount: 4321, Keys: srcKeys})
	require.NoError(t, err)
	require.Len(t, res.Contexts, 3)

	avail, err := balance.AvailableOf(f.get(src), srcKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 5000-4321, avail)

	// The auditor can recover the amount from the statement it is given.
	st, err := balance.ProveTransfer(f.ctx, f.get(src), srcKeys, avail, f.get(dst).ElGamalPubkey, &auditor.Public, 7)
	require.NoError(t, err)
	require.Equal(t, 3, st.Validity.Lo.Len())
	lo, err := auditor.DecryptU32(st.Validity.Lo.Ciphertext(2), testDecoder())
	require.NoError(t, err)
	assert.EqualValues(t, 7, lo)
}

func TestTransferInsufficientBalance(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(100)
	dst, _ := f.account(0)
	s := &faulty{Settlement: f.ledger, ledger: f.ledger}
	o := f.orchestrator(s, testConfig())

	before := f.get(src)
	_, err := o.Transfer(f.ctx, Request{Source: src, Destination: dst, Amount: 101, Keys: srcKeys})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, NothingHappened, terr.Outcome)
	assert.Equal(t, StageInit, terr.Stage)
	assert.Zero(t, s.calls)
	assert.Equal(t, before, f.get(src))
}

func TestTransferRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(100)
	o := f.orchestrator(f.ledger, testConfig())

	_, err := o.Transfer(f.ctx, Request{Source: src, Destination: src, Amount: 1, Keys: srcKeys})
	require.ErrorIs(t, err, ErrSelfTransfer)

	dst, _ := f.account(0)
	_, err = o.Transfer(f.ctx, Request{Source: src, Destination: dst, Keys: srcKeys})
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestTransferRollsBackOnExpiredFreshness(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(1000)
	dst, _ := f.account(0)
	s := &faulty{Settlement: f.ledger, ledger: f.ledger, expireAtCommit: true}
	o := f.orchestrator(s, testConfig())

	srcBefore, dstBefore := f.get(src), f.get(dst)
	_, err := o.Transfer(f.ctx, Request{Source: src, Destination: dst, Amount: 300, Keys: srcKeys})
	require.ErrorIs(t, err, settlement.ErrStaleFreshness)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, NothingHappened, terr.Outcome)
	assert.Equal(t, StageContextsPublished, terr.Stage)

	open, err := f.ledger.OpenContexts()
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Zero(t, f.ledger.LockedRent())
	assert.Equal(t, srcBefore, f.get(src))
	assert.Equal(t, dstBefore, f.get(dst))

	p, err := f.store.Load(uuid.MustParse(terr.ID))
	require.NoError(t, err)
	assert.Equal(t, StageFailed, p.Stage)
	assert.True(t, p.Finished())
	for _, c := range p.Contexts {
		assert.True(t, c.Published)
		assert.True(t, c.Closed)
	}
}

func TestTransferCleanupPendingThenResume(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(1000)
	dst, _ := f.account(0)
	s := &faulty{Settlement: f.ledger, ledger: f.ledger, closeFails: true}
	cfg := testConfig()
	cfg.RetryAttempts = 2
	o := f.orchestrator(s, cfg)

	_, err := o.Transfer(f.ctx, Request{Source: src, Destination: dst, Amount: 250, Keys: srcKeys})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CommittedCleanupPending, terr.Outcome)

	avail, err := balance.AvailableOf(f.get(src), srcKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 750, avail)
	assert.Equal(t, 3*settlement.DefaultLedgerConfig().ContextRent, f.ledger.LockedRent())

	id := uuid.MustParse(terr.ID)
	_, err = o.Rollback(f.ctx, id)
	require.ErrorIs(t, err, ErrAlreadyCommitted)

	unfinished, err := f.store.Unfinished()
	require.NoError(t, err)
	require.Len(t, unfinished, 1)

	s.mu.Lock()
	s.closeFails = false
	s.mu.Unlock()
	require.NoError(t, o.ResumeAll(f.ctx))

	p, err := f.store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, StageDone, p.Stage)
	assert.Zero(t, f.ledger.LockedRent())
	unfinished, err = f.store.Unfinished()
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestTransferAmbiguousCommit(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(1000)
	dst, _ := f.account(0)
	s := &faulty{Settlement: f.ledger, ledger: f.ledger, commitErr: context.DeadlineExceeded}
	o := f.orchestrator(s, testConfig())

	res, err := o.Transfer(f.ctx, Request{Source: src, Destination: dst, Amount: 10, Keys: srcKeys})
	require.NoError(t, err)
	assert.Equal(t, settlement.OpTransfer, res.Receipt.Operation)
	avail, err := balance.AvailableOf(f.get(src), srcKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 990, avail)
	assert.Zero(t, f.ledger.LockedRent())
}

func TestResumeAfterCrashPastCommit(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(1000)
	dst, dstKeys := f.account(0)
	s := &faulty{Settlement: f.ledger, ledger: f.ledger, crash: crashAfterCommit}

	p := f.runUntilCrash(f.orchestrator(s, testConfig()), Request{Source: src, Destination: dst, Amount: 300, Keys: srcKeys})
	assert.Nil(t, p.Receipt)
	assert.Equal(t, StageContextsPublished, p.Stage)
	require.NotNil(t, p.ExpectedSourceAvailable)
	assert.True(t, p.ExpectedSourceAvailable.Equal(f.get(src).Available))

	// A restarted process must not roll back value that already moved.
	o := f.orchestrator(f.ledger, testConfig())
	_, err := o.Rollback(f.ctx, p.ID)
	require.ErrorIs(t, err, ErrAlreadyCommitted)
	assert.Equal(t, 3*settlement.DefaultLedgerConfig().ContextRent, f.ledger.LockedRent())

	got, err := o.Resume(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StageDone, got.Stage)
	require.NotNil(t, got.Receipt)
	assert.Equal(t, settlement.OpTransfer, got.Receipt.Operation)
	assert.Empty(t, got.Error)
	for _, c := range got.Contexts {
		assert.True(t, c.Closed)
	}
	assert.Zero(t, f.ledger.LockedRent())

	avail, err := balance.AvailableOf(f.get(src), srcKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 700, avail)
	pending, err := balance.PendingOf(f.ctx, f.get(dst), dstKeys, testDecoder())
	require.NoError(t, err)
	assert.EqualValues(t, 300, pending)

	unfinished, err := f.store.Unfinished()
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestResumeAfterCrashPastCommitAndCleanup(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(1000)
	dst, _ := f.account(0)
	s := &faulty{Settlement: f.ledger, ledger: f.ledger, crash: crashAfterCommit}
	p := f.runUntilCrash(f.orchestrator(s, testConfig()), Request{Source: src, Destination: dst, Amount: 40, Keys: srcKeys})

	// The contexts were closed but the progress never recorded it; only the
	// saved source balance shows the commit landed.
	fresh, err := f.ledger.Freshness(f.ctx)
	require.NoError(t, err)
	for _, h := range p.Handles() {
		require.NoError(t, f.ledger.CloseContext(f.ctx, h, src, src, fresh))
	}

	got, err := f.orchestrator(f.ledger, testConfig()).Resume(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StageDone, got.Stage)
	require.NotNil(t, got.Receipt)
}

func TestResumeAfterCrashBeforeCommit(t *testing.T) {
	f := newFixture(t, nil)
	src, srcKeys := f.account(1000)
	dst, _ := f.account(0)
	srcBefore, dstBefore := f.get(src), f.get(dst)
	s := &faulty{Settlement: f.ledger, ledger: f.ledger, crash: crashBeforeCommit}

	p := f.runUntilCrash(f.orchestrator(s, testConfig()), Request{Source: src, Destination: dst, Amount: 300, Keys: srcKeys})
	got, err := f.orchestrator(f.ledger, testConfig()).Resume(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StageFailed, got.Stage)
	assert.Nil(t, got.Receipt)
	assert.True(t, got.Finished())
	assert.Zero(t, f.ledger.LockedRent())
	assert.Equal(t, srcBefore, f.get(src))
	assert.Equal(t, dstBefore, f.get(dst))
}

func TestSequentialTransfers(t *testing.T) {
	f := newFixture(t, nil)
	a, aKeys := f.account(1000)
	b, _ := f.account(0)
	o := f.orchestrator(f.ledger, testConfig())

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = o.Transfer(f.ctx, Request{Source: a, Destination: b, Amount: 100, Keys: aKeys})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	avail, err := balance.AvailableOf(f.get(a), aKeys)
	require.NoError(t, err)
	assert.EqualValues(t, 700, avail)
	assert.EqualValues(t, 3, f.get(b).PendingCreditCounter)
}

func TestAccountLocks(t *testing.T) {
	locks := NewAccountLocks()
	a, b := balance.Address{1}, balance.Address{2}

	release, err := locks.Lock(context.Background(), b, a, a)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, a)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release, err = locks.Lock(context.Background(), a)
	require.NoError(t, err)
	release()
}
