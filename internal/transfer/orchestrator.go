// orchestrator.go - Transfer state machine.

package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
	"github.com/gitteri/confidential-balances-exploration/internal/settlement"
)

// Config tunes retries and caching.
type Config struct {
	// RetryAttempts bounds retries of idempotent steps on stale freshness
	// or throttling.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	// PubkeyCacheSize is the number of recipient keys kept in memory.
	PubkeyCacheSize int `yaml:"pubkey_cache_size"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{RetryAttempts: 5, RetryBackoff: 200 * time.Millisecond, PubkeyCacheSize: 1024}
}

// Request asks for amount to move from Source to Destination. Keys are the
// source owner's keys; they never leave this process.
type Request struct {
	Source      balance.Address
	Destination balance.Address
	Amount      uint64
	Keys        *balance.Keys
}

// Result describes a completed transfer.
type Result struct {
	ID       uuid.UUID
	Receipt  *settlement.CommitReceipt
	Contexts []settlement.ContextHandle
}

// Orchestrator runs transfers against a Settlement.
type Orchestrator struct {
	settlement settlement.Settlement
	reader     settlement.AccountReader
	store      *Store
	locks      *AccountLocks
	pubkeys    *lru.Cache[balance.Address, encryption.PublicKey]
	cfg        Config
	log        zerolog.Logger
}

// New creates an Orchestrator. locks may be shared with other components
// that mutate the same accounts.
func New(s settlement.Settlement, r settlement.AccountReader, st *Store, locks *AccountLocks, cfg Config, log zerolog.Logger) (*Orchestrator, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.PubkeyCacheSize <= 0 {
		cfg.PubkeyCacheSize = DefaultConfig().PubkeyCacheSize
	}
	cache, err := lru.New[balance.Address, encryption.PublicKey](cfg.PubkeyCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "pubkey cache")
	}
	if locks == nil {
		locks = NewAccountLocks()
	}
	return &Orchestrator{
		settlement: s,
		reader:     r,
		store:      st,
		locks:      locks,
		pubkeys:    cache,
		cfg:        cfg,
		log:        log.With().Str("component", "transfer").Logger(),
	}, nil
}

// Locks returns the per-account lock table.
func (o *Orchestrator) Locks() *AccountLocks {
	return o.locks
}

// run is the state of one transfer while it executes.
type run struct {
	o        *Orchestrator
	progress *Progress
	mu       sync.Mutex
	log      zerolog.Logger
}

func (r *run) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.o.store.Save(r.progress)
}

func (r *run) advance(stage Stage, since time.Time) error {
	r.mu.Lock()
	r.progress.Stage = stage
	r.mu.Unlock()
	stageDuration.WithLabelValues(string(stage)).Observe(time.Since(since).Seconds())
	r.log.Debug().Str("stage", string(stage)).Msg("stage reached")
	return r.save()
}

func (r *run) fail(stage Stage, outcome Outcome, err error) *Error {
	r.mu.Lock()
	r.progress.FailedStage = stage
	r.progress.Error = err.Error()
	if outcome != CommittedCleanupPending {
		r.progress.Stage = StageFailed
	}
	r.mu.Unlock()
	if serr := r.save(); serr != nil {
		r.log.Error().Err(serr).Msg("persist failure")
	}
	transfersTotal.WithLabelValues(string(outcome)).Inc()
	r.log.Warn().Str("stage", string(stage)).Str("outcome", string(outcome)).Err(err).Msg("transfer failed")
	return &Error{ID: r.progress.ID.String(), Stage: stage, Outcome: outcome, Err: err}
}

func (r *run) setContext(i int, update func(*ContextState)) {
	r.mu.Lock()
	update(&r.progress.Contexts[i])
	r.mu.Unlock()
}

// Transfer runs a transfer to completion. A failure is an *Error naming the
// stage and the outcome.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) (*Result, error) {
	p := &Progress{
		ID:          uuid.New(),
		Source:      req.Source,
		Destination: req.Destination,
		Amount:      req.Amount,
		Stage:       StageInit,
		CreatedAt:   time.Now().UTC(),
	}
	r := &run{o: o, progress: p, log: o.log.With().Str("transfer", p.ID.String()).Logger()}

	switch {
	case req.Amount == 0:
		return nil, r.fail(StageInit, NothingHappened, ErrZeroAmount)
	case req.Source == req.Destination:
		return nil, r.fail(StageInit, NothingHappened, ErrSelfTransfer)
	}

	release, err := o.locks.Lock(ctx, req.Source, req.Destination)
	if err != nil {
		return nil, r.fail(StageInit, NothingHappened, err)
	}
	defer release()

	start := time.Now()
	st, err := o.prove(ctx, r, req)
	if err != nil {
		return nil, r.fail(StageInit, NothingHappened, err)
	}
	if err := r.advance(StageProofsGenerated, start); err != nil {
		return nil, r.fail(StageProofsGenerated, NothingHappened, err)
	}

	start = time.Now()
	if err := o.publish(ctx, r, []proof.ProofData{st.Equality, st.Validity, st.Range}); err != nil {
		return nil, o.abort(ctx, r, StageProofsGenerated, err)
	}
	if err := r.advance(StageContextsPublished, start); err != nil {
		return nil, o.abort(ctx, r, StageContextsPublished, err)
	}

	start = time.Now()
	op := &settlement.TransferOp{
		Source:               req.Source,
		Destination:          req.Destination,
		NewSourceDecryptable: st.NewSourceDecryptable,
	}
	receipt, err := o.commit(ctx, r, op, st)
	if errors.Is(err, ErrCommitUnknown) {
		// Contexts stay open until Resume can tell what the ledger did.
		return nil, r.fail(StageContextsPublished, PartiallyCommitted, err)
	}
	if err != nil {
		return nil, o.abort(ctx, r, StageContextsPublished, err)
	}
	r.mu.Lock()
	p.Receipt = receipt
	r.mu.Unlock()
	if err := r.advance(StageValueMoved, start); err != nil {
		r.log.Error().Err(err).Msg("persist committed transfer")
	}

	if err := o.finish(ctx, r); err != nil {
		return nil, err
	}
	transfersTotal.WithLabelValues("done").Inc()
	r.log.Info().Uint64("amount", req.Amount).Uint64("slot", receipt.Slot).Msg("transfer done")
	return &Result{ID: p.ID, Receipt: receipt, Contexts: p.Handles()}, nil
}

// prove reads both accounts and generates the proofs on a worker goroutine.
func (o *Orchestrator) prove(ctx context.Context, r *run, req Request) (*balance.TransferStatement, error) {
	src, err := o.reader.GetAccount(ctx, req.Source)
	if err != nil {
		return nil, errors.Wrap(err, "read source")
	}
	if src.Status != balance.Configured {
		return nil, errors.Wrap(balance.ErrNotConfigured, "source")
	}
	available, err := balance.AvailableOf(src, req.Keys)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt available balance")
	}
	if req.Amount > available {
		return nil, errors.Wrapf(ErrInsufficientBalance, "available %d, requested %d", available, req.Amount)
	}
	dst, err := o.recipientKey(ctx, req.Destination)
	if err != nil {
		return nil, err
	}
	mint, err := o.reader.GetMint(ctx, src.Mint)
	if err != nil {
		return nil, errors.Wrap(err, "read mint")
	}

	type result struct {
		st  *balance.TransferStatement
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		st, err := balance.ProveTransfer(ctx, src, req.Keys, available, dst, mint.Auditor, req.Amount)
		done <- result{st, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, proof.ErrProofGenerationFault) {
				r.log.Error().Err(res.err).Msg("generated proof failed local verification")
			}
			return nil, errors.Wrap(res.err, "generate proofs")
		}
		proofGenerationDuration.Observe(time.Since(start).Seconds())
		return res.st, nil
	}
}

// recipientKey returns the destination's ElGamal key, cached. Keys never
// rotate for the lifetime of an account.
func (o *Orchestrator) recipientKey(ctx context.Context, id balance.Address) (encryption.PublicKey, error) {
	if pk, ok := o.pubkeys.Get(id); ok {
		return pk, nil
	}
	dst, err := o.reader.GetAccount(ctx, id)
	if err != nil {
		return encryption.PublicKey{}, errors.Wrap(err, "read destination")
	}
	if dst.Status != balance.Configured {
		return encryption.PublicKey{}, errors.Wrap(balance.ErrNotConfigured, "destination")
	}
	o.pubkeys.Add(id, dst.ElGamalPubkey)
	return dst.ElGamalPubkey, nil
}

// retry runs step with a fresh freshness token, retrying on stale tokens
// and throttling.
func (o *Orchestrator) retry(ctx context.Context, step func(settlement.Freshness) error) error {
	var err error
	for attempt := 0; attempt < o.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.RetryBackoff):
			}
		}
		var fresh settlement.Freshness
		if fresh, err = o.settlement.Freshness(ctx); err != nil {
			continue
		}
		err = step(fresh)
		if !errors.Is(err, settlement.ErrStaleFreshness) && !errors.Is(err, settlement.ErrThrottled) {
			return err
		}
	}
	return err
}

// publish creates and fills one context per proof in parallel. Handles are
// picked up front and persisted so every step can be retried or undone.
func (o *Orchestrator) publish(ctx context.Context, r *run, proofs []proof.ProofData) error {
	r.mu.Lock()
	for _, pd := range proofs {
		h, err := balance.NewAddress()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.progress.Contexts = append(r.progress.Contexts, ContextState{Handle: h, Kind: pd.Kind()})
	}
	r.mu.Unlock()
	if err := r.save(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, pd := range proofs {
		g.Go(func() error {
			cs := r.progress.Contexts[i]
			err := o.retry(gctx, func(fresh settlement.Freshness) error {
				req := settlement.CreateContextRequest{Handle: cs.Handle, Kind: cs.Kind, Authority: r.progress.Source}
				_, err := o.settlement.CreateContext(gctx, req, fresh)
				if err != nil && !errors.Is(err, settlement.ErrContextExists) {
					return err
				}
				r.setContext(i, func(c *ContextState) { c.Created = true })
				err = o.settlement.PublishProof(gctx, cs.Handle, pd, fresh)
				if err != nil && !errors.Is(err, settlement.ErrAlreadyPublished) {
					return err
				}
				r.setContext(i, func(c *ContextState) { c.Published = true })
				return nil
			})
			return errors.Wrapf(err, "publish %s", pd.Kind())
		})
	}
	err := g.Wait()
	if serr := r.save(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// commit references the contexts. It is not retried: a failure is followed
// by rollback. When the error is ambiguous (transport failure) the ledger is
// asked whether the commit landed anyway.
func (o *Orchestrator) commit(ctx context.Context, r *run, op *settlement.TransferOp, st *balance.TransferStatement) (*settlement.CommitReceipt, error) {
	r.mu.Lock()
	expected := st.Equality.Ciphertext
	r.progress.ExpectedSourceAvailable = &expected
	r.mu.Unlock()
	if err := r.save(); err != nil {
		return nil, err
	}

	fresh, err := o.settlement.Freshness(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "freshness")
	}
	receipt, err := o.settlement.ReferenceAndCommit(ctx, op, r.progress.Handles(), fresh)
	if err == nil {
		return receipt, nil
	}
	landed, cerr := o.committed(context.WithoutCancel(ctx), r.progress)
	switch {
	case cerr != nil:
		return nil, errors.Wrapf(ErrCommitUnknown, "%v; %v", err, cerr)
	case landed:
		r.log.Warn().Err(err).Msg("commit reported failure but landed")
		return &settlement.CommitReceipt{Slot: fresh.Slot, Operation: op.Kind()}, nil
	}
	return nil, errors.Wrap(err, "reference and commit")
}

// committed asks the ledger whether the commit of p landed. A commit
// consumes every referenced context at once, so one open context answers
// it. When all contexts are gone the source balance is compared with the
// balance saved before the commit was sent.
func (o *Orchestrator) committed(ctx context.Context, p *Progress) (bool, error) {
	for _, cs := range p.Contexts {
		if !cs.Created || cs.Closed {
			continue
		}
		info, err := o.reader.GetContext(ctx, cs.Handle)
		if errors.Is(err, settlement.ErrContextNotFound) {
			continue
		}
		if err != nil {
			return false, errors.Wrapf(err, "read context %s", cs.Handle)
		}
		return info.Consumed, nil
	}
	if p.ExpectedSourceAvailable == nil {
		return false, nil
	}
	src, err := o.reader.GetAccount(ctx, p.Source)
	if err != nil {
		return false, errors.Wrap(err, "read source")
	}
	return src.Available.Equal(*p.ExpectedSourceAvailable), nil
}

// settle records a receipt for a transfer whose commit landed on the ledger
// but never reached its saved progress.
func (o *Orchestrator) settle(ctx context.Context, r *run) error {
	if r.progress.Receipt != nil {
		return nil
	}
	landed, err := o.committed(ctx, r.progress)
	if err != nil {
		return errors.Wrap(err, "check commit")
	}
	if !landed {
		return nil
	}
	r.mu.Lock()
	r.progress.Receipt = &settlement.CommitReceipt{Operation: settlement.OpTransfer}
	r.progress.Stage = StageValueMoved
	r.mu.Unlock()
	r.log.Warn().Msg("commit landed before progress was saved")
	return r.save()
}

// abort rolls back after a failure before value moved.
func (o *Orchestrator) abort(ctx context.Context, r *run, stage Stage, cause error) *Error {
	if err := o.closeAll(context.WithoutCancel(ctx), r); err != nil {
		rollbacksTotal.WithLabelValues("failed").Inc()
		r.log.Error().Err(err).Msg("rollback incomplete")
		return r.fail(stage, PartiallyCommitted, errors.Wrapf(cause, "rollback incomplete: %v", err))
	}
	rollbacksTotal.WithLabelValues("ok").Inc()
	return r.fail(stage, NothingHappened, cause)
}

// finish closes every context after value moved.
func (o *Orchestrator) finish(ctx context.Context, r *run) error {
	start := time.Now()
	if err := o.closeAll(ctx, r); err != nil {
		return r.fail(StageValueMoved, CommittedCleanupPending, err)
	}
	if err := r.advance(StageContextsClosed, start); err != nil {
		return r.fail(StageContextsClosed, CommittedCleanupPending, err)
	}
	if err := r.advance(StageDone, start); err != nil {
		r.log.Error().Err(err).Msg("persist done")
	}
	return nil
}

// closeAll closes every created, unclosed context in parallel. Closing a
// context that no longer exists counts as done.
func (o *Orchestrator) closeAll(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.progress.Contexts {
		r.mu.Lock()
		cs := r.progress.Contexts[i]
		r.mu.Unlock()
		if !cs.Created || cs.Closed {
			continue
		}
		g.Go(func() error {
			err := o.retry(gctx, func(fresh settlement.Freshness) error {
				err := o.settlement.CloseContext(gctx, cs.Handle, r.progress.Source, r.progress.Source, fresh)
				if errors.Is(err, settlement.ErrContextNotFound) {
					return nil
				}
				return err
			})
			if err != nil {
				return errors.Wrapf(err, "close context %s", cs.Handle)
			}
			r.setContext(i, func(c *ContextState) { c.Closed = true })
			return nil
		})
	}
	err := g.Wait()
	if serr := r.save(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Resume continues a persisted transfer: cleanup after a commit, or
// rollback of one that never moved value. The ledger decides which, since
// the process may have stopped between a commit and saving its receipt.
func (o *Orchestrator) Resume(ctx context.Context, id uuid.UUID) (*Progress, error) {
	p, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	if p.Finished() {
		return p, nil
	}
	r := &run{o: o, progress: p, log: o.log.With().Str("transfer", p.ID.String()).Logger()}
	if err := o.settle(ctx, r); err != nil {
		return p, err
	}
	if p.Receipt == nil {
		return p, o.rollback(ctx, r)
	}
	if err := o.finish(ctx, r); err != nil {
		return p, err
	}
	r.mu.Lock()
	p.FailedStage, p.Error = "", ""
	r.mu.Unlock()
	return p, r.save()
}

// Rollback closes the contexts of a transfer that never moved value. It
// fails with ErrAlreadyCommitted when the ledger shows the commit landed.
func (o *Orchestrator) Rollback(ctx context.Context, id uuid.UUID) (*Progress, error) {
	p, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	r := &run{o: o, progress: p, log: o.log.With().Str("transfer", p.ID.String()).Logger()}
	if err := o.settle(ctx, r); err != nil {
		return p, err
	}
	if p.Receipt != nil {
		return p, errors.Wrap(ErrAlreadyCommitted, id.String())
	}
	return p, o.rollback(ctx, r)
}

func (o *Orchestrator) rollback(ctx context.Context, r *run) error {
	if err := o.closeAll(ctx, r); err != nil {
		rollbacksTotal.WithLabelValues("failed").Inc()
		return err
	}
	rollbacksTotal.WithLabelValues("ok").Inc()
	r.mu.Lock()
	if r.progress.FailedStage == "" {
		r.progress.FailedStage = r.progress.Stage
	}
	r.progress.Stage = StageFailed
	r.mu.Unlock()
	return r.save()
}

// ResumeAll resumes every unfinished transfer in the store.
func (o *Orchestrator) ResumeAll(ctx context.Context) error {
	pending, err := o.store.Unfinished()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range pending {
		if _, err := o.Resume(ctx, p.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("%d transfers could not be resumed; first: %v", len(errs), errs[0])
	}
	return nil
}
