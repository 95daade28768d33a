// wallet.go - Owner operations on one account.

package wallet

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
	"github.com/gitteri/confidential-balances-exploration/internal/settlement"
	"github.com/gitteri/confidential-balances-exploration/internal/transfer"
)

// Wallet controls one confidential account.
type Wallet struct {
	id         balance.Address
	signer     encryption.Signer
	keys       *balance.Keys
	settlement settlement.Settlement
	reader     settlement.AccountReader
	decoder    *encryption.Decoder
	locks      *transfer.AccountLocks
	log        zerolog.Logger
}

// Option customizes a Wallet.
type Option func(*Wallet)

// WithLocks shares a lock table with a transfer orchestrator so wallet
// operations and transfers on the same account never interleave.
func WithLocks(l *transfer.AccountLocks) Option {
	return func(w *Wallet) { w.locks = l }
}

// New derives the account keys from signer and returns the wallet for
// account id.
func New(
	signer encryption.Signer,
	id balance.Address,
	s settlement.Settlement,
	r settlement.AccountReader,
	d *encryption.Decoder,
	log zerolog.Logger,
	opts ...Option,
) (*Wallet, error) {
	keys, err := balance.DeriveKeys(signer, id)
	if err != nil {
		return nil, errors.Wrap(err, "derive account keys")
	}
	w := &Wallet{
		id:         id,
		signer:     signer,
		keys:       keys,
		settlement: s,
		reader:     r,
		decoder:    d,
		locks:      transfer.NewAccountLocks(),
		log:        log.With().Str("account", id.String()).Logger(),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// ID returns the account address.
func (w *Wallet) ID() balance.Address { return w.id }

// PublicKey returns the account's ElGamal public key.
func (w *Wallet) PublicKey() encryption.PublicKey { return w.keys.ElGamal.Public }

// Zeroize wipes the derived keys. The wallet is unusable afterwards.
func (w *Wallet) Zeroize() { w.keys.Zeroize() }

func (w *Wallet) lock(ctx context.Context) (func(), error) {
	return w.locks.Lock(ctx, w.id)
}

func (w *Wallet) account(ctx context.Context) (*balance.Account, error) {
	acct, err := w.reader.GetAccount(ctx, w.id)
	return acct, errors.Wrap(err, "read account")
}

func (w *Wallet) commit(ctx context.Context, op settlement.Operation, handles ...settlement.ContextHandle) (*settlement.CommitReceipt, error) {
	fresh, err := w.settlement.Freshness(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "freshness")
	}
	receipt, err := w.settlement.ReferenceAndCommit(ctx, op, handles, fresh)
	if err != nil {
		return nil, errors.Wrapf(err, "commit %s", op.Kind())
	}
	w.log.Debug().Str("op", string(op.Kind())).Uint64("slot", receipt.Slot).Msg("committed")
	return receipt, nil
}

// Configure opens the account under mint if it does not exist yet and
// enables confidential balances on it. maxCounter 0 selects the largest
// counter the wallet's decoder window supports.
func (w *Wallet) Configure(ctx context.Context, mint balance.Address, maxCounter uint64) error {
	// Pending limbs grow with every credit; cap the counter so this
	// wallet's decoder can still read them back.
	limit := balance.MaxPendingCreditsForWindow(w.decoder.WindowBits())
	switch {
	case maxCounter == 0:
		maxCounter = limit
	case maxCounter > limit:
		return errors.Wrapf(balance.ErrCounterLimit, "%d credits exceed the %d-bit decoder window (at most %d)",
			maxCounter, w.decoder.WindowBits(), limit)
	}

	release, err := w.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := w.reader.GetAccount(ctx, w.id); errors.Is(err, settlement.ErrAccountNotFound) {
		op := &settlement.CreateAccountOp{Account: w.id, Mint: mint, Owner: w.signer.PublicKey()}
		if _, err := w.commit(ctx, op); err != nil {
			return err
		}
	} else if err != nil {
		return errors.Wrap(err, "read account")
	}

	pv, zero, err := balance.ProveConfigure(w.keys)
	if err != nil {
		return errors.Wrap(err, "prove pubkey validity")
	}
	op := &settlement.ConfigureOp{Account: w.id, Proof: pv, Decryptable: zero, MaxPendingCreditCounter: maxCounter}
	if _, err := w.commit(ctx, op); err != nil {
		return err
	}
	w.log.Info().Msg("account configured")
	return nil
}

// Deposit moves amount from the public balance into pending.
func (w *Wallet) Deposit(ctx context.Context, amount uint64) error {
	release, err := w.lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	_, err = w.commit(ctx, &settlement.DepositOp{Account: w.id, Amount: amount})
	return err
}

// ApplyPending folds pending into available and returns the new available
// balance.
func (w *Wallet) ApplyPending(ctx context.Context) (uint64, error) {
	release, err := w.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	acct, err := w.account(ctx)
	if err != nil {
		return 0, err
	}
	counter, dec, err := balance.PrepareApplyPending(ctx, acct, w.keys, w.decoder)
	if err != nil {
		return 0, errors.Wrap(err, "decrypt pending")
	}
	op := &settlement.ApplyPendingOp{Account: w.id, ExpectedCounter: counter, NewDecryptable: dec}
	if _, err := w.commit(ctx, op); err != nil {
		return 0, err
	}
	available, err := w.keys.Ae.Decrypt(dec)
	return available, errors.Wrap(err, "decrypt available")
}

// Withdraw moves amount from available back to the public balance. The
// proofs travel inline when they fit, otherwise through contexts.
func (w *Wallet) Withdraw(ctx context.Context, amount uint64) error {
	release, err := w.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	acct, err := w.account(ctx)
	if err != nil {
		return err
	}
	available, err := balance.AvailableOf(acct, w.keys)
	if err != nil {
		return errors.Wrap(err, "decrypt available")
	}
	st, err := balance.ProveWithdraw(ctx, acct, w.keys, available, amount)
	if err != nil {
		return errors.Wrap(err, "prove withdraw")
	}

	op := &settlement.WithdrawOp{Account: w.id, Amount: amount, NewDecryptable: st.NewDecryptable}
	if settlement.FitsInline(st.Equality.Size(), st.Range.Size()) {
		op.Equality, op.Range = st.Equality, st.Range
		_, err = w.commit(ctx, op)
		return err
	}
	return w.viaContexts(ctx, op, st.Equality, st.Range)
}

// Transfer sends amount to dst through the orchestrator.
func (w *Wallet) Transfer(ctx context.Context, o *transfer.Orchestrator, dst balance.Address, amount uint64) (*transfer.Result, error) {
	return o.Transfer(ctx, transfer.Request{Source: w.id, Destination: dst, Amount: amount, Keys: w.keys})
}

// Balances decrypts the account's balances.
func (w *Wallet) Balances(ctx context.Context) (*balance.Breakdown, error) {
	acct, err := w.account(ctx)
	if err != nil {
		return nil, err
	}
	b, err := balance.BreakdownOf(ctx, acct, w.keys, w.decoder)
	return b, errors.Wrap(err, "decrypt balances")
}

// Verify checks that the on-ledger available balance matches its AE mirror.
func (w *Wallet) Verify(ctx context.Context) error {
	acct, err := w.account(ctx)
	if err != nil {
		return err
	}
	return balance.CheckInvariant(acct, w.keys)
}

// Close empties the account and removes it. Public, pending and available
// balances must all be zero.
func (w *Wallet) Close(ctx context.Context) error {
	release, err := w.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	acct, err := w.account(ctx)
	if err != nil {
		return err
	}
	if acct.PublicAmount != 0 {
		return errors.Wrapf(balance.ErrNonZeroBalance, "public balance %d", acct.PublicAmount)
	}
	za, zp, err := balance.ProveEmpty(acct, w.keys)
	if err != nil {
		return errors.Wrap(err, "prove empty")
	}
	op := &settlement.EmptyAccountOp{Account: w.id}
	if settlement.FitsInline(za.Size(), zp.Size()) {
		op.ZeroAvailable, op.ZeroPending = za, zp
		_, err = w.commit(ctx, op)
	} else {
		err = w.viaContexts(ctx, op, za, zp)
	}
	if err != nil {
		return err
	}
	w.log.Info().Msg("account closed")
	return nil
}

// viaContexts publishes each proof into its own context, commits op
// referencing them and closes the contexts again, on failure as well.
func (w *Wallet) viaContexts(ctx context.Context, op settlement.Operation, proofs ...proof.ProofData) error {
	var handles []settlement.ContextHandle
	defer func() {
		cctx := context.WithoutCancel(ctx)
		for _, h := range handles {
			fresh, err := w.settlement.Freshness(cctx)
			if err == nil {
				err = w.settlement.CloseContext(cctx, h, w.id, w.id, fresh)
			}
			if err != nil && !errors.Is(err, settlement.ErrContextNotFound) {
				w.log.Warn().Err(err).Str("context", h.String()).Msg("context left open")
			}
		}
	}()

	for _, pd := range proofs {
		fresh, err := w.settlement.Freshness(ctx)
		if err != nil {
			return errors.Wrap(err, "freshness")
		}
		h, err := balance.NewAddress()
		if err != nil {
			return err
		}
		req := settlement.CreateContextRequest{Handle: h, Kind: pd.Kind(), Authority: w.id}
		if _, err := w.settlement.CreateContext(ctx, req, fresh); err != nil {
			return errors.Wrapf(err, "create %s context", pd.Kind())
		}
		handles = append(handles, h)
		if err := w.settlement.PublishProof(ctx, h, pd, fresh); err != nil {
			return errors.Wrapf(err, "publish %s", pd.Kind())
		}
	}
	_, err := w.commit(ctx, op, handles...)
	return err
}
