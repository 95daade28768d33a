package settlement

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
	"github.com/gitteri/confidential-balances-exploration/internal/store"
)

// ledgerTx stages the records an operation touches.
type ledgerTx struct {
	l        *Ledger
	accounts map[balance.Address]*balance.Account
	order    []balance.Address
	removed  []balance.Address
	mints    []*balance.Mint
	contexts []*contextRecord
}

func (tx *ledgerTx) account(ctx context.Context, id balance.Address) (*balance.Account, error) {
	if acct, ok := tx.accounts[id]; ok {
		return acct, nil
	}
	acct, err := tx.l.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.accounts[id] = acct
	tx.order = append(tx.order, id)
	return acct, nil
}

func (tx *ledgerTx) create(acct *balance.Account) {
	tx.accounts[acct.ID] = acct
	tx.order = append(tx.order, acct.ID)
}

func (tx *ledgerTx) execute(ctx context.Context, op Operation, referenced []proof.ProofData) error {
	switch op := op.(type) {
	case *CreateMintOp:
		if _, err := tx.l.GetMint(ctx, op.Mint.ID); err == nil {
			return errors.Wrap(ErrMintExists, op.Mint.ID.String())
		} else if !errors.Is(err, ErrMintNotFound) {
			return err
		}
		mint := op.Mint
		tx.mints = append(tx.mints, &mint)
		return nil

	case *CreateAccountOp:
		if _, err := tx.l.GetMint(ctx, op.Mint); err != nil {
			return err
		}
		if _, err := tx.l.GetAccount(ctx, op.Account); err == nil {
			return errors.Wrap(ErrAccountExists, op.Account.String())
		} else if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		tx.create(balance.NewAccount(op.Account, op.Mint, op.Owner))
		return nil

	case *MintToOp:
		acct, err := tx.account(ctx, op.Account)
		if err != nil {
			return err
		}
		return errors.Wrap(acct.MintTo(op.Amount), "mint to")

	case *ConfigureOp:
		acct, err := tx.account(ctx, op.Account)
		if err != nil {
			return err
		}
		pv, err := pick(op.Proof, referenced)
		if err != nil {
			return err
		}
		return errors.Wrap(acct.Configure(pv, op.Decryptable, op.MaxPendingCreditCounter), "configure")

	case *DepositOp:
		acct, err := tx.account(ctx, op.Account)
		if err != nil {
			return err
		}
		return errors.Wrap(acct.Deposit(op.Amount), "deposit")

	case *ApplyPendingOp:
		acct, err := tx.account(ctx, op.Account)
		if err != nil {
			return err
		}
		return errors.Wrap(acct.ApplyPending(op.ExpectedCounter, op.NewDecryptable), "apply pending")

	case *WithdrawOp:
		acct, err := tx.account(ctx, op.Account)
		if err != nil {
			return err
		}
		eq, err := pick(op.Equality, referenced)
		if err != nil {
			return err
		}
		rp, err := pick(op.Range, referenced)
		if err != nil {
			return err
		}
		return errors.Wrap(acct.Withdraw(op.Amount, op.NewDecryptable, eq, rp), "withdraw")

	case *TransferOp:
		src, err := tx.account(ctx, op.Source)
		if err != nil {
			return err
		}
		dst, err := tx.account(ctx, op.Destination)
		if err != nil {
			return err
		}
		if src.Mint != dst.Mint {
			return ErrMintMismatch
		}
		mint, err := tx.l.GetMint(ctx, src.Mint)
		if err != nil {
			return err
		}
		st := &balance.TransferStatement{NewSourceDecryptable: op.NewSourceDecryptable}
		if st.Equality, err = pick(op.Equality, referenced); err != nil {
			return err
		}
		if st.Validity, err = pick(op.Validity, referenced); err != nil {
			return err
		}
		if st.Range, err = pick(op.Range, referenced); err != nil {
			return err
		}
		return errors.Wrap(balance.Transfer(src, dst, mint.Auditor, st), "transfer")

	case *EmptyAccountOp:
		acct, err := tx.account(ctx, op.Account)
		if err != nil {
			return err
		}
		zeros := pickAll[*proof.ZeroCiphertextProofData](referenced)
		if op.ZeroAvailable != nil {
			zeros = append([]*proof.ZeroCiphertextProofData{op.ZeroAvailable}, zeros...)
		}
		if op.ZeroPending != nil {
			zeros = append(zeros, op.ZeroPending)
		}
		if len(zeros) != 2 {
			return errors.Wrapf(ErrMissingProof, "empty account needs 2 zero proofs, got %d", len(zeros))
		}
		if err := acct.Empty(zeros[0], zeros[1]); err != nil {
			return errors.Wrap(err, "empty account")
		}
		tx.removed = append(tx.removed, acct.ID)
		return nil

	default:
		return errors.Wrapf(ErrUnknownOperation, "%T", op)
	}
}

// pick returns the inline proof when present, else the first referenced
// proof of the same type.
func pick[T interface {
	proof.ProofData
	comparable
}](inline T, referenced []proof.ProofData) (T, error) {
	var zero T
	if inline != zero {
		return inline, nil
	}
	for _, pd := range referenced {
		if v, ok := pd.(T); ok {
			return v, nil
		}
	}
	return zero, errors.Wrapf(ErrMissingProof, "%T", zero)
}

func pickAll[T proof.ProofData](referenced []proof.ProofData) []T {
	var out []T
	for _, pd := range referenced {
		if v, ok := pd.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func (tx *ledgerTx) commit() error {
	b := tx.l.db.NewBatch()
	abort := func(err error) error {
		b.Abort()
		return err
	}
	removed := map[balance.Address]bool{}
	for _, id := range tx.removed {
		removed[id] = true
		if err := b.Delete(store.Key(prefixAccount, id[:])); err != nil {
			return abort(err)
		}
	}
	for _, id := range tx.order {
		if removed[id] {
			continue
		}
		if err := b.Put(store.Key(prefixAccount, id[:]), tx.accounts[id]); err != nil {
			return abort(err)
		}
	}
	for _, m := range tx.mints {
		if err := b.Put(store.Key(prefixMint, m.ID[:]), m); err != nil {
			return abort(err)
		}
	}
	for _, rec := range tx.contexts {
		if err := b.Put(store.Key(prefixContext, rec.Handle[:]), rec); err != nil {
			return abort(err)
		}
	}
	return b.Commit()
}
