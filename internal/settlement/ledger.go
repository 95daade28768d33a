// ledger.go - In-process reference ledger.
//
// The Ledger owns every account, mint and settlement context. All mutations
// run under one mutex, which linearizes operations per account the way a
// real ledger sequences them. State is persisted as JSON records in pebble;
// a commit writes every touched record in one batch.

package settlement

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
	"github.com/gitteri/confidential-balances-exploration/internal/store"
)

const (
	prefixAccount = "acct"
	prefixMint    = "mint"
	prefixContext = "ctx"
	prefixRent    = "rent"
)

var metaKey = store.Key("meta", []byte("ledger"))

// LedgerConfig tunes the reference ledger.
type LedgerConfig struct {
	// MaxFreshnessAge is how many slots a freshness token stays valid.
	MaxFreshnessAge uint64 `yaml:"max_freshness_age"`
	// ContextRent is locked per open context and refunded on close.
	ContextRent uint64 `yaml:"context_rent"`
	// MaxInlinePayload bounds an operation with its inline proofs.
	MaxInlinePayload int `yaml:"max_inline_payload"`
	// SlotInterval advances the slot on a timer when positive (see Run).
	SlotInterval time.Duration `yaml:"slot_interval"`
}

// DefaultLedgerConfig returns the defaults used by the daemon and tests.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		MaxFreshnessAge:  150,
		ContextRent:      2_039_280,
		MaxInlinePayload: proof.MaxInlinePayload,
		SlotInterval:     400 * time.Millisecond,
	}
}

type ledgerMeta struct {
	Slot       uint64          `json:"slot"`
	Genesis    balance.Address `json:"genesis"`
	LockedRent uint64          `json:"locked_rent"`
	Contexts   int             `json:"contexts"`
}

type contextRecord struct {
	Handle    ContextHandle   `json:"handle"`
	Kind      proof.Kind      `json:"kind"`
	Authority balance.Address `json:"authority"`
	Proof     []byte          `json:"proof,omitempty"`
	Consumed  bool            `json:"consumed"`
	Rent      uint64          `json:"rent"`
	Slot      uint64          `json:"slot"`
}

// Ledger is the pebble-backed reference ledger.
type Ledger struct {
	mu   sync.Mutex
	db   *store.DB
	cfg  LedgerConfig
	meta ledgerMeta
	log  zerolog.Logger
}

// NewLedger opens the ledger stored in db, initializing it when empty.
func NewLedger(db *store.DB, cfg LedgerConfig, log zerolog.Logger) (*Ledger, error) {
	if cfg.MaxInlinePayload == 0 {
		cfg.MaxInlinePayload = proof.MaxInlinePayload
	}
	l := &Ledger{db: db, cfg: cfg, log: log.With().Str("component", "ledger").Logger()}
	err := db.Get(metaKey, &l.meta)
	switch {
	case errors.Is(err, store.ErrNotFound):
		genesis, err := balance.NewAddress()
		if err != nil {
			return nil, errors.Wrap(err, "genesis")
		}
		l.meta = ledgerMeta{Slot: 1, Genesis: genesis}
		if err := db.Put(metaKey, &l.meta); err != nil {
			return nil, err
		}
		l.log.Info().Str("genesis", genesis.String()).Msg("initialized ledger")
	case err != nil:
		return nil, errors.Wrap(err, "load ledger meta")
	}
	currentSlot.Set(float64(l.meta.Slot))
	openContexts.Set(float64(l.meta.Contexts))
	return l, nil
}

// Run advances the slot every cfg.SlotInterval until ctx is done.
func (l *Ledger) Run(ctx context.Context) error {
	if l.cfg.SlotInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(l.cfg.SlotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Advance(1); err != nil {
				return err
			}
		}
	}
}

// Advance moves the ledger forward n slots.
func (l *Ledger) Advance(n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meta.Slot += n
	currentSlot.Set(float64(l.meta.Slot))
	return l.db.Put(metaKey, &l.meta)
}

// Slot returns the current slot.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.Slot
}

// LockedRent is the rent held by open contexts.
func (l *Ledger) LockedRent() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.LockedRent
}

// RentBalance is the rent refunded to addr by closed contexts.
func (l *Ledger) RentBalance(addr balance.Address) (uint64, error) {
	var v uint64
	err := l.db.Get(store.Key(prefixRent, addr[:]), &v)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	return v, err
}

// OpenContexts lists every context not yet closed.
func (l *Ledger) OpenContexts() ([]ContextHandle, error) {
	var out []ContextHandle
	err := l.db.Scan(prefixContext, func(_, value []byte) error {
		var rec contextRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec.Handle)
		return nil
	})
	return out, err
}

// Ping checks that the store answers.
func (l *Ledger) Ping() error {
	_, err := l.db.Has(metaKey)
	return err
}

func (l *Ledger) slotHash(slot uint64) balance.Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], slot)
	h := sha3.New256()
	h.Write(l.meta.Genesis[:])
	h.Write(buf[:])
	var out balance.Address
	copy(out[:], h.Sum(nil))
	return out
}

// Freshness returns a token for the current slot.
func (l *Ledger) Freshness(ctx context.Context) (Freshness, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Freshness{Slot: l.meta.Slot, Hash: l.slotHash(l.meta.Slot)}, nil
}

func (l *Ledger) checkFreshness(f Freshness) error {
	if f.Slot > l.meta.Slot || f.Hash != l.slotHash(f.Slot) {
		return errors.Wrap(ErrStaleFreshness, "unknown freshness token")
	}
	if l.meta.Slot-f.Slot > l.cfg.MaxFreshnessAge {
		return errors.Wrapf(ErrStaleFreshness, "token from slot %d, now %d", f.Slot, l.meta.Slot)
	}
	return nil
}

// GetAccount returns a copy of the account record.
func (l *Ledger) GetAccount(ctx context.Context, id balance.Address) (*balance.Account, error) {
	var acct balance.Account
	if err := l.db.Get(store.Key(prefixAccount, id[:]), &acct); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrap(ErrAccountNotFound, id.String())
		}
		return nil, err
	}
	return &acct, nil
}

// GetMint returns the mint record.
func (l *Ledger) GetMint(ctx context.Context, id balance.Address) (*balance.Mint, error) {
	var mint balance.Mint
	if err := l.db.Get(store.Key(prefixMint, id[:]), &mint); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrap(ErrMintNotFound, id.String())
		}
		return nil, err
	}
	return &mint, nil
}

// GetContext returns the public state of context h.
func (l *Ledger) GetContext(ctx context.Context, h ContextHandle) (*ContextInfo, error) {
	rec, err := l.getContext(h)
	if err != nil {
		return nil, err
	}
	return &ContextInfo{
		Handle:    rec.Handle,
		Kind:      rec.Kind,
		Authority: rec.Authority,
		Published: rec.Proof != nil,
		Consumed:  rec.Consumed,
	}, nil
}

func (l *Ledger) getContext(h ContextHandle) (*contextRecord, error) {
	var rec contextRecord
	if err := l.db.Get(store.Key(prefixContext, h[:]), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrap(ErrContextNotFound, h.String())
		}
		return nil, err
	}
	return &rec, nil
}

// CreateContext allocates a context and locks its rent.
func (l *Ledger) CreateContext(ctx context.Context, req CreateContextRequest, fresh Freshness) (h ContextHandle, err error) {
	defer func() { observe("create_context", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkFreshness(fresh); err != nil {
		return h, err
	}
	if !req.Kind.Valid() {
		return h, errors.Wrapf(proof.ErrUnknownKind, "context kind %d", req.Kind)
	}
	h = req.Handle
	if h.IsZero() {
		if h, err = balance.NewAddress(); err != nil {
			return h, err
		}
	}
	key := store.Key(prefixContext, h[:])
	exists, err := l.db.Has(key)
	if err != nil {
		return h, err
	}
	if exists {
		return h, errors.Wrap(ErrContextExists, h.String())
	}

	rec := contextRecord{
		Handle:    h,
		Kind:      req.Kind,
		Authority: req.Authority,
		Rent:      l.cfg.ContextRent,
		Slot:      l.meta.Slot,
	}
	meta := l.meta
	meta.LockedRent += rec.Rent
	meta.Contexts++

	b := l.db.NewBatch()
	if err := b.Put(key, &rec); err != nil {
		b.Abort()
		return h, err
	}
	if err := b.Put(metaKey, &meta); err != nil {
		b.Abort()
		return h, err
	}
	if err := b.Commit(); err != nil {
		return h, err
	}
	l.meta = meta
	openContexts.Inc()
	l.log.Debug().Str("handle", h.String()).Stringer("kind", req.Kind).Msg("context created")
	return h, nil
}

// PublishProof verifies pd and stores it in the context.
func (l *Ledger) PublishProof(ctx context.Context, h ContextHandle, pd proof.ProofData, fresh Freshness) (err error) {
	defer func() { observe("publish_proof", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkFreshness(fresh); err != nil {
		return err
	}
	rec, err := l.getContext(h)
	if err != nil {
		return err
	}
	switch {
	case rec.Consumed:
		return errors.Wrap(ErrContextConsumed, h.String())
	case rec.Proof != nil:
		return errors.Wrap(ErrAlreadyPublished, h.String())
	case pd.Kind() != rec.Kind:
		return errors.Wrapf(ErrKindMismatch, "context holds %s, got %s", rec.Kind, pd.Kind())
	}
	if err := pd.Verify(); err != nil {
		l.log.Warn().Str("handle", h.String()).Stringer("kind", pd.Kind()).Err(err).Msg("rejected proof")
		return errors.Wrapf(ErrProofRejected, "%s: %v", pd.Kind(), err)
	}
	rec.Proof = proof.Encode(pd)
	if err := l.db.Put(store.Key(prefixContext, h[:]), rec); err != nil {
		return err
	}
	l.log.Debug().Str("handle", h.String()).Int("bytes", pd.Size()).Msg("proof published")
	return nil
}

// CloseContext deletes the context and refunds its rent to rentDestination.
// Only the context's authority may close it.
func (l *Ledger) CloseContext(ctx context.Context, h ContextHandle, authority, rentDestination balance.Address, fresh Freshness) (err error) {
	defer func() { observe("close_context", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkFreshness(fresh); err != nil {
		return err
	}
	rec, err := l.getContext(h)
	if err != nil {
		return err
	}
	if rec.Authority != authority {
		return errors.Wrap(ErrWrongAuthority, h.String())
	}
	refunded, err := l.RentBalance(rentDestination)
	if err != nil {
		return err
	}
	meta := l.meta
	meta.LockedRent -= rec.Rent
	meta.Contexts--

	b := l.db.NewBatch()
	if err := b.Delete(store.Key(prefixContext, h[:])); err != nil {
		b.Abort()
		return err
	}
	if err := b.Put(store.Key(prefixRent, rentDestination[:]), refunded+rec.Rent); err != nil {
		b.Abort()
		return err
	}
	if err := b.Put(metaKey, &meta); err != nil {
		b.Abort()
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}
	l.meta = meta
	openContexts.Dec()
	l.log.Debug().Str("handle", h.String()).Msg("context closed")
	return nil
}

// ReferenceAndCommit executes op with the proofs held by handles. Nothing
// is written unless every check passes.
func (l *Ledger) ReferenceAndCommit(ctx context.Context, op Operation, handles []ContextHandle, fresh Freshness) (receipt *CommitReceipt, err error) {
	defer func() { observe("reference_and_commit", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkFreshness(fresh); err != nil {
		return nil, err
	}
	if size := PayloadSize(op); size > l.cfg.MaxInlinePayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%s payload is %d bytes", op.Kind(), size)
	}
	for _, pd := range op.inlineProofs() {
		if err := pd.Verify(); err != nil {
			return nil, errors.Wrapf(ErrProofRejected, "inline %s: %v", pd.Kind(), err)
		}
	}

	tx := &ledgerTx{l: l, accounts: map[balance.Address]*balance.Account{}}
	seen := map[ContextHandle]bool{}
	var referenced []proof.ProofData
	for _, h := range handles {
		if seen[h] {
			return nil, errors.Wrapf(ErrContextConsumed, "%s referenced twice", h)
		}
		seen[h] = true
		rec, err := l.getContext(h)
		if err != nil {
			return nil, err
		}
		switch {
		case rec.Consumed:
			return nil, errors.Wrap(ErrContextConsumed, h.String())
		case rec.Proof == nil:
			return nil, errors.Wrap(ErrContextEmpty, h.String())
		case rec.Authority != op.Authority():
			return nil, errors.Wrap(ErrWrongAuthority, h.String())
		}
		pd, err := proof.Decode(rec.Proof)
		if err != nil {
			return nil, errors.Wrap(err, "stored proof")
		}
		referenced = append(referenced, pd)
		rec.Consumed = true
		tx.contexts = append(tx.contexts, rec)
	}

	if err := tx.execute(ctx, op, referenced); err != nil {
		l.log.Info().Str("op", string(op.Kind())).Err(err).Msg("operation rejected")
		return nil, err
	}

	env, err := MarshalOperation(op)
	if err != nil {
		return nil, err
	}
	receipt = &CommitReceipt{Slot: l.meta.Slot, Operation: op.Kind(), Signature: l.sign(env.Payload)}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	commitsTotal.WithLabelValues(string(op.Kind())).Inc()
	l.log.Info().
		Str("op", string(op.Kind())).
		Str("authority", op.Authority().String()).
		Int("contexts", len(handles)).
		Uint64("slot", receipt.Slot).
		Msg("operation committed")
	return receipt, nil
}

func (l *Ledger) sign(payload []byte) balance.Address {
	var slot [8]byte
	binary.BigEndian.PutUint64(slot[:], l.meta.Slot)
	h := sha3.New256()
	h.Write(l.meta.Genesis[:])
	h.Write(slot[:])
	h.Write(payload)
	var out balance.Address
	copy(out[:], h.Sum(nil))
	return out
}
