// progress.go - Persisted transfer progress.

package transfer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
	"github.com/gitteri/confidential-balances-exploration/internal/settlement"
	"github.com/gitteri/confidential-balances-exploration/internal/store"
)

const prefixProgress = "transfer"

// ContextState tracks one settlement context of a transfer.
type ContextState struct {
	Handle    settlement.ContextHandle `json:"handle"`
	Kind      proof.Kind               `json:"kind"`
	Created   bool                     `json:"created"`
	Published bool                     `json:"published"`
	Closed    bool                     `json:"closed"`
}

// Progress is the durable record of one transfer. It holds no secrets.
type Progress struct {
	ID          uuid.UUID                 `json:"id"`
	Source      balance.Address           `json:"source"`
	Destination balance.Address           `json:"destination"`
	Amount      uint64                    `json:"amount"`
	Stage       Stage                     `json:"stage"`
	FailedStage Stage                     `json:"failed_stage,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Contexts    []ContextState            `json:"contexts,omitempty"`
	Receipt     *settlement.CommitReceipt `json:"receipt,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`

	// ExpectedSourceAvailable is the source's available balance once the
	// commit lands. It is saved before the commit is sent.
	ExpectedSourceAvailable *encryption.Ciphertext `json:"expected_source_available,omitempty"`
}

// Handles returns the context handles in proof order.
func (p *Progress) Handles() []settlement.ContextHandle {
	out := make([]settlement.ContextHandle, len(p.Contexts))
	for i, c := range p.Contexts {
		out[i] = c.Handle
	}
	return out
}

// Outstanding reports whether any created context is still open.
func (p *Progress) Outstanding() bool {
	for _, c := range p.Contexts {
		if c.Created && !c.Closed {
			return true
		}
	}
	return false
}

// Finished reports whether the transfer needs no further work.
func (p *Progress) Finished() bool {
	return p.Stage == StageDone || (p.Stage == StageFailed && !p.Outstanding())
}

// Store persists Progress records keyed by transfer ID.
type Store struct {
	db *store.DB
}

// NewStore wraps db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Save writes p, stamping UpdatedAt.
func (s *Store) Save(p *Progress) error {
	p.UpdatedAt = time.Now().UTC()
	return errors.Wrapf(s.db.Put(store.Key(prefixProgress, p.ID[:]), p), "save transfer %s", p.ID)
}

// Load reads the progress of transfer id.
func (s *Store) Load(id uuid.UUID) (*Progress, error) {
	var p Progress
	if err := s.db.Get(store.Key(prefixProgress, id[:]), &p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrap(ErrTransferNotFound, id.String())
		}
		return nil, err
	}
	return &p, nil
}

// Unfinished lists transfers that still need Resume or Rollback.
func (s *Store) Unfinished() ([]*Progress, error) {
	var out []*Progress
	err := s.db.Scan(prefixProgress, func(_, value []byte) error {
		var p Progress
		if err := json.Unmarshal(value, &p); err != nil {
			return errors.Wrap(err, "decode transfer")
		}
		if !p.Finished() {
			out = append(out, &p)
		}
		return nil
	})
	return out, err
}
