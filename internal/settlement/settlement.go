package settlement

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrMintNotFound     = errors.New("mint not found")
	ErrMintExists       = errors.New("mint already exists")
	ErrMintMismatch     = errors.New("accounts belong to different mints")
	ErrContextExists    = errors.New("settlement context already exists")
	ErrContextNotFound  = errors.New("settlement context not found")
	ErrContextConsumed  = errors.New("settlement context already referenced by a commit")
	ErrContextEmpty     = errors.New("settlement context holds no proof")
	ErrAlreadyPublished = errors.New("proof already published to context")
	ErrKindMismatch     = errors.New("proof kind does not match context")
	ErrWrongAuthority   = errors.New("context authority does not match the signer")
	ErrMissingProof     = errors.New("operation is missing a required proof")
	ErrProofRejected    = errors.New("proof failed ledger verification")
	ErrStaleFreshness   = errors.New("freshness token expired")
	ErrPayloadTooLarge  = errors.New("inline payload exceeds the transaction limit")
	ErrThrottled        = errors.New("submission rate limit exceeded")
	ErrUnknownOperation = errors.New("unknown operation")
)

// ContextHandle names a settlement context.
type ContextHandle = balance.Address

// Freshness is a recent ledger reference. Steps signed against a token
// older than the ledger window fail with ErrStaleFreshness.
type Freshness struct {
	Slot uint64          `json:"slot"`
	Hash balance.Address `json:"hash"`
}

// CreateContextRequest describes a context to allocate. A zero Handle lets
// the ledger pick one; a caller-chosen handle makes creation idempotent.
type CreateContextRequest struct {
	Handle    ContextHandle   `json:"handle"`
	Kind      proof.Kind      `json:"kind"`
	Authority balance.Address `json:"authority"`
}

// CommitReceipt records a committed operation.
type CommitReceipt struct {
	Slot      uint64          `json:"slot"`
	Operation OperationKind   `json:"operation"`
	Signature balance.Address `json:"signature"`
}

// ContextInfo is the public state of a settlement context.
type ContextInfo struct {
	Handle    ContextHandle   `json:"handle"`
	Kind      proof.Kind      `json:"kind"`
	Authority balance.Address `json:"authority"`
	Published bool            `json:"published"`
	Consumed  bool            `json:"consumed"`
}

// AccountReader reads ledger state.
type AccountReader interface {
	GetAccount(ctx context.Context, id balance.Address) (*balance.Account, error)
	GetMint(ctx context.Context, id balance.Address) (*balance.Mint, error)
	GetContext(ctx context.Context, handle ContextHandle) (*ContextInfo, error)
}

// Settlement is the multi-step, non-atomic commit interface.
type Settlement interface {
	Freshness(ctx context.Context) (Freshness, error)
	CreateContext(ctx context.Context, req CreateContextRequest, fresh Freshness) (ContextHandle, error)
	PublishProof(ctx context.Context, handle ContextHandle, pd proof.ProofData, fresh Freshness) error
	ReferenceAndCommit(ctx context.Context, op Operation, handles []ContextHandle, fresh Freshness) (*CommitReceipt, error)
	// CloseContext must be signed by the authority the context was created
	// for; the rent goes to rentDestination.
	CloseContext(ctx context.Context, handle ContextHandle, authority, rentDestination balance.Address, fresh Freshness) error
}

// Ledger implements both.
var (
	_ Settlement    = (*Ledger)(nil)
	_ AccountReader = (*Ledger)(nil)
)
