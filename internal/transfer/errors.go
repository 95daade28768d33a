package transfer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
)

var (
	// ErrInsufficientBalance is returned before any settlement call when the
	// amount exceeds the decrypted available balance.
	ErrInsufficientBalance = balance.ErrInsufficientAvailableBalance
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrAlreadyCommitted    = errors.New("transfer already moved value and cannot be rolled back")
	ErrSelfTransfer        = errors.New("source and destination are the same account")
	ErrZeroAmount          = errors.New("transfer amount is zero")
	// ErrCommitUnknown means the commit call failed and the ledger could
	// not be asked whether it landed. Resume settles it later.
	ErrCommitUnknown       = errors.New("transfer commit outcome unknown")
)

// Stage is a point in the transfer state machine.
type Stage string

const (
	StageInit              Stage = "init"
	StageProofsGenerated   Stage = "proofs_generated"
	StageContextsPublished Stage = "contexts_published"
	StageValueMoved        Stage = "value_moved"
	StageContextsClosed    Stage = "contexts_closed"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

// Outcome tells the caller what a failed transfer left behind.
type Outcome string

const (
	// NothingHappened: no lasting ledger effect, safe to retry from scratch.
	NothingHappened Outcome = "nothing_happened"
	// PartiallyCommitted: contexts remain open; run Resume or Rollback,
	// which ask the ledger whether value moved, before retrying.
	PartiallyCommitted Outcome = "partially_committed"
	// CommittedCleanupPending: value moved; only context cleanup is left,
	// which Resume can finish independently.
	CommittedCleanupPending Outcome = "committed_cleanup_pending"
)

// Error reports the stage a transfer failed in and what it left behind.
type Error struct {
	ID      string
	Stage   Stage
	Outcome Outcome
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s failed at %s (%s): %v", e.ID, e.Stage, e.Outcome, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
