// account.go - Per-account confidential balance state.

package balance

import (
	"errors"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

// DefaultMaxPendingCreditCounter bounds unapplied credits when the owner
// does not choose a limit at configuration time.
const DefaultMaxPendingCreditCounter = 65536

const (
	// LimbBits is the width of the low limb of a credit. The high limb
	// holds the remaining HighLimbBits.
	LimbBits = 16
	// HighLimbBits bounds the high limb of a single credit.
	HighLimbBits = 32
	// MaxCreditAmount is the largest amount one deposit or transfer can
	// credit to a pending balance.
	MaxCreditAmount = 1<<(LimbBits+HighLimbBits) - 1
)

// MaxPendingCreditsForWindow returns the largest credit counter for which
// both pending limbs stay below 2^windowBits, so a decoder with that window
// can always read them back. The low limb is bounded by counter·2^16 and the
// high limb by counter·2^32.
func MaxPendingCreditsForWindow(windowBits uint) uint64 {
	if windowBits <= HighLimbBits {
		return 1
	}
	n := uint64(1) << (windowBits - HighLimbBits)
	if n > DefaultMaxPendingCreditCounter {
		n = DefaultMaxPendingCreditCounter
	}
	return n
}

var (
	ErrNotConfigured               = errors.New("account is not configured for confidential balances")
	ErrAlreadyConfigured           = errors.New("account is already configured")
	ErrInsufficientPublicBalance   = errors.New("insufficient public balance")
	ErrMaxPendingCreditCounter     = errors.New("maximum pending credit counter reached")
	ErrCounterMismatch             = errors.New("expected pending credit counter does not match")
	ErrProofMismatch               = errors.New("proof statement does not match account state")
	ErrConfidentialCreditsDisabled = errors.New("account does not accept confidential credits")
	ErrNonZeroBalance              = errors.New("account balance is not zero")
	ErrOverflow                    = errors.New("amount overflow")
	ErrAmountOutOfRange            = errors.New("amount exceeds the largest single credit")
	ErrCounterLimit                = errors.New("pending credit counter limit out of range")
	ErrInvariantViolation          = errors.New("encrypted and decryptable available balances differ")
)

// Status is the confidential configuration state of an account.
type Status uint8

const (
	Unconfigured Status = iota
	Configured
)

func (s Status) String() string {
	if s == Configured {
		return "configured"
	}
	return "unconfigured"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "configured":
		*s = Configured
	case "unconfigured":
		*s = Unconfigured
	default:
		return errors.New("unknown account status " + string(text))
	}
	return nil
}

// Mint describes the token an account holds. Auditor is nil when transfers
// carry no third decrypt handle.
type Mint struct {
	ID       Address               `json:"id"`
	Decimals uint8                 `json:"decimals"`
	Auditor  *encryption.PublicKey `json:"auditor,omitempty"`
}

// Account is the ledger record of one token account.
type Account struct {
	ID    Address `json:"id"`
	Mint  Address `json:"mint"`
	Owner []byte  `json:"owner"`

	Status       Status `json:"status"`
	PublicAmount uint64 `json:"public_amount"`

	ElGamalPubkey        encryption.PublicKey   `json:"elgamal_pubkey"`
	PendingLo            encryption.Ciphertext  `json:"pending_lo"`
	PendingHi            encryption.Ciphertext  `json:"pending_hi"`
	Available            encryption.Ciphertext  `json:"available"`
	DecryptableAvailable encryption.AeCiphertext `json:"decryptable_available"`

	PendingCreditCounter         uint64 `json:"pending_credit_counter"`
	MaxPendingCreditCounter      uint64 `json:"max_pending_credit_counter"`
	ExpectedPendingCreditCounter uint64 `json:"expected_pending_credit_counter"`
	ActualPendingCreditCounter   uint64 `json:"actual_pending_credit_counter"`

	AllowConfidentialCredits    bool `json:"allow_confidential_credits"`
	AllowNonConfidentialCredits bool `json:"allow_non_confidential_credits"`
}

// NewAccount returns an unconfigured account with a zero public balance.
func NewAccount(id, mint Address, owner []byte) *Account {
	return &Account{
		ID:                          id,
		Mint:                        mint,
		Owner:                       append([]byte(nil), owner...),
		AllowNonConfidentialCredits: true,
	}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.Owner = append([]byte(nil), a.Owner...)
	return &c
}

// PendingBalance returns the pending limbs combined into one ciphertext.
func (a *Account) PendingBalance() encryption.Ciphertext {
	return encryption.CombineLimbs(a.PendingLo, a.PendingHi, LimbBits)
}

func (a *Account) requireConfigured() error {
	if a.Status != Configured {
		return ErrNotConfigured
	}
	return nil
}

// SplitAmount splits amount into its low 16-bit limb and the high remainder.
func SplitAmount(amount uint64) (lo, hi uint64) {
	return amount & (1<<LimbBits - 1), amount >> LimbBits
}

// CombineAmount is the inverse of SplitAmount. ok is false when the result
// does not fit in 64 bits.
func CombineAmount(lo, hi uint64) (amount uint64, ok bool) {
	if hi > (^uint64(0)-lo)>>LimbBits {
		return 0, false
	}
	return lo + hi<<LimbBits, true
}
