// operation.go - Value-moving operations committed through ReferenceAndCommit.

package settlement

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
)

// OperationKind tags an Operation variant.
type OperationKind string

const (
	OpCreateMint    OperationKind = "create_mint"
	OpCreateAccount OperationKind = "create_account"
	OpMintTo        OperationKind = "mint_to"
	OpConfigure     OperationKind = "configure"
	OpDeposit       OperationKind = "deposit"
	OpApplyPending  OperationKind = "apply_pending"
	OpWithdraw      OperationKind = "withdraw"
	OpTransfer      OperationKind = "transfer"
	OpEmptyAccount  OperationKind = "empty_account"
)

// operationOverhead approximates the fixed part of a ledger transaction
// (signature, account keys, instruction header).
const operationOverhead = 160

// Operation is one ledger instruction. Proof fields left nil must be
// supplied through referenced contexts.
type Operation interface {
	Kind() OperationKind
	// Authority is the account whose owner signs the operation. Contexts
	// referenced by the operation must be owned by it.
	Authority() balance.Address
	inlineProofs() []proof.ProofData
}

// CreateMintOp registers a mint.
type CreateMintOp struct {
	Mint balance.Mint `json:"mint"`
}

// CreateAccountOp opens an unconfigured token account.
type CreateAccountOp struct {
	Account balance.Address `json:"account"`
	Mint    balance.Address `json:"mint"`
	Owner   []byte          `json:"owner"`
}

// MintToOp credits a public balance.
type MintToOp struct {
	Account balance.Address `json:"account"`
	Amount  uint64          `json:"amount"`
}

// ConfigureOp enables confidential balances on an account.
type ConfigureOp struct {
	Account                 balance.Address                `json:"account"`
	Proof                   *proof.PubkeyValidityProofData `json:"proof,omitempty"`
	Decryptable             encryption.AeCiphertext        `json:"decryptable"`
	MaxPendingCreditCounter uint64                         `json:"max_pending_credit_counter"`
}

// DepositOp moves public balance into the pending balance.
type DepositOp struct {
	Account balance.Address `json:"account"`
	Amount  uint64          `json:"amount"`
}

// ApplyPendingOp folds pending into available.
type ApplyPendingOp struct {
	Account         balance.Address         `json:"account"`
	ExpectedCounter uint64                  `json:"expected_counter"`
	NewDecryptable  encryption.AeCiphertext `json:"new_decryptable"`
}

// WithdrawOp moves available balance back to the public balance.
type WithdrawOp struct {
	Account        balance.Address                              `json:"account"`
	Amount         uint64                                       `json:"amount"`
	NewDecryptable encryption.AeCiphertext                      `json:"new_decryptable"`
	Equality       *proof.CiphertextCommitmentEqualityProofData `json:"equality,omitempty"`
	Range          *proof.BatchedRangeProofData                 `json:"range,omitempty"`
}

// TransferOp moves a confidential amount between two accounts of one mint.
type TransferOp struct {
	Source               balance.Address                              `json:"source"`
	Destination          balance.Address                              `json:"destination"`
	NewSourceDecryptable encryption.AeCiphertext                      `json:"new_source_decryptable"`
	Equality             *proof.CiphertextCommitmentEqualityProofData `json:"equality,omitempty"`
	Validity             *proof.BatchedGroupedValidityProofData       `json:"validity,omitempty"`
	Range                *proof.BatchedRangeProofData                 `json:"range,omitempty"`
}

// EmptyAccountOp proves a zero balance and removes the account.
type EmptyAccountOp struct {
	Account       balance.Address                `json:"account"`
	ZeroAvailable *proof.ZeroCiphertextProofData `json:"zero_available,omitempty"`
	ZeroPending   *proof.ZeroCiphertextProofData `json:"zero_pending,omitempty"`
}

func (*CreateMintOp) Kind() OperationKind    { return OpCreateMint }
func (*CreateAccountOp) Kind() OperationKind { return OpCreateAccount }
func (*MintToOp) Kind() OperationKind        { return OpMintTo }
func (*ConfigureOp) Kind() OperationKind     { return OpConfigure }
func (*DepositOp) Kind() OperationKind       { return OpDeposit }
func (*ApplyPendingOp) Kind() OperationKind  { return OpApplyPending }
func (*WithdrawOp) Kind() OperationKind      { return OpWithdraw }
func (*TransferOp) Kind() OperationKind      { return OpTransfer }
func (*EmptyAccountOp) Kind() OperationKind  { return OpEmptyAccount }

func (op *CreateMintOp) Authority() balance.Address    { return op.Mint.ID }
func (op *CreateAccountOp) Authority() balance.Address { return op.Account }
func (op *MintToOp) Authority() balance.Address        { return op.Account }
func (op *ConfigureOp) Authority() balance.Address     { return op.Account }
func (op *DepositOp) Authority() balance.Address       { return op.Account }
func (op *ApplyPendingOp) Authority() balance.Address  { return op.Account }
func (op *WithdrawOp) Authority() balance.Address      { return op.Account }
func (op *TransferOp) Authority() balance.Address      { return op.Source }
func (op *EmptyAccountOp) Authority() balance.Address  { return op.Account }

func (*CreateMintOp) inlineProofs() []proof.ProofData    { return nil }
func (*CreateAccountOp) inlineProofs() []proof.ProofData { return nil }
func (*MintToOp) inlineProofs() []proof.ProofData        { return nil }
func (*DepositOp) inlineProofs() []proof.ProofData       { return nil }
func (*ApplyPendingOp) inlineProofs() []proof.ProofData  { return nil }

func (op *ConfigureOp) inlineProofs() []proof.ProofData {
	return collect(op.Proof)
}

func (op *WithdrawOp) inlineProofs() []proof.ProofData {
	return collect(op.Equality, op.Range)
}

func (op *TransferOp) inlineProofs() []proof.ProofData {
	return collect(op.Equality, op.Validity, op.Range)
}

func (op *EmptyAccountOp) inlineProofs() []proof.ProofData {
	return collect(op.ZeroAvailable, op.ZeroPending)
}

// collect drops nil entries. Typed nil pointers are filtered by type.
func collect(pds ...proof.ProofData) []proof.ProofData {
	var out []proof.ProofData
	for _, pd := range pds {
		switch v := pd.(type) {
		case *proof.PubkeyValidityProofData:
			if v == nil {
				continue
			}
		case *proof.ZeroCiphertextProofData:
			if v == nil {
				continue
			}
		case *proof.CiphertextCommitmentEqualityProofData:
			if v == nil {
				continue
			}
		case *proof.BatchedGroupedValidityProofData:
			if v == nil {
				continue
			}
		case *proof.BatchedRangeProofData:
			if v == nil {
				continue
			}
		case nil:
			continue
		}
		out = append(out, pd)
	}
	return out
}

// PayloadSize is the serialized size of op with its inline proofs.
func PayloadSize(op Operation) int {
	n := operationOverhead
	for _, pd := range op.inlineProofs() {
		n += 1 + pd.Size()
	}
	return n
}

// FitsInline reports whether proofs of the given sizes can ride inline
// with an operation.
func FitsInline(proofSizes ...int) bool {
	n := operationOverhead
	for _, s := range proofSizes {
		n += 1 + s
	}
	return n <= proof.MaxInlinePayload
}

// Envelope is the tagged wire form of an Operation.
type Envelope struct {
	Type    OperationKind   `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalOperation wraps op in an Envelope.
func MarshalOperation(op Operation) (Envelope, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "encode operation")
	}
	return Envelope{Type: op.Kind(), Payload: payload}, nil
}

// UnmarshalOperation reverses MarshalOperation.
func UnmarshalOperation(env Envelope) (Operation, error) {
	var op Operation
	switch env.Type {
	case OpCreateMint:
		op = &CreateMintOp{}
	case OpCreateAccount:
		op = &CreateAccountOp{}
	case OpMintTo:
		op = &MintToOp{}
	case OpConfigure:
		op = &ConfigureOp{}
	case OpDeposit:
		op = &DepositOp{}
	case OpApplyPending:
		op = &ApplyPendingOp{}
	case OpWithdraw:
		op = &WithdrawOp{}
	case OpTransfer:
		op = &TransferOp{}
	case OpEmptyAccount:
		op = &EmptyAccountOp{}
	default:
		return nil, errors.Wrapf(ErrUnknownOperation, "type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, op); err != nil {
		return nil, errors.Wrapf(err, "decode %s", env.Type)
	}
	return op, nil
}
