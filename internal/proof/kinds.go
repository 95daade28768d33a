// kinds.go - Proof kinds, the ProofData variant and its wire codec.

package proof

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

// MaxInlinePayload is the largest payload a single settlement step can carry.
// Proofs that do not fit travel through a settlement context.
const MaxInlinePayload = 1232

var multiExpConfig = ecc.MultiExpConfig{}

// Kind tags a ProofData variant.
type Kind uint8

const (
	KindPubkeyValidity Kind = iota + 1
	KindZeroCiphertext
	KindCiphertextCiphertextEquality
	KindCiphertextCommitmentEquality
	KindGroupedCiphertext2HandlesValidity
	KindGroupedCiphertext3HandlesValidity
	KindBatchedGroupedCiphertext2HandlesValidity
	KindBatchedGroupedCiphertext3HandlesValidity
	KindBatchedRangeProofU64
	KindBatchedRangeProofU128
	KindBatchedRangeProofU256
)

var kindNames = map[Kind]string{
	KindPubkeyValidity:                           "PubkeyValidity",
	KindZeroCiphertext:                           "ZeroCiphertext",
	KindCiphertextCiphertextEquality:             "CiphertextCiphertextEquality",
	KindCiphertextCommitmentEquality:             "CiphertextCommitmentEquality",
	KindGroupedCiphertext2HandlesValidity:        "GroupedCiphertext2HandlesValidity",
	KindGroupedCiphertext3HandlesValidity:        "GroupedCiphertext3HandlesValidity",
	KindBatchedGroupedCiphertext2HandlesValidity: "BatchedGroupedCiphertext2HandlesValidity",
	KindBatchedGroupedCiphertext3HandlesValidity: "BatchedGroupedCiphertext3HandlesValidity",
	KindBatchedRangeProofU64:                     "BatchedRangeProofU64",
	KindBatchedRangeProofU128:                    "BatchedRangeProofU128",
	KindBatchedRangeProofU256:                    "BatchedRangeProofU256",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k names a known proof kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ProofData is a public statement together with its proof.
// The set of implementations is closed to this package.
type ProofData interface {
	Kind() Kind
	// Verify checks the proof against the statement it carries.
	Verify() error
	// Bytes serializes context ‖ proof.
	Bytes() []byte
	// Size is len(Bytes()).
	Size() int

	isProofData()
}

// Encode serializes pd behind its kind tag.
func Encode(pd ProofData) []byte {
	return append([]byte{byte(pd.Kind())}, pd.Bytes()...)
}

// Decode parses data produced by Encode.
func Decode(data []byte) (ProofData, error) {
	if len(data) == 0 {
		return nil, ErrMalformedProof
	}
	return DecodeKind(Kind(data[0]), data[1:])
}

// DecodeKind parses the context ‖ proof bytes of the given kind.
func DecodeKind(kind Kind, data []byte) (ProofData, error) {
	switch kind {
	case KindPubkeyValidity:
		return decodePubkeyValidity(data)
	case KindZeroCiphertext:
		return decodeZeroCiphertext(data)
	case KindCiphertextCiphertextEquality:
		return decodeCiphertextCiphertextEquality(data)
	case KindCiphertextCommitmentEquality:
		return decodeCiphertextCommitmentEquality(data)
	case KindGroupedCiphertext2HandlesValidity:
		return decodeGroupedValidity(data, 2)
	case KindGroupedCiphertext3HandlesValidity:
		return decodeGroupedValidity(data, 3)
	case KindBatchedGroupedCiphertext2HandlesValidity:
		return decodeBatchedGroupedValidity(data, 2)
	case KindBatchedGroupedCiphertext3HandlesValidity:
		return decodeBatchedGroupedValidity(data, 3)
	case KindBatchedRangeProofU64:
		return decodeBatchedRange(data, 64)
	case KindBatchedRangeProofU128:
		return decodeBatchedRange(data, 128)
	case KindBatchedRangeProofU256:
		return decodeBatchedRange(data, 256)
	default:
		return nil, ErrUnknownKind
	}
}

// verified runs the post-generation gate.
func verified[T ProofData](pd T) (T, error) {
	if err := pd.Verify(); err != nil {
		var zero T
		return zero, ErrProofGenerationFault
	}
	return pd, nil
}

type writer struct {
	buf []byte
}

func (w *writer) point(p *bn254.G1Affine) {
	w.buf = append(w.buf, encryption.EncodePoint(p)...)
}

func (w *writer) scalar(s *fr.Element) {
	w.buf = append(w.buf, encryption.EncodeScalar(s)...)
}

func (w *writer) u8(b byte) {
	w.buf = append(w.buf, b)
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrMalformedProof
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) point() bn254.G1Affine {
	b := r.take(encryption.PointSize)
	if b == nil {
		return bn254.G1Affine{}
	}
	p, err := encryption.DecodePoint(b)
	if err != nil {
		r.err = ErrMalformedProof
	}
	return p
}

func (r *reader) scalar() fr.Element {
	b := r.take(encryption.ScalarSize)
	if b == nil {
		return fr.Element{}
	}
	s, err := encryption.DecodeScalar(b)
	if err != nil {
		r.err = ErrMalformedProof
	}
	return s
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) ciphertext() encryption.Ciphertext {
	c := r.point()
	d := r.point()
	return encryption.Ciphertext{
		Commitment: encryption.Commitment{Point: c},
		Handle:     encryption.DecryptHandle{Point: d},
	}
}

func (r *reader) finish() error {
	if r.err == nil && len(r.buf) != 0 {
		return ErrMalformedProof
	}
	return r.err
}

func (w *writer) ciphertext(ct *encryption.Ciphertext) {
	w.point(&ct.Commitment.Point)
	w.point(&ct.Handle.Point)
}

func mul(p *bn254.G1Affine, s *fr.Element) bn254.G1Affine {
	return encryption.MulPoint(p, s)
}

// msm computes Σ scalars[i]·points[i].
func msm(points []bn254.G1Affine, scalars []fr.Element) bn254.G1Affine {
	var r bn254.G1Affine
	if _, err := r.MultiExp(points, scalars, multiExpConfig); err != nil {
		// only reachable on a length mismatch, which callers rule out
		panic(err)
	}
	return r
}
