// transcript.go - Fiat-Shamir transcript.
//
// Every message is absorbed as len(label) ‖ label ‖ len(msg) ‖ msg into a
// running SHA3-512 state. Challenges are the reduced digest, which is then
// absorbed back so consecutive challenges differ.

package proof

import (
	"encoding/binary"
	"hash"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/sha3"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

const transcriptProtocol = "confidential-balances-v1"

// Transcript accumulates the public statement and prover messages.
type Transcript struct {
	h hash.Hash
}

// NewTranscript starts a transcript under a domain tag.
func NewTranscript(domain string) *Transcript {
	t := &Transcript{h: sha3.New512()}
	t.AppendMessage("protocol", []byte(transcriptProtocol))
	t.AppendMessage("domain", []byte(domain))
	return t
}

// AppendMessage absorbs a labelled byte string.
func (t *Transcript) AppendMessage(label string, msg []byte) {
	var l [8]byte
	binary.LittleEndian.PutUint64(l[:], uint64(len(label)))
	t.h.Write(l[:])
	t.h.Write([]byte(label))
	binary.LittleEndian.PutUint64(l[:], uint64(len(msg)))
	t.h.Write(l[:])
	t.h.Write(msg)
}

// AppendPoint absorbs a compressed point.
func (t *Transcript) AppendPoint(label string, p *bn254.G1Affine) {
	t.AppendMessage(label, encryption.EncodePoint(p))
}

// AppendScalar absorbs a scalar.
func (t *Transcript) AppendScalar(label string, s *fr.Element) {
	t.AppendMessage(label, encryption.EncodeScalar(s))
}

// AppendUint64 absorbs an integer.
func (t *Transcript) AppendUint64(label string, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	t.AppendMessage(label, b[:])
}

// ChallengeScalar squeezes a challenge scalar.
func (t *Transcript) ChallengeScalar(label string) fr.Element {
	t.AppendMessage("challenge", []byte(label))
	digest := t.h.Sum(nil)
	c := encryption.ScalarFromWideBytes(digest)
	t.AppendMessage(label, digest)
	return c
}
