// authenc.go - Authenticated symmetric encryption of amounts (owner view).
//
// The AE form lets the owner read its available balance without a
// discrete-log search. AES-128-GCM, 12-byte nonce, 8-byte big-endian amount.

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
)

const (
	// AeKeySize is the length of an AE key.
	AeKeySize = 16
	// AeNonceSize is the GCM nonce length.
	AeNonceSize = 12
	// AeCiphertextSize is nonce ‖ sealed amount ‖ tag.
	AeCiphertextSize = AeNonceSize + 8 + 16
)

var (
	// ErrAuthFailure is returned when an AE ciphertext fails authentication.
	ErrAuthFailure = errors.New("authenticated decryption failed")
)

// AeKey is a symmetric key for the decryptable balance.
type AeKey struct {
	key [AeKeySize]byte
}

// AeCiphertext is an authenticated encryption of an amount.
type AeCiphertext [AeCiphertextSize]byte

// NewAeKey draws a random AE key.
func NewAeKey() (*AeKey, error) {
	k := &AeKey{}
	if _, err := rand.Read(k.key[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// AeKeyFromSeed builds a key from exactly 16 bytes of seed.
func AeKeyFromSeed(seed []byte) (*AeKey, error) {
	if len(seed) != AeKeySize {
		return nil, ErrInvalidSeed
	}
	k := &AeKey{}
	copy(k.key[:], seed)
	return k, nil
}

func (k *AeKey) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals amount under a fresh random nonce.
func (k *AeKey) Encrypt(amount uint64) (AeCiphertext, error) {
	var out AeCiphertext
	gcm, err := k.aead()
	if err != nil {
		return out, err
	}
	if _, err := rand.Read(out[:AeNonceSize]); err != nil {
		return out, err
	}
	var pt [8]byte
	binary.BigEndian.PutUint64(pt[:], amount)
	gcm.Seal(out[AeNonceSize:AeNonceSize], out[:AeNonceSize], pt[:], nil)
	return out, nil
}

// Decrypt opens ct. Any modification of ct yields ErrAuthFailure.
func (k *AeKey) Decrypt(ct AeCiphertext) (uint64, error) {
	gcm, err := k.aead()
	if err != nil {
		return 0, err
	}
	pt, err := gcm.Open(nil, ct[:AeNonceSize], ct[AeNonceSize:], nil)
	if err != nil || len(pt) != 8 {
		return 0, ErrAuthFailure
	}
	return binary.BigEndian.Uint64(pt), nil
}

// Zeroize wipes the key.
func (k *AeKey) Zeroize() {
	for i := range k.key {
		k.key[i] = 0
	}
}

// AeCiphertextFromBytes copies a 36-byte AE ciphertext.
func AeCiphertextFromBytes(b []byte) (AeCiphertext, error) {
	var ct AeCiphertext
	if len(b) != AeCiphertextSize {
		return ct, ErrInvalidCiphertext
	}
	copy(ct[:], b)
	return ct, nil
}

// MarshalText implements encoding.TextMarshaler.
func (ct AeCiphertext) MarshalText() ([]byte, error) {
	return marshalBase64(ct[:]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ct *AeCiphertext) UnmarshalText(text []byte) error {
	b, err := unmarshalBase64(text)
	if err != nil {
		return err
	}
	v, err := AeCiphertextFromBytes(b)
	if err != nil {
		return err
	}
	*ct = v
	return nil
}
