package proof

import "errors"

var (
	// ErrInvalidKey is returned when a keypair cannot back a validity proof.
	ErrInvalidKey = errors.New("invalid elgamal keypair")
	// ErrNotZero is returned when a ciphertext does not encrypt zero.
	ErrNotZero = errors.New("ciphertext does not encrypt zero")
	// ErrMismatchedAmount is returned when equality witnesses encode different amounts.
	ErrMismatchedAmount = errors.New("ciphertexts or commitment encode different amounts")
	// ErrInvalidEncoding is returned when a grouped ciphertext is not an encryption of the witness.
	ErrInvalidEncoding = errors.New("grouped ciphertext does not match the witness")
	// ErrOutOfRange is returned when an amount does not fit its declared bit length.
	ErrOutOfRange = errors.New("amount exceeds its declared bit length")
	// ErrLengthMismatch is returned when range proof inputs disagree in length or bit budget.
	ErrLengthMismatch = errors.New("range proof inputs are inconsistent")
	// ErrProofGenerationFault is returned when a freshly generated proof fails verification.
	ErrProofGenerationFault = errors.New("generated proof failed verification")

	// ErrVerification is returned by Verify when a proof does not check out.
	ErrVerification = errors.New("proof verification failed")
	// ErrMalformedProof is returned when proof bytes cannot be decoded.
	ErrMalformedProof = errors.New("malformed proof data")
	// ErrUnknownKind is returned for an unrecognised proof kind tag.
	ErrUnknownKind = errors.New("unknown proof kind")
)
