// Package proof implements the zero-knowledge proofs of the confidential balance protocol.
//
// Overview:
//   - Sigma protocols made non-interactive with a SHA3 Fiat-Shamir transcript:
//     public key validity, zero ciphertext, ciphertext-ciphertext equality,
//     ciphertext-commitment equality and grouped ciphertext validity
//     (single and batched, 2 or 3 handles)
//   - Aggregated Bulletproofs range proofs over a bit-length partition of
//     64, 128 or 256 bits with a logarithmic inner-product argument
//
// Every proof is carried as a ProofData value: the public statement (context)
// plus the proof bytes. ProofData is a closed set of kinds; Encode and Decode
// move any kind across the wire behind a one-byte kind tag.
//
// Constructors verify what they produce. A proof that fails its own check is
// reported as ErrProofGenerationFault and must never be published.
package proof
