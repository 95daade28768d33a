// Package encryption implements the encryption layer of the confidential balance protocol.
//
// Overview:
//   - Twisted ElGamal encryption of 64-bit amounts over BN254 G1 (additively homomorphic)
//   - Pedersen commitments sharing the ElGamal commitment component
//   - Grouped ciphertexts: one commitment, one decryption handle per recipient key
//   - A symmetric authenticated cipher (AES-128-GCM) for fast owner-side viewing
//   - Deterministic key derivation from a signing capability
//
// Security Model:
//   - Encryption of x under P = s⁻¹·H with opening r is (x·G + r·H, r·P)
//   - The commitment component x·G + r·H is a Pedersen commitment; proofs in
//     package proof bridge ciphertexts and commitments through shared openings
//   - Decryption recovers x·G; recovering x needs a bounded discrete-log search,
//     so encrypted amounts are kept within the Decoder's window
//   - All randomness comes from crypto/rand through gnark-crypto's SetRandom
//
// Usage:
//   - Build one Decoder at process start with NewDecoder and pass it to every
//     decryption call. There is no hidden global decoding table.
//   - Secret material (SecretKey, Opening, AeKey) exposes Zeroize; callers defer it.
package encryption
