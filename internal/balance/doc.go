// Package balance models the confidential balance of one account.
//
// An account holds a public amount, a pending balance split into a 16-bit
// and a 32-bit limb ciphertext per credit, an available ciphertext with its
// AE mirror, and the pending credit counter that guards ApplyPending against
// front-running. The counter limit keeps the summed limbs decodable.
//
// Ledger-side transitions never decrypt. They move ciphertexts
// homomorphically and check that the statements of already verified proofs
// match the ciphertexts they act on. Owner-side helpers (Breakdown,
// CheckInvariant) decrypt with the account's keys.
package balance
