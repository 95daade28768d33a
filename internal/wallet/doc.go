// Package wallet is the account holder's client. It derives the account's
// encryption keys from a signing key, builds proofs locally and submits
// operations to a settlement layer. Secret keys never leave the wallet.
package wallet
