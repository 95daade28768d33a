// Package settlement is the boundary to the ledger that owns account state.
//
// Proofs too large to ride inline with an operation are staged in
// settlement contexts: a context is created, a proof is published (and
// verified) into it, an operation references it while committing, and the
// context is closed to release its rent. Steps against the ledger carry a
// freshness token; tokens older than the ledger's window are rejected.
//
// Ledger is the in-process implementation backed by pebble. Throttled
// limits submissions per account, and Server/Client carry the interface
// over JSON and HTTP.
package settlement
