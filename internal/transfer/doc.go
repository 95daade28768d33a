// Package transfer drives a confidential transfer through the non-atomic
// settlement steps:
//
//	Init -> ProofsGenerated -> ContextsPublished -> ValueMoved -> ContextsClosed -> Done
//
// Proofs are generated off the caller's goroutine and checked locally. The
// three proofs are staged in settlement contexts in parallel, referenced by
// a single commit and then closed. A failed commit rolls back by closing
// every context it created. Progress is persisted after each stage so an
// interrupted transfer can be resumed or rolled back later.
package transfer
