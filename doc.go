// Package arkana is a credential lifecycle engine: registration, login,
// short-lived signed access tokens, rotating refresh tokens with family-wide
// reuse detection, email verification, password reset and logout.
//
// Engine methods are safe to call from many goroutines and from many
// processes at once. All state that must agree across instances lives in a
// shared Redis (the revocation ledger and the rate limiter) or in the
// caller's [ProfileStore]; the engine itself keeps none.
//
// # Architecture boundaries
//
// arkana is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types. Flow orchestration, rate limiting,
// audit dispatch and metric storage live under internal/. Token encoding is
// in package jwt, hashing in package password and the ledger in package
// ledger.
//
// # Failure policy
//
// Every security-relevant check fails closed: when the ledger or limiter
// cannot be reached the operation returns [ErrStoreUnavailable] rather than
// proceeding. Best-effort side effects (delivery, hash upgrade, audit) never
// fail the operation that triggered them.
package arkana
