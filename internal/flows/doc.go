// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunConfirmPasswordReset, etc.)
// accepts the shared [Deps] and returns a result carrying either the success
// payload or a classified [FailureKind]. The root package maps failure kinds
// to its public error taxonomy, audit events and metrics.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the token codec, revocation ledger,
// rate limiter, profile store and delivery collaborator. They do NOT own any
// of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import arkana (to avoid import cycles).
//   - Log or return raw secrets or token strings in failure paths.
package flows
