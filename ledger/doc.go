// Package ledger records invalidated token identifiers in a shared store so
// every engine instance observes the same revocation state.
//
// Each token id maps to one entry holding a tagged state: spent (the id was
// consumed by rotation or redemption) or revoked (with a reason). Entries
// never transition back to unspent; they expire passively with a TTL that
// mirrors the remaining lifetime of the token they describe.
//
// Refresh-token families are tracked separately so a whole lineage can be
// revoked at once, and indexed per subject so that every family of a subject
// can be revoked after a password reset.
//
// # Key layout
//
//   - <prefix>:t:<id>        token state ("s" or "r:<reason>")
//   - <prefix>:f:<family>    revoked family marker (value is the reason)
//   - <prefix>:sf:<subject>  set of family ids issued to a subject
package ledger
