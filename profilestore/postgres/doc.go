// Package postgres is the durable [arkana.ProfileStore] on PostgreSQL.
//
// Profiles live in a single table keyed by a ULID with a case-insensitive
// unique index on the email address. The schema ships as embedded goose
// migrations applied by [Migrate]. Lookups that match nothing return
// [arkana.ErrProfileNotFound]; a unique violation on insert returns
// [arkana.ErrDuplicateEmail]. Every other failure is wrapped with an oops
// code and is treated by the engine as the store being unavailable.
package postgres
