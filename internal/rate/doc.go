// Package rate implements the sliding-window limiter consulted before any
// credential check.
//
// # Window semantics
//
// Each (action, key) pair owns a Redis sorted set of attempt timestamps.
// A single Lua script trims entries older than the window, counts what is
// left, and records the new attempt only when it fits under the limit.
// Denied attempts are not recorded, so a caller that backs off is let in
// again once the oldest counted attempt leaves the window.
//
// Key layout: <prefix>:rl:<action>:<sha256(key)>
//
// # What this package must NOT do
//
//   - Decide which key an operation is limited on (the flows do that).
//   - Map decisions to the public error taxonomy.
package rate
