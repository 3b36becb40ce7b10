// Package middleware exposes net/http adapters over arkana.Engine.
//
// # Guards
//
//   - [Guard] reads a Bearer token, calls Engine.ValidateAccess, and injects
//     the validated [arkana.AccessResult] into the request context.
//   - [ClientContext] records the caller's IP and User-Agent on the request
//     context so rate limits and audit events can see them.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or touch Redis; every decision is delegated to the engine.
package middleware
