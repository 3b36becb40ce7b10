// Package jwt encodes and decodes the engine's signed credentials.
//
// Every token is a standard three-segment JWS whose payload carries a fixed,
// typed claim set discriminated by the "type" claim (access, refresh, reset,
// verify). Decoding always verifies the signature before any claim is
// trusted, then enforces expiry with a small clock-skew leeway, and finally
// rejects tokens presented for the wrong purpose.
//
// Key material is supplied by a [KeyProvider]. [KeyRing] is the default
// provider: it signs with the current key and keeps retired keys verifiable
// for a grace period after [KeyRing.Rotate].
package jwt
