// Package token encodes and decodes the compact three-segment credential token that
// proves an authenticated session.
//
// # Architecture boundaries
//
// The package is pure: no I/O, no clocks of its own, no shared mutable state. Every
// [Codec] is safe for concurrent use. Callers pass the current time into [IsExpired]
// and [Validate].
//
// Two codecs ship with the package. [PlaceholderCodec] reproduces the portal's
// reversible demo format (base64 JSON header, base64 JSON claims, literal signature
// placeholder). [JWTCodec] signs and verifies with golang-jwt and is the drop-in for
// production deployments; the session manager only ever sees the [Codec] interface.
//
// # What this package must NOT do
//
//   - Import goSession, session, or gateway (no upward imports).
//   - Treat a token that fails structural checks as anything but absent.
package token
