// Package session holds the client-side session model and the durable
// credential stores that persist the bearer token between runs.
//
// # Credential stores
//
// A [CredentialStore] keeps exactly one token under a single well-known key.
// Three implementations are provided: [MemoryStore] for tests and ephemeral
// processes, [RedisStore] for shared state across processes, and
// [SQLiteStore] for a local on-disk file.
//
// # Architecture boundaries
//
// This package owns the [Session], [Identity], and [Profile] model. It does
// NOT decide when a session is valid or drive state transitions; those
// responsibilities belong to the Manager.
//
// # What this package must NOT do
//
//   - Import goSession, gateway, or internal packages (no upward imports).
//   - Interpret token signatures; claims arrive already decoded.
//   - Store secrets other than the bearer token itself.
package session
