// Package middleware exposes net/http guards that scope record handlers to
// the identity held by a goSession.Manager.
//
// # Guards
//
//   - [Guard] admits any signed-in identity.
//   - [RequireRole], [RequirePatient], [RequireInstitutional] add a role check.
//
// Each guard reads the manager's current session and injects it into the
// request context, where handlers retrieve it with
// goSession.SessionFromContext.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into session lookups. It does not
// sign in, refresh, or validate tokens; the manager owns that state.
package middleware
