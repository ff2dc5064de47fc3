package middleware

import (
	"net/http"

	"github.com/MrEthical07/goSession/session"
)

// RequirePatient admits only patient sessions.
func RequirePatient(src SessionSource) func(http.Handler) http.Handler {
	return RequireRole(src, session.RolePatient)
}

// RequireInstitutional admits only institutional sessions.
func RequireInstitutional(src SessionSource) func(http.Handler) http.Handler {
	return RequireRole(src, session.RoleInstitutional)
}
