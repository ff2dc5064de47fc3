package session

import (
	"maps"

	"github.com/MrEthical07/goSession/token"
)

// Roles known to the built-in entry points.
const (
	RolePatient       = "patient"
	RoleInstitutional = "hospital"
)

// Identity is the authenticated principal as reported by the provider.
type Identity struct {
	SubjectID   string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

// IdentityFromClaims builds the identity carried inside a decoded token.
func IdentityFromClaims(c token.Claims) Identity {
	return Identity{
		SubjectID: c.SubjectID,
		Email:     c.Email,
		Role:      c.Role,
	}
}

// Profile is the extended user record fetched after sign-in. It may be
// absent when the fetch fails; the session remains valid without it.
type Profile struct {
	SubjectID string         `json:"id"`
	HealthID  string         `json:"health_id,omitempty"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	Name      string         `json:"name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FullName returns Name when set, otherwise first and last name joined.
func (p *Profile) FullName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Metadata = maps.Clone(p.Metadata)
	return &out
}

// Session is the in-memory view of an authenticated principal.
//
// Values handed to callers are copies; mutating them has no effect on the
// Manager's state.
type Session struct {
	Token    string
	Claims   token.Claims
	Identity Identity
	Profile  *Profile
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Profile = s.Profile.Clone()
	return &out
}

// IsPatient reports whether the session role is [RolePatient].
func (s *Session) IsPatient() bool {
	return s != nil && s.Identity.Role == RolePatient
}

// IsInstitutional reports whether the session role is [RoleInstitutional].
func (s *Session) IsInstitutional() bool {
	return s != nil && s.Identity.Role == RoleInstitutional
}
