package token

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed is returned when a token string does not have exactly three
	// non-empty segments, a segment is not decodable structured data, or the claims
	// violate the expiresAt > issuedAt invariant.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned by [Validate] when the decoded claims are past expiry.
	ErrExpired = errors.New("expired token")
	// ErrInvalidClaims is returned by Encode for claims that cannot form a token.
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims is the structured payload carried inside a credential token.
//
// Timestamps are Unix seconds, matching the persisted format.
type Claims struct {
	SubjectID string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// Codec converts claims to and from a transportable token string.
type Codec interface {
	Encode(claims Claims) (string, error)
	Decode(tokenString string) (Claims, error)
}

// NewClaims builds claims issued at now and valid for ttl.
func NewClaims(subjectID, email, role string, now time.Time, ttl time.Duration) Claims {
	issued := now.Unix()
	expires := now.Add(ttl).Unix()
	if expires <= issued {
		expires = issued + 1
	}
	return Claims{
		SubjectID: subjectID,
		Email:     email,
		Role:      role,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}
}

// Check reports whether the claims satisfy the structural invariants shared by all
// codecs.
func (c Claims) Check() error {
	if c.SubjectID == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	if c.ExpiresAt <= c.IssuedAt {
		return fmt.Errorf("%w: expiry must be after issue time", ErrInvalidClaims)
	}
	return nil
}

// ExpiresAtTime returns the expiry as a time.Time.
func (c Claims) ExpiresAtTime() time.Time {
	return unixTime(c.ExpiresAt)
}

// IsExpired reports whether now is at or past the expiry.
func IsExpired(c Claims, now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// Validate decodes tokenString and rejects it when expired at now.
//
// Errors wrap either [ErrMalformed] or [ErrExpired].
func Validate(codec Codec, tokenString string, now time.Time) (Claims, error) {
	if codec == nil {
		return Claims{}, fmt.Errorf("%w: no codec", ErrMalformed)
	}
	claims, err := codec.Decode(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if IsExpired(claims, now) {
		return claims, ErrExpired
	}
	return claims, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}
