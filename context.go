package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/session"
)

type sessionContextKey struct{}

// WithSession attaches s to ctx. Record handlers use it to scope queries to
// the signed-in identity.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session attached by [WithSession].
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return s, ok && s != nil
}

// SubjectFromContext returns the subject id of the attached session, or "".
func SubjectFromContext(ctx context.Context) string {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return ""
	}
	return s.Identity.SubjectID
}
