package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/token"
)

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestVerifyCredentialsMintsDecodableToken(t *testing.T) {
	g := New(Config{Now: fixedNow})
	ctx := context.Background()

	grant, err := g.VerifyCredentials(ctx, "Patient@Example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "patient", grant.Identity.Role)

	claims, err := token.Validate(token.PlaceholderCodec{}, grant.Token, fixedNow())
	require.NoError(t, err)
	assert.Equal(t, "user-patient-1", claims.SubjectID)
	assert.Equal(t, "patient", claims.Role)
	assert.Equal(t, 1, g.ActiveSessions("patient@example.com"))

	_, err = g.VerifyCredentials(ctx, "patient@example.com", "wrong")
	assert.ErrorIs(t, err, gateway.ErrRejected)
	_, err = g.VerifyCredentials(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, gateway.ErrRejected)
}

func TestSecondFactorRoundTrip(t *testing.T) {
	g := New(Config{Now: fixedNow})
	ctx := context.Background()

	_, err := g.VerifySecondFactor(ctx, "hospital@example.com", "123456")
	assert.ErrorIs(t, err, gateway.ErrCodeRejected, "no code sent yet")

	require.NoError(t, g.SendSecondFactor(ctx, "hospital@example.com"))
	code, ok := g.LastCode("hospital@example.com")
	require.True(t, ok)
	assert.Len(t, code, 6)
	assert.Equal(t, 1, g.CodesSent("hospital@example.com"))

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = g.VerifySecondFactor(ctx, "hospital@example.com", wrong)
	assert.ErrorIs(t, err, gateway.ErrCodeRejected)

	grant, err := g.VerifySecondFactor(ctx, "hospital@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, "hospital", grant.Identity.Role)

	_, err = g.VerifySecondFactor(ctx, "hospital@example.com", code)
	assert.ErrorIs(t, err, gateway.ErrCodeRejected, "codes are single use")
}

func TestAcceptAnyCode(t *testing.T) {
	g := New(Config{AcceptAnyCode: true})
	ctx := context.Background()
	require.NoError(t, g.SendSecondFactor(ctx, "hospital@example.com"))

	_, err := g.VerifySecondFactor(ctx, "hospital@example.com", "12a456")
	assert.ErrorIs(t, err, gateway.ErrCodeRejected)
	_, err = g.VerifySecondFactor(ctx, "hospital@example.com", "424242")
	assert.NoError(t, err)
}

func TestInvalidateSessionScopes(t *testing.T) {
	g := New(Config{})
	ctx := context.Background()
	_, err := g.IssueGrant("patient@example.com")
	require.NoError(t, err)
	_, err = g.VerifyCredentials(ctx, "patient@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, 2, g.ActiveSessions("patient@example.com"))

	require.NoError(t, g.InvalidateSession(ctx, gateway.ScopeLocal))
	assert.Equal(t, 1, g.ActiveSessions("patient@example.com"))

	_, err = g.VerifyCredentials(ctx, "patient@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, g.InvalidateSession(ctx, gateway.ScopeGlobal))
	assert.Equal(t, 0, g.ActiveSessions("patient@example.com"))
	assert.Equal(t, []gateway.Scope{gateway.ScopeLocal, gateway.ScopeGlobal}, g.Invalidations())
}

func TestFetchProfileAndFailureInjection(t *testing.T) {
	g := New(Config{})
	ctx := context.Background()

	p, err := g.FetchProfile(ctx, "user-patient-1")
	require.NoError(t, err)
	assert.Equal(t, "HID-0001", p.HealthID)

	g.FailNext("FetchProfile", errors.New("timeout"))
	_, err = g.FetchProfile(ctx, "user-patient-1")
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	_, err = g.FetchProfile(ctx, "missing")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestPublishAssignsSequence(t *testing.T) {
	g := New(Config{})
	var got []gateway.PushEvent
	sub, err := g.Subscribe(func(ev gateway.PushEvent) { got = append(got, ev) })
	require.NoError(t, err)

	assert.Equal(t, uint64(1), g.Publish(gateway.PushEvent{Kind: gateway.PushSignedOut}))
	assert.Equal(t, uint64(10), g.Publish(gateway.PushEvent{Kind: gateway.PushSignedOut, Sequence: 10}))
	assert.Equal(t, uint64(11), g.Publish(gateway.PushEvent{Kind: gateway.PushSignedOut}))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	g.Publish(gateway.PushEvent{Kind: gateway.PushSignedOut})
	assert.Len(t, got, 3)
}
