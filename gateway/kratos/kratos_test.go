package kratos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

const (
	testPassword = "password123"
	testCode     = "246810"
	aal1Token    = "ory_st_aal1"
	aal2Token    = "ory_st_aal2"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeKratos struct {
	mu          sync.Mutex
	logouts     []string
	revokedAll  int
	codeSubmits int
}

func identityJSON() map[string]any {
	return map[string]any{
		"id":         "ident-1",
		"schema_id":  "default",
		"schema_url": "http://kratos/schemas/default",
		"traits": map[string]any{
			"email": "hospital@example.com",
			"role":  "hospital",
			"name":  map[string]any{"first": "City", "last": "General"},
		},
		"metadata_public": map[string]any{"health_id": "HID-9"},
	}
}

func loginFlowJSON(id, state string) map[string]any {
	return map[string]any{
		"id":          id,
		"type":        "api",
		"state":       state,
		"expires_at":  testNow.Add(time.Hour).Format(time.RFC3339),
		"issued_at":   testNow.Format(time.RFC3339),
		"request_url": "http://kratos/self-service/login/api",
		"ui": map[string]any{
			"action": "http://kratos/self-service/login?flow=" + id,
			"method": "POST",
			"nodes":  []any{},
		},
	}
}

func successJSON(tok string) map[string]any {
	return map[string]any{
		"session": map[string]any{
			"id":         "sess-1",
			"active":     true,
			"expires_at": testNow.Add(2 * time.Hour).Format(time.RFC3339),
			"identity":   identityJSON(),
		},
		"session_token": tok,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeKratos) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /self-service/login/api", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("aal") == "aal2" {
			if r.Header.Get("X-Session-Token") != aal1Token {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 401, "message": "no session"}})
				return
			}
			writeJSON(w, http.StatusOK, loginFlowJSON("flow-aal2", "choose_method"))
			return
		}
		writeJSON(w, http.StatusOK, loginFlowJSON("flow-aal1", "choose_method"))
	})
	mux.HandleFunc("POST /self-service/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Query().Get("flow") {
		case "flow-aal1":
			if body["method"] != "password" || body["password"] != testPassword {
				writeJSON(w, http.StatusBadRequest, loginFlowJSON("flow-aal1", "choose_method"))
				return
			}
			writeJSON(w, http.StatusOK, successJSON(aal1Token))
		case "flow-aal2":
			f.mu.Lock()
			f.codeSubmits++
			f.mu.Unlock()
			code, hasCode := body["code"].(string)
			switch {
			case !hasCode:
				writeJSON(w, http.StatusBadRequest, loginFlowJSON("flow-aal2", "sent_email"))
			case code == testCode:
				writeJSON(w, http.StatusOK, successJSON(aal2Token))
			default:
				writeJSON(w, http.StatusBadRequest, loginFlowJSON("flow-aal2", "sent_email"))
			}
		default:
			writeJSON(w, http.StatusGone, map[string]any{"error": map[string]any{"code": 410}})
		}
	})
	mux.HandleFunc("GET /sessions/whoami", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Session-Token") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, successJSON("")["session"])
	})
	mux.HandleFunc("DELETE /self-service/logout/api", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.logouts = append(f.logouts, body["session_token"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /sessions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.revokedAll++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"count": 3})
	})
	mux.HandleFunc("GET /admin/identities/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "ident-1" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404}})
			return
		}
		writeJSON(w, http.StatusOK, identityJSON())
	})
	return mux
}

func newTestGateway(t *testing.T, admin bool) (*Gateway, *fakeKratos, *session.MemoryStore) {
	t.Helper()
	fk := &fakeKratos{}
	srv := httptest.NewServer(fk.handler())
	t.Cleanup(srv.Close)

	tokens := session.NewMemoryStore()
	cfg := Config{
		PublicURL: srv.URL,
		Codec:     token.PlaceholderCodec{},
		Tokens:    tokens,
		Now:       func() time.Time { return testNow },
	}
	if admin {
		cfg.AdminURL = srv.URL
	}
	g, err := New(cfg)
	require.NoError(t, err)
	return g, fk, tokens
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Codec: token.PlaceholderCodec{}})
	assert.Error(t, err)
	_, err = New(Config{PublicURL: "http://kratos"})
	assert.Error(t, err)
}

func TestVerifyCredentials(t *testing.T) {
	g, _, tokens := newTestGateway(t, false)
	ctx := context.Background()

	grant, err := g.VerifyCredentials(ctx, "hospital@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "ident-1", grant.Identity.SubjectID)
	assert.Equal(t, "hospital", grant.Identity.Role)
	assert.Equal(t, "City General", grant.Identity.DisplayName)

	claims, err := token.Validate(token.PlaceholderCodec{}, grant.Token, testNow)
	require.NoError(t, err)
	assert.Equal(t, "hospital", claims.Role)
	assert.Equal(t, testNow.Add(2*time.Hour).Unix(), claims.ExpiresAt)

	stored, ok, _ := tokens.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, aal1Token, stored)

	_, err = g.VerifyCredentials(ctx, "hospital@example.com", "nope")
	assert.ErrorIs(t, err, gateway.ErrRejected)
}

func TestSecondFactorFlow(t *testing.T) {
	g, fk, tokens := newTestGateway(t, false)
	ctx := context.Background()

	_, err := g.VerifySecondFactor(ctx, "hospital@example.com", testCode)
	assert.ErrorIs(t, err, gateway.ErrCodeRejected, "no flow yet")

	_, err = g.VerifyCredentials(ctx, "hospital@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, g.SendSecondFactor(ctx, "hospital@example.com"))

	_, err = g.VerifySecondFactor(ctx, "hospital@example.com", "000000")
	assert.ErrorIs(t, err, gateway.ErrCodeRejected)

	grant, err := g.VerifySecondFactor(ctx, "hospital@example.com", testCode)
	require.NoError(t, err)
	assert.Equal(t, "hospital", grant.Identity.Role)
	assert.Equal(t, 3, fk.codeSubmits)

	stored, _, _ := tokens.Get(ctx)
	assert.Equal(t, aal2Token, stored)
}

func TestSendSecondFactorWithoutSession(t *testing.T) {
	g, _, _ := newTestGateway(t, false)
	err := g.SendSecondFactor(context.Background(), "hospital@example.com")
	assert.ErrorIs(t, err, gateway.ErrRejected)
}

func TestFetchProfile(t *testing.T) {
	ctx := context.Background()

	g, _, _ := newTestGateway(t, true)
	p, err := g.FetchProfile(ctx, "ident-1")
	require.NoError(t, err)
	assert.Equal(t, "City", p.FirstName)
	assert.Equal(t, "General", p.LastName)
	assert.Equal(t, "HID-9", p.HealthID)

	_, err = g.FetchProfile(ctx, "ident-404")
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	self, _, _ := newTestGateway(t, false)
	_, err = self.VerifyCredentials(ctx, "hospital@example.com", testPassword)
	require.NoError(t, err)
	p, err = self.FetchProfile(ctx, "ident-1")
	require.NoError(t, err)
	assert.Equal(t, "ident-1", p.SubjectID)
}

func TestInvalidateSession(t *testing.T) {
	ctx := context.Background()
	g, fk, tokens := newTestGateway(t, false)

	require.NoError(t, g.InvalidateSession(ctx, gateway.ScopeLocal), "no session is a no-op")
	assert.Empty(t, fk.logouts)

	_, err := g.VerifyCredentials(ctx, "hospital@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, g.InvalidateSession(ctx, gateway.ScopeGlobal))

	assert.Equal(t, []string{aal1Token}, fk.logouts)
	assert.Equal(t, 1, fk.revokedAll)
	_, ok, _ := tokens.Get(ctx)
	assert.False(t, ok)
}

func TestSubscribeUnsupported(t *testing.T) {
	g, _, _ := newTestGateway(t, false)
	_, err := g.Subscribe(func(gateway.PushEvent) {})
	assert.ErrorIs(t, err, gateway.ErrPushUnsupported)
}

func TestTransformErrorUnavailable(t *testing.T) {
	err := transformError(assert.AnError, &http.Response{StatusCode: http.StatusServiceUnavailable}, false)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.True(t, strings.Contains(err.Error(), "503"))
	assert.ErrorIs(t, transformError(assert.AnError, nil, true), gateway.ErrUnavailable)
}
