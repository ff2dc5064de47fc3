// Package kratos adapts Ory Kratos native (API) flows to [gateway.Gateway].
//
// Kratos session tokens are opaque. The adapter keeps the provider token in
// its own credential store and hands the session manager a locally minted
// credential token carrying the identity claims and the provider expiry.
package kratos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	kratos "github.com/ory/kratos-client-go"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultSessionTTL = 24 * time.Hour

	// ProviderTokenKey is the store key for the opaque Kratos session token.
	ProviderTokenKey = "healthsync_provider_session"
)

// Config configures a [Gateway].
type Config struct {
	PublicURL string
	// AdminURL enables profile reads through the admin identity API.
	AdminURL string
	Timeout  time.Duration
	// Codec mints the credential token returned in grants.
	Codec token.Codec
	// Tokens keeps the provider session token. Defaults to memory.
	Tokens     session.CredentialStore
	HTTPClient *http.Client
	Now        func() time.Time
}

// Gateway talks to Kratos on behalf of one client.
type Gateway struct {
	public *kratos.APIClient
	admin  *kratos.APIClient
	codec  token.Codec
	tokens session.CredentialStore
	now    func() time.Time

	mu       sync.Mutex
	aal2Flow string
}

var _ gateway.Gateway = (*Gateway)(nil)

// New builds a Gateway. PublicURL and Codec are required.
func New(cfg Config) (*Gateway, error) {
	if cfg.PublicURL == "" {
		return nil, errors.New("kratos gateway: public url required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("kratos gateway: codec required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = session.NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	g := &Gateway{
		public: newAPIClient(cfg.PublicURL, cfg.HTTPClient),
		codec:  cfg.Codec,
		tokens: cfg.Tokens,
		now:    cfg.Now,
	}
	if cfg.AdminURL != "" {
		g.admin = newAPIClient(cfg.AdminURL, cfg.HTTPClient)
	}
	return g, nil
}

func newAPIClient(baseURL string, hc *http.Client) *kratos.APIClient {
	conf := kratos.NewConfiguration()
	conf.Servers = []kratos.ServerConfiguration{{URL: baseURL}}
	conf.HTTPClient = hc
	conf.DefaultHeader = map[string]string{"Accept": "application/json"}
	return kratos.NewAPIClient(conf)
}

func (g *Gateway) VerifyCredentials(ctx context.Context, email, secret string) (*gateway.Grant, error) {
	flow, resp, err := g.public.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, transformError(err, resp, false)
	}

	body := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Password:   secret,
		Method:     "password",
	}
	login, resp, err := g.public.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, transformError(err, resp, false)
	}
	return g.grantFromLogin(ctx, login)
}

// SendSecondFactor opens an aal2 flow for the current provider session and
// asks Kratos to deliver a code. Kratos answers with the updated flow and
// status 400 while waiting for the code; that is treated as success.
func (g *Gateway) SendSecondFactor(ctx context.Context, email string) error {
	tok, err := g.providerToken(ctx)
	if err != nil {
		return err
	}
	flow, resp, err := g.public.FrontendAPI.CreateNativeLoginFlow(ctx).
		Aal("aal2").
		XSessionToken(tok).
		Execute()
	if err != nil {
		return transformError(err, resp, false)
	}

	body := kratos.UpdateLoginFlowWithCodeMethod{Method: "code"}
	body.SetIdentifier(email)
	_, resp, err = g.public.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		XSessionToken(tok).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithCodeMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil && !codeSent(err, resp) {
		return transformError(err, resp, false)
	}

	g.mu.Lock()
	g.aal2Flow = flow.Id
	g.mu.Unlock()
	return nil
}

func (g *Gateway) VerifySecondFactor(ctx context.Context, email, code string) (*gateway.Grant, error) {
	g.mu.Lock()
	flowID := g.aal2Flow
	g.mu.Unlock()
	if flowID == "" {
		return nil, gateway.ErrCodeRejected
	}
	tok, err := g.providerToken(ctx)
	if err != nil {
		return nil, err
	}

	body := kratos.UpdateLoginFlowWithCodeMethod{Method: "code"}
	body.SetIdentifier(email)
	body.SetCode(code)
	login, resp, err := g.public.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flowID).
		XSessionToken(tok).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithCodeMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, transformError(err, resp, true)
	}

	g.mu.Lock()
	g.aal2Flow = ""
	g.mu.Unlock()
	return g.grantFromLogin(ctx, login)
}

func (g *Gateway) FetchProfile(ctx context.Context, subjectID string) (*session.Profile, error) {
	if g.admin != nil {
		ident, resp, err := g.admin.IdentityAPI.GetIdentity(ctx, subjectID).Execute()
		if err != nil {
			return nil, transformError(err, resp, false)
		}
		return profileFromIdentity(ident), nil
	}

	tok, err := g.providerToken(ctx)
	if err != nil {
		return nil, err
	}
	sess, resp, err := g.public.FrontendAPI.ToSession(ctx).XSessionToken(tok).Execute()
	if err != nil {
		return nil, transformError(err, resp, false)
	}
	if sess.Identity == nil || sess.Identity.Id != subjectID {
		return nil, gateway.ErrNotFound
	}
	return profileFromIdentity(sess.Identity), nil
}

func (g *Gateway) InvalidateSession(ctx context.Context, scope gateway.Scope) error {
	tok, ok, err := g.tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if !ok {
		return nil
	}

	if scope == gateway.ScopeGlobal {
		_, resp, err := g.public.FrontendAPI.DisableMyOtherSessions(ctx).XSessionToken(tok).Execute()
		if err != nil && !isUnauthorized(resp) {
			return transformError(err, resp, false)
		}
	}

	resp, err := g.public.FrontendAPI.
		PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(tok)).
		Execute()
	if err != nil && !isUnauthorized(resp) {
		return transformError(err, resp, false)
	}

	g.mu.Lock()
	g.aal2Flow = ""
	g.mu.Unlock()
	if err := g.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	return nil
}

// Subscribe is unsupported; attach a push source with [gateway.WithPush].
func (g *Gateway) Subscribe(func(gateway.PushEvent)) (gateway.Subscription, error) {
	return nil, gateway.ErrPushUnsupported
}

func (g *Gateway) providerToken(ctx context.Context) (string, error) {
	tok, ok, err := g.tokens.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: no provider session", gateway.ErrRejected)
	}
	return tok, nil
}

func (g *Gateway) grantFromLogin(ctx context.Context, login *kratos.SuccessfulNativeLogin) (*gateway.Grant, error) {
	if login == nil {
		return nil, fmt.Errorf("%w: empty login response", gateway.ErrUnavailable)
	}
	if tok := login.GetSessionToken(); tok != "" {
		if err := g.tokens.Set(ctx, tok); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
		}
	}

	sess := login.Session
	if sess.Identity == nil {
		return nil, fmt.Errorf("%w: session without identity", gateway.ErrUnavailable)
	}
	ident := identityFromKratos(sess.Identity)

	now := g.now()
	ttl := defaultSessionTTL
	if exp := sess.GetExpiresAt(); !exp.IsZero() && exp.After(now) {
		ttl = exp.Sub(now)
	}
	encoded, err := g.codec.Encode(token.NewClaims(ident.SubjectID, ident.Email, ident.Role, now, ttl))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	return &gateway.Grant{Identity: ident, Token: encoded}, nil
}

func identityFromKratos(id *kratos.Identity) session.Identity {
	traits := asMap(id.Traits)
	meta := asMap(id.MetadataPublic)

	out := session.Identity{
		SubjectID: id.Id,
		Email:     stringField(traits, "email"),
		Role:      stringField(traits, "role"),
	}
	if out.Role == "" {
		out.Role = stringField(meta, "role")
	}
	first, last := nameFields(traits)
	switch {
	case first != "" && last != "":
		out.DisplayName = first + " " + last
	case first != "":
		out.DisplayName = first
	default:
		out.DisplayName = stringField(traits, "name")
	}
	return out
}

func profileFromIdentity(id *kratos.Identity) *session.Profile {
	traits := asMap(id.Traits)
	meta := asMap(id.MetadataPublic)

	p := &session.Profile{
		SubjectID: id.Id,
		HealthID:  stringField(traits, "health_id"),
		Metadata:  meta,
	}
	if p.HealthID == "" {
		p.HealthID = stringField(meta, "health_id")
	}
	p.FirstName, p.LastName = nameFields(traits)
	if p.FirstName == "" && p.LastName == "" {
		p.Name = stringField(traits, "name")
	}
	return p
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func nameFields(traits map[string]any) (string, string) {
	name := asMap(traits["name"])
	return stringField(name, "first"), stringField(name, "last")
}

func isUnauthorized(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusUnauthorized
}

// codeSent recognizes the 400 response carrying a flow in the sent_email state.
func codeSent(err error, resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		return false
	}
	var apiErr *kratos.GenericOpenAPIError
	if !errors.As(err, &apiErr) {
		return false
	}
	var flow struct {
		State string `json:"state"`
	}
	if json.Unmarshal(apiErr.Body(), &flow) != nil {
		return false
	}
	return flow.State == "sent_email"
}

// transformError maps Kratos responses onto gateway sentinels. codeStep
// selects ErrCodeRejected for refused submissions.
func transformError(err error, resp *http.Response, codeStep bool) error {
	if resp == nil {
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		if codeStep {
			return gateway.ErrCodeRejected
		}
		return gateway.ErrRejected
	case http.StatusNotFound:
		return gateway.ErrNotFound
	}
	return fmt.Errorf("%w: kratos returned status %d", gateway.ErrUnavailable, resp.StatusCode)
}
