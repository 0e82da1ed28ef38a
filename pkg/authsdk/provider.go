package authsdk

import (
	"context"
	"crypto/subtle"
	"net/url"
)

// OAuthProvider binds an OAuthClient to one client registration. It drives
// the browser based authorization code flow and, as a Refresher, lets a
// Manager renew tokens.
type OAuthProvider struct {
	Client *OAuthClient
	Config OAuthConfig
}

// NewOAuthProvider pairs client and cfg. A nil client gets NewOAuthClient().
func NewOAuthProvider(client *OAuthClient, cfg OAuthConfig) *OAuthProvider {
	if client == nil {
		client = NewOAuthClient()
	}
	return &OAuthProvider{Client: client, Config: cfg}
}

// AuthorizationRequest is one in-flight authorization attempt. Keep it until
// the callback arrives; it is single use.
type AuthorizationRequest struct {
	// URL to open in the user agent
	URL *url.URL

	// State is the CSRF value the callback must echo back
	State string

	// PKCE is nil when the config disables PKCE
	PKCE *PKCE
}

// Begin starts an authorization attempt with a fresh state and, when enabled,
// a fresh PKCE pair.
func (p *OAuthProvider) Begin() (AuthorizationRequest, error) {
	state := NewState()

	var pkce *PKCE
	if p.Config.UsePKCE {
		pair := NewPKCE()
		pkce = &pair
	}

	authURL, err := BuildAuthorizationURL(p.Config.WithParameter("state", state), pkce)
	if err != nil {
		return AuthorizationRequest{}, err
	}

	return AuthorizationRequest{URL: authURL, State: state, PKCE: pkce}, nil
}

// Complete checks the callback against req and redeems the code.
//
// A callback whose state does not match fails with ProviderError before any
// request is made.
func (p *OAuthProvider) Complete(ctx context.Context, req AuthorizationRequest, callback *url.URL) (Token, error) {
	code, err := ParseCallback(callback)
	if err != nil {
		return Token{}, err
	}

	state := callback.Query().Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(req.State)) != 1 {
		return Token{}, ProviderError("state mismatch")
	}

	return p.Client.ExchangeCode(ctx, p.Config, code, req.PKCE)
}

// Refresh implements Refresher.
func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	return p.Client.Refresh(ctx, p.Config, refreshToken)
}
