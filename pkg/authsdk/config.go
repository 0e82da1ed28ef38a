package authsdk

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
)

// OAuthConfig describes one OAuth2 client registration. It is immutable once
// built and safe to share across concurrent operations.
type OAuthConfig struct {
	// ClientID is the registered client identifier (required)
	ClientID string

	// ClientSecret is only for confidential clients. Public clients (mobile,
	// desktop, CLI) should leave it nil and rely on PKCE.
	ClientSecret *string

	// AuthorizationURL is the provider's authorize endpoint (absolute URL)
	AuthorizationURL string

	// TokenURL is the provider's token endpoint (absolute URL)
	TokenURL string

	// RedirectURL is the registered redirect URI (absolute URL)
	RedirectURL string

	// Scopes requested on the authorization URL, in order. May be empty.
	Scopes []string

	// AdditionalParameters are appended to the authorization URL after the
	// standard parameters.
	AdditionalParameters map[string]string

	// UsePKCE enables the S256 challenge. NewOAuthConfig defaults it to true.
	UsePKCE bool
}

// NewOAuthConfig returns a config with PKCE enabled.
func NewOAuthConfig(clientID, authorizationURL, tokenURL, redirectURL string, scopes ...string) OAuthConfig {
	return OAuthConfig{
		ClientID:         clientID,
		AuthorizationURL: authorizationURL,
		TokenURL:         tokenURL,
		RedirectURL:      redirectURL,
		Scopes:           scopes,
		UsePKCE:          true,
	}
}

// WithParameter returns a copy of the config with one extra authorization
// parameter set. The receiver is left untouched.
func (c OAuthConfig) WithParameter(key, value string) OAuthConfig {
	params := make(map[string]string, len(c.AdditionalParameters)+1)
	maps.Copy(params, c.AdditionalParameters)
	params[key] = value
	c.AdditionalParameters = params
	return c
}

// Validate checks the required fields.
func (c OAuthConfig) Validate() error {
	if c.ClientID == "" {
		return InvalidConfiguration("client id is required")
	}

	for _, field := range []struct{ name, raw string }{
		{"authorization url", c.AuthorizationURL},
		{"token url", c.TokenURL},
		{"redirect url", c.RedirectURL},
	} {
		if err := validateAbsoluteURL(field.raw); err != nil {
			return InvalidConfiguration(fmt.Sprintf("%s: %v", field.name, err))
		}
	}

	for _, key := range slices.Sorted(maps.Keys(c.AdditionalParameters)) {
		if isReservedParameter(key) {
			return InvalidConfiguration(fmt.Sprintf("additional parameter %q overrides a standard parameter", key))
		}
	}

	// parameters already on the authorization url are sent as they are, so
	// they must not collide with anything BuildAuthorizationURL adds
	base, err := url.Parse(c.AuthorizationURL)
	if err != nil {
		return InvalidConfiguration("authorization url: " + err.Error())
	}
	existing, err := url.ParseQuery(base.RawQuery)
	if err != nil {
		return InvalidConfiguration("authorization url query: " + err.Error())
	}
	for _, key := range slices.Sorted(maps.Keys(existing)) {
		if isReservedParameter(key) {
			return InvalidConfiguration(fmt.Sprintf("authorization url query sets standard parameter %q", key))
		}
		if _, ok := c.AdditionalParameters[key]; ok {
			return InvalidConfiguration(fmt.Sprintf("additional parameter %q is already on the authorization url", key))
		}
	}

	return nil
}

// reservedParameters are written by BuildAuthorizationURL itself.
var reservedParameters = map[string]struct{}{
	"response_type":         {},
	"client_id":             {},
	"redirect_uri":          {},
	"scope":                 {},
	"code_challenge":        {},
	"code_challenge_method": {},
}

func isReservedParameter(key string) bool {
	_, ok := reservedParameters[key]
	return ok
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	// custom schemes (myapp://callback) are fine for redirects, http needs a host
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
