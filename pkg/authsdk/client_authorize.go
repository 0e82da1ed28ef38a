package authsdk

import (
	"net/url"
	"slices"
	"strings"
)

// BuildAuthorizationURL constructs the URL the user agent is sent to in order
// to start the authorization code flow.
//
// Parameters are appended in a fixed order: response_type, client_id,
// redirect_uri, scope (only when cfg.Scopes is non-empty), code_challenge and
// code_challenge_method (only when pkce is non-nil), then every additional
// parameter in sorted key order. A query already present on
// cfg.AuthorizationURL is kept in front.
//
// Example:
//
//	pkce := authsdk.NewPKCE()
//	authURL, err := authsdk.BuildAuthorizationURL(cfg.WithParameter("state", state), &pkce)
//	// keep pkce until the callback arrives, then pass it to ExchangeCode
func BuildAuthorizationURL(cfg OAuthConfig, pkce *PKCE) (*url.URL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.AuthorizationURL)
	if err != nil {
		return nil, InvalidConfiguration("authorization url: " + err.Error())
	}

	q := newOrderedQuery(base.RawQuery)
	q.add("response_type", "code")
	q.add("client_id", cfg.ClientID)
	q.add("redirect_uri", cfg.RedirectURL)

	if len(cfg.Scopes) > 0 {
		q.add("scope", strings.Join(cfg.Scopes, " "))
	}

	if pkce != nil {
		q.add("code_challenge", pkce.CodeChallenge)
		q.add("code_challenge_method", pkce.CodeChallengeMethod)
	}

	keys := make([]string, 0, len(cfg.AdditionalParameters))
	for key := range cfg.AdditionalParameters {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		q.add(key, cfg.AdditionalParameters[key])
	}

	out := *base
	out.RawQuery = q.encode()
	return &out, nil
}

// ParseCallback extracts the authorization code from the redirect the
// provider sent back.
//
// An error parameter wins over a code and is reported as ProviderError with
// the error_description (or the bare error code when there is no
// description). A callback with neither fails with ProviderError("no code").
func ParseCallback(callback *url.URL) (string, error) {
	query := callback.Query()

	if errorCode := query.Get("error"); errorCode != "" {
		if desc := query.Get("error_description"); desc != "" {
			return "", ProviderError(desc)
		}
		return "", ProviderError(errorCode)
	}

	code := query.Get("code")
	if code == "" {
		return "", ProviderError("no code")
	}

	return code, nil
}

// ParseCallbackURL is ParseCallback for a raw URL string.
func ParseCallbackURL(callbackURL string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", InvalidConfiguration("failed to parse callback URL: " + err.Error())
	}
	return ParseCallback(u)
}

// orderedQuery keeps insertion order, which url.Values.Encode does not.
type orderedQuery struct {
	raw   string
	pairs []string
}

func newOrderedQuery(existing string) *orderedQuery {
	return &orderedQuery{raw: existing}
}

func (q *orderedQuery) add(key, value string) {
	q.pairs = append(q.pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
}

func (q *orderedQuery) encode() string {
	encoded := strings.Join(q.pairs, "&")
	if q.raw == "" {
		return encoded
	}
	return q.raw + "&" + encoded
}
