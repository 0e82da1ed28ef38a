package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/authsession/pkg/httpx"
)

// Grant types understood by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypePassword          = "password"
	GrantTypeMFAOTP            = "mfa_otp"
)

// maxExpiresIn is the largest expires_in a time.Duration can hold.
const maxExpiresIn = int64(math.MaxInt64 / int64(time.Second))

// TokenResponse is the JSON body of a successful token endpoint response per
// RFC 6749 section 5.1.
type TokenResponse struct {
	// AccessToken is the credential used to authenticate API requests
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque refresh token, omitted by some grants
	RefreshToken *string `json:"refresh_token,omitempty"`

	// TokenType defaults to "Bearer" when omitted
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn *int64 `json:"expires_in,omitempty"`

	// Scope is the space-delimited list of scopes granted to this token
	Scope *string `json:"scope,omitempty"`
}

// ToToken converts the response into a Token, anchoring expires_in at now.
func (r TokenResponse) ToToken(now time.Time) Token {
	token := Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}

	if token.TokenType == "" {
		token.TokenType = DefaultTokenType
	}

	if r.ExpiresIn != nil {
		seconds := min(max(*r.ExpiresIn, 0), maxExpiresIn)
		expiresAt := normalizeTime(now.Add(time.Duration(seconds) * time.Second))
		token.ExpiresAt = &expiresAt
	}

	if r.Scope != nil {
		token.Scopes = httpx.ParseSpaceDelimitedFields(*r.Scope)
	}

	return token
}

// ExchangeCode redeems an authorization code for a Token.
//
// Pass the PKCE value that produced the authorization URL; its verifier (never
// the challenge) is sent as code_verifier. pkce must be nil when cfg.UsePKCE is
// false. Non-2xx responses fail with ProviderError carrying the body.
//
// Example:
//
//	code, err := authsdk.ParseCallback(callbackURL)
//	token, err := client.ExchangeCode(ctx, cfg, code, &pkce)
func (c *OAuthClient) ExchangeCode(ctx context.Context, cfg OAuthConfig, code string, pkce *PKCE) (Token, error) {
	if err := cfg.Validate(); err != nil {
		return Token{}, err
	}

	grant := url.Values{
		"grant_type":   {GrantTypeAuthorizationCode},
		"code":         {code},
		"redirect_uri": {cfg.RedirectURL},
	}

	if pkce != nil {
		grant.Set("code_verifier", pkce.CodeVerifier)
	}

	return c.Exchange(ctx, cfg.TokenURL, grant, cfg.ClientID, cfg.ClientSecret)
}

// Refresh trades a refresh token for a new Token. Non-2xx responses fail with
// RefreshFailed carrying the body.
func (c *OAuthClient) Refresh(ctx context.Context, cfg OAuthConfig, refreshToken string) (Token, error) {
	if err := cfg.Validate(); err != nil {
		return Token{}, err
	}

	grant := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {refreshToken},
	}

	return c.Exchange(ctx, cfg.TokenURL, grant, cfg.ClientID, cfg.ClientSecret)
}

// Exchange performs one POST to tokenURL with the grant parameters plus
// client_id and, when present, client_secret.
//
// A 2xx body is decoded into a Token. Any other status fails with
// RefreshFailed for the refresh_token grant and ProviderError otherwise, with
// the response body as detail. A request that never produced a response
// fails with NetworkError, or Cancelled when ctx ended first.
func (c *OAuthClient) Exchange(
	ctx context.Context,
	tokenURL string,
	grant url.Values,
	clientID string,
	clientSecret *string,
) (Token, error) {
	failure := KindProviderError
	if grant.Get("grant_type") == GrantTypeRefreshToken {
		failure = KindRefreshFailed
	}

	status, body, err := c.postForm(ctx, tokenURL, grant, clientID, clientSecret)
	if err != nil {
		return Token{}, err
	}

	if status < 200 || status > 299 {
		return Token{}, newError(failure, string(body))
	}

	return c.decodeToken(body, failure)
}

// PasswordGrant signs in with resource owner credentials.
//
// Rejected credentials (400/401 with invalid_grant or invalid_client) fail
// with InvalidCredentials. When the account has MFA enabled the provider
// answers 409 and PasswordGrant returns *MFARequiredError; finish the sign-in
// with MFAOTPGrant.
func (c *OAuthClient) PasswordGrant(
	ctx context.Context,
	cfg OAuthConfig,
	username, password string,
) (Token, error) {
	if err := cfg.Validate(); err != nil {
		return Token{}, err
	}

	grant := url.Values{
		"grant_type": {GrantTypePassword},
		"username":   {username},
		"password":   {password},
	}
	if len(cfg.Scopes) > 0 {
		grant.Set("scope", strings.Join(cfg.Scopes, " "))
	}

	status, body, err := c.postForm(ctx, cfg.TokenURL, grant, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return Token{}, err
	}

	if status >= 200 && status <= 299 {
		return c.decodeToken(body, KindProviderError)
	}

	if mfaErr := parseMFAChallenge(status, body); mfaErr != nil {
		return Token{}, mfaErr
	}

	return Token{}, credentialsError(status, body)
}

// MFAOTPGrant completes a password sign-in that returned *MFARequiredError.
func (c *OAuthClient) MFAOTPGrant(
	ctx context.Context,
	cfg OAuthConfig,
	mfaErr MFARequiredError,
	method, otpCode string,
) (Token, error) {
	if err := cfg.Validate(); err != nil {
		return Token{}, err
	}

	grant := url.Values{
		"grant_type": {GrantTypeMFAOTP},
		"mfa_token":  {mfaErr.MFAToken},
		"method":     {method},
		"otp_code":   {otpCode},
	}

	status, body, err := c.postForm(ctx, cfg.TokenURL, grant, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return Token{}, err
	}

	if status < 200 || status > 299 {
		return Token{}, credentialsError(status, body)
	}

	return c.decodeToken(body, KindProviderError)
}

// Revoke asks the provider to invalidate a token (RFC 7009). Providers answer
// 200 for unknown tokens too, so only transport failures and non-2xx
// responses are errors.
func (c *OAuthClient) Revoke(ctx context.Context, cfg OAuthConfig, revokeURL, token string) error {
	if err := validateAbsoluteURL(revokeURL); err != nil {
		return InvalidConfiguration("revoke url: " + err.Error())
	}

	data := url.Values{"token": {token}}

	status, body, err := c.postForm(ctx, revokeURL, data, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return err
	}

	if status < 200 || status > 299 {
		return ProviderError(fmt.Sprintf("revoke failed with status %d: %s", status, string(body)))
	}

	return nil
}

// postForm sends an application/x-www-form-urlencoded POST and returns the
// status and body. Only failures to get a response are errors here.
func (c *OAuthClient) postForm(
	ctx context.Context,
	endpoint string,
	data url.Values,
	clientID string,
	clientSecret *string,
) (int, []byte, error) {
	form := url.Values{}
	for key, values := range data {
		form[key] = append([]string(nil), values...)
	}
	form.Set("client_id", clientID)
	if clientSecret != nil {
		form.Set("client_secret", *clientSecret)
	}

	if err := c.wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return 0, nil, InvalidConfiguration("failed to create request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, newError(KindCancelled, ctx.Err().Error())
		}
		return 0, nil, NetworkError("failed to send request: " + err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, newError(KindCancelled, ctx.Err().Error())
		}
		return 0, nil, NetworkError("failed to read response body: " + err.Error())
	}

	return resp.StatusCode, body, nil
}

func (c *OAuthClient) decodeToken(body []byte, failure ErrorKind) (Token, error) {
	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return Token{}, newError(failure, "failed to decode token response: "+err.Error())
	}
	if tokenResp.AccessToken == "" {
		return Token{}, newError(failure, "token response missing access_token")
	}
	if in := tokenResp.ExpiresIn; in != nil && (*in < 0 || *in > maxExpiresIn) {
		return Token{}, newError(failure, fmt.Sprintf("token response expires_in out of range: %d", *in))
	}

	return tokenResp.ToToken(c.now()), nil
}

// credentialsError maps a rejected password/MFA grant to an SDK error.
func credentialsError(status int, body []byte) error {
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			switch errResp.Error {
			case ErrorCodeInvalidGrant, ErrorCodeInvalidClient:
				return newError(KindInvalidCredentials, errResp.ErrorDescription)
			}
		}
	}
	return ProviderError(string(body))
}
