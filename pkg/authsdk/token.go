package authsdk

import (
	"strings"
	"time"
)

// DefaultTokenType is used when a token response omits token_type.
const DefaultTokenType = "Bearer"

// Token is an immutable access/refresh credential pair. A refresh never
// mutates a Token, it issues a new one.
type Token struct {
	// AccessToken is the opaque bearer credential sent to resource servers
	AccessToken string `json:"accessToken"`

	// RefreshToken is used with the refresh_token grant; nil when not issued
	RefreshToken *string `json:"refreshToken"`

	// TokenType is the authorization scheme, "Bearer" unless the provider says otherwise
	TokenType string `json:"tokenType"`

	// ExpiresAt is the absolute expiry. nil means the token never expires.
	ExpiresAt *time.Time `json:"expiresAt"`

	// Scopes granted to this token, in provider order
	Scopes []string `json:"scopes"`
}

// NewToken builds a Bearer token. expiresAt and refreshToken may be nil.
func NewToken(accessToken string, refreshToken *string, expiresAt *time.Time, scopes ...string) Token {
	return Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    DefaultTokenType,
		ExpiresAt:    normalizeTimePtr(expiresAt),
		Scopes:       scopes,
	}
}

// IsExpired reports whether the token has passed its expiry.
func (t Token) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether now is at or after the expiry.
func (t Token) IsExpiredAt(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// WillExpireWithin reports whether the token expires within d from now.
func (t Token) WillExpireWithin(d time.Duration) bool {
	return t.WillExpireWithinAt(time.Now(), d)
}

// WillExpireWithinAt reports whether now+d is at or after the expiry.
func (t Token) WillExpireWithinAt(now time.Time, d time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Add(d).Before(*t.ExpiresAt)
}

// CanRefresh reports whether a refresh token is present.
func (t Token) CanRefresh() bool {
	return t.RefreshToken != nil
}

// AuthorizationHeaderValue returns the Authorization header value, e.g. "Bearer abc".
func (t Token) AuthorizationHeaderValue() string {
	return t.TokenType + " " + t.AccessToken
}

// ScopeString returns the scopes as a single space-delimited string.
func (t Token) ScopeString() string {
	return strings.Join(t.Scopes, " ")
}

// ============================================================================
// Helpers
// ============================================================================

// StringPtr returns a pointer to s. Handy for the optional string fields.
func StringPtr(s string) *string { return &s }

// normalizeTime drops the monotonic reading and location so a value survives
// a JSON round trip unchanged.
func (t Token) normalized() Token {
	t.ExpiresAt = normalizeTimePtr(t.ExpiresAt)
	return t
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normalizeTime(*t)
	return &n
}
