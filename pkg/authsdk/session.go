package authsdk

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authsession/pkg/idx"
)

// Provider tags the identity provider that produced a Session.
type Provider string

const (
	ProviderApple       Provider = "apple"
	ProviderOAuth       Provider = "oauth"
	ProviderCredentials Provider = "credentials"
	ProviderBiometric   Provider = "biometric"
	ProviderCustom      Provider = "custom"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderApple, ProviderOAuth, ProviderCredentials, ProviderBiometric, ProviderCustom:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects unknown provider tags so a corrupted record never
// becomes a live session.
func (p *Provider) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Provider(s).Valid() {
		return fmt.Errorf("unknown provider %q", s)
	}
	*p = Provider(s)
	return nil
}

// AuthUser is the optional profile attached to a Session.
type AuthUser struct {
	ID         string  `json:"id"`
	Email      *string `json:"email"`
	FullName   *string `json:"fullName"`
	GivenName  *string `json:"givenName"`
	FamilyName *string `json:"familyName"`
}

// Session binds a Token to the provider that issued it and, optionally, the
// signed in user. Sessions are values; replacing the token yields a new
// Session with the same identity.
type Session struct {
	ID        string    `json:"id"`
	Token     Token     `json:"token"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
	User      *AuthUser `json:"user"`
}

// NewSession creates a Session with a fresh ULID and the current time.
func NewSession(token Token, provider Provider, user *AuthUser) Session {
	return NewSessionAt(time.Now(), token, provider, user)
}

// NewSessionAt is NewSession with an explicit creation time.
func NewSessionAt(createdAt time.Time, token Token, provider Provider, user *AuthUser) Session {
	createdAt = normalizeTime(createdAt)
	return Session{
		ID:        idx.NewAt(createdAt).String(),
		Token:     token,
		Provider:  provider,
		CreatedAt: createdAt,
		User:      user,
	}
}

// IsValid reports whether the session token has not expired.
func (s Session) IsValid() bool {
	return !s.Token.IsExpired()
}

// IsValidAt reports whether the session token is still live at now.
func (s Session) IsValidAt(now time.Time) bool {
	return !s.Token.IsExpiredAt(now)
}

// WithUpdatedToken returns a copy of the session carrying t. Identity,
// provider, creation time and user are preserved.
func (s Session) WithUpdatedToken(t Token) Session {
	s.Token = t.normalized()
	return s
}

// normalized fills in a generated ID when the caller left it empty and puts
// every timestamp in the UTC, monotonic-free form storage gives back, so a
// session equals itself after a persist and load.
func (s Session) normalized() Session {
	if s.ID == "" {
		s.ID = idx.New().String()
	}
	s.CreatedAt = normalizeTime(s.CreatedAt)
	s.Token = s.Token.normalized()
	return s
}
