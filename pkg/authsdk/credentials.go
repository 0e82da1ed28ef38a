package authsdk

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authsession/pkg/jwtx"
)

// CredentialResult is the minimal shape a native sign-in or biometric
// capability hands back to the SDK.
type CredentialResult struct {
	UserID        string
	IdentityToken *string
	Email         *string
	FullName      *string
	GivenName     *string
	FamilyName    *string
}

// Authenticator is a platform sign-in capability such as Sign in with Apple.
// The SDK never drives any UI itself; it only awaits the result.
type Authenticator interface {
	Authenticate(ctx context.Context) (CredentialResult, error)
}

// BiometricAuthenticator is a local biometric prompt.
type BiometricAuthenticator interface {
	// Available reports whether the device can currently run a biometric check.
	Available(ctx context.Context) bool

	// Evaluate shows the prompt with reason and returns the credential of the
	// owner on success.
	Evaluate(ctx context.Context, reason string) (CredentialResult, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (CredentialResult, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context) (CredentialResult, error) {
	return f(ctx)
}

// UserFromCredential maps a credential result onto an AuthUser.
func UserFromCredential(cred CredentialResult) *AuthUser {
	return &AuthUser{
		ID:         cred.UserID,
		Email:      cred.Email,
		FullName:   cred.FullName,
		GivenName:  cred.GivenName,
		FamilyName: cred.FamilyName,
	}
}

// SessionFromCredential converts a native sign-in result into a Session.
//
// The identity token becomes the access token. When it is a JWT its exp claim
// sets the token expiry, and its email claim fills in a missing Email. A
// result without a user id or identity token fails with InvalidCredentials.
func SessionFromCredential(now time.Time, provider Provider, cred CredentialResult) (Session, error) {
	if cred.UserID == "" {
		return Session{}, newError(KindInvalidCredentials, "credential has no user id")
	}
	if cred.IdentityToken == nil || *cred.IdentityToken == "" {
		return Session{}, newError(KindInvalidCredentials, "credential has no identity token")
	}

	user := UserFromCredential(cred)
	token := NewToken(*cred.IdentityToken, nil, nil)

	if claims, err := jwtx.ParseIdentityToken(*cred.IdentityToken); err == nil {
		if claims.Subject != cred.UserID {
			return Session{}, newError(KindInvalidCredentials, "identity token subject does not match user")
		}
		token.ExpiresAt = normalizeTimePtr(claims.Expiry())
		if user.Email == nil && claims.Email != "" {
			user.Email = StringPtr(claims.Email)
		}
	}

	return NewSessionAt(now, token, provider, user), nil
}

// IdentityVerifier checks an identity token's signature and claims.
// *jwtx.IdentityVerifier satisfies it.
type IdentityVerifier interface {
	Verify(raw string) (jwtx.IdentityClaims, error)
}

// VerifiedAuthenticator wraps auth so that a credential is only accepted when
// its identity token passes verifier and names the same subject as UserID.
// Rejected credentials fail with InvalidCredentials.
func VerifiedAuthenticator(auth Authenticator, verifier IdentityVerifier) Authenticator {
	return AuthenticatorFunc(func(ctx context.Context) (CredentialResult, error) {
		cred, err := auth.Authenticate(ctx)
		if err != nil {
			return CredentialResult{}, err
		}
		if cred.IdentityToken == nil || *cred.IdentityToken == "" {
			return CredentialResult{}, newError(KindInvalidCredentials, "credential has no identity token")
		}

		claims, err := verifier.Verify(*cred.IdentityToken)
		if err != nil {
			return CredentialResult{}, newError(KindInvalidCredentials, err.Error())
		}
		if claims.Subject != cred.UserID {
			return CredentialResult{}, newError(KindInvalidCredentials, "identity token subject does not match user")
		}

		return cred, nil
	})
}
