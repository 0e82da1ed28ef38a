/*
Package authsdk is a client-side authentication session manager.

# Overview

An application signs a user in through one of several providers (an OAuth2
authorization server, a native platform sign-in such as Sign in with Apple,
resource owner credentials) and afterwards needs a valid access token on
every API call. authsdk keeps that state in one place:

  - Token, Session and AuthUser are plain values that encode to a stable
    JSON layout.
  - NewPKCE generates RFC 7636 S256 verifier/challenge pairs.
  - BuildAuthorizationURL, ParseCallback and OAuthClient implement the
    authorization code flow and the token endpoint grants.
  - Manager holds at most one current Session, hands out fresh tokens and
    persists the session through a Storage capability.

# Authorization code flow

	provider := authsdk.NewOAuthProvider(nil, authsdk.NewOAuthConfig(
		"my-client",
		"https://auth.example.com/authorize",
		"https://auth.example.com/token",
		"http://127.0.0.1:8765/callback",
		"openid", "profile",
	))

	req, err := provider.Begin()
	// open req.URL in a browser, wait for the redirect to arrive
	token, err := provider.Complete(ctx, req, callbackURL)

	manager := authsdk.NewManager(authsdk.ManagerConfig{
		Storage:   storage,
		Refresher: provider,
	})
	manager.SetSession(authsdk.NewSession(token, authsdk.ProviderOAuth, nil))
	err = manager.PersistSession(ctx)

# Fresh tokens

FreshToken returns the current token, refreshing it first when it expires
within the threshold and a Refresher is configured:

	token, err := manager.FreshToken(ctx, true, 0)
	if errors.Is(err, authsdk.ErrNotAuthenticated) {
		// send the user to sign in
	}
	req.Header.Set("Authorization", token.AuthorizationHeaderValue())

Concurrent callers share a single refresh request per session.

# Cold start

	loaded, err := manager.LoadSession(ctx)

A session already held in memory is never overwritten by LoadSession. An
expired session still loads; check HasValidSession or call FreshToken.

# Errors

Every failure is an Error value carrying an ErrorKind. Use errors.Is with the
Err* sentinels to match on kind only, or == to match kind and detail:

	if errors.Is(err, authsdk.ErrRefreshFailed) {
		_ = manager.SignOut(ctx, true)
	}

PasswordGrant additionally returns *MFARequiredError when the account needs a
second factor; finish the sign-in with MFAOTPGrant.
*/
package authsdk
