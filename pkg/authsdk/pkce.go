package authsdk

import (
	"github.com/aussiebroadwan/authsession/pkg/cryptox"
)

// PKCEMethodS256 is the only challenge method the SDK produces.
const PKCEMethodS256 = "S256"

// PKCE holds the verifier/challenge pair for one authorization attempt. The
// verifier stays with the client and is sent only to the token endpoint; the
// challenge goes on the authorization URL. Discard the value after the code
// exchange.
type PKCE struct {
	// CodeVerifier is 32 random bytes, base64url encoded without padding (43 chars)
	CodeVerifier string

	// CodeChallenge is BASE64URL(SHA256(CodeVerifier))
	CodeChallenge string

	// CodeChallengeMethod is always "S256"
	CodeChallengeMethod string
}

// NewPKCE generates a fresh pair from crypto/rand. It performs no I/O and
// panics if the system randomness source is unavailable; there is no weaker
// fallback.
func NewPKCE() PKCE {
	return PKCEFromVerifier(cryptox.MustGenerateToken(cryptox.TokenSize256))
}

// PKCEFromVerifier derives the S256 pair for an existing verifier.
func PKCEFromVerifier(verifier string) PKCE {
	return PKCE{
		CodeVerifier:        verifier,
		CodeChallenge:       cryptox.S256(verifier),
		CodeChallengeMethod: PKCEMethodS256,
	}
}

// NewState returns a random value for the OAuth2 state parameter.
func NewState() string {
	return cryptox.MustGenerateToken(cryptox.TokenSize128)
}
