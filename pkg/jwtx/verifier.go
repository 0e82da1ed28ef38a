package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyOptions captures what an identity token must satisfy.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values, one of which the token must contain (claims.aud),
	// usually the client id. Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf/iat.
	// Because time sync is never perfect.
	Leeway time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

var (
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")

	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// IdentityVerifier checks identity token signatures against a provider's
// KeySet. RS256, ES256 and EdDSA are accepted; the key's type must match the
// token's alg and every token must name its key with a kid header.
type IdentityVerifier struct {
	keys *KeySet
	opts VerifyOptions
}

// NewIdentityVerifier creates a verifier backed by keys.
func NewIdentityVerifier(keys *KeySet, opts VerifyOptions) *IdentityVerifier {
	return &IdentityVerifier{keys: keys, opts: opts}
}

// Verify validates raw and returns its claims. Errors wrap one of the Err*
// values above.
func (v *IdentityVerifier) Verify(raw string) (IdentityClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodES256.Alg(),
			jwt.SigningMethodEdDSA.Alg(),
		}),
		jwt.WithLeeway(v.opts.Leeway),
		jwt.WithExpirationRequired(),
	}
	if v.opts.Clock != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(v.opts.Clock))
	}
	if v.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.opts.Issuer))
	}

	var claims IdentityClaims
	_, err := jwt.NewParser(parserOpts...).ParseWithClaims(raw, &claims, v.key)
	if err != nil {
		return IdentityClaims{}, mapParseError(err)
	}

	if claims.Subject == "" {
		return IdentityClaims{}, ErrMissingSubject
	}
	if err := v.checkAudience(claims.Audience); err != nil {
		return IdentityClaims{}, err
	}

	return claims, nil
}

// key resolves the verification key for t by kid and checks it fits the alg.
func (v *IdentityVerifier) key(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
	}

	pub, err := v.keys.Get(kid)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
	}

	var ok bool
	switch t.Method.Alg() {
	case jwt.SigningMethodRS256.Alg():
		_, ok = pub.(*rsa.PublicKey)
	case jwt.SigningMethodES256.Alg():
		_, ok = pub.(*ecdsa.PublicKey)
	case jwt.SigningMethodEdDSA.Alg():
		_, ok = pub.(ed25519.PublicKey)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s token with %T key", ErrAlgMismatch, t.Method.Alg(), pub)
	}
	return pub, nil
}

func (v *IdentityVerifier) checkAudience(aud jwt.ClaimStrings) error {
	if len(v.opts.Audience) == 0 {
		return nil
	}
	for _, want := range v.opts.Audience {
		for _, got := range aud {
			if got == want {
				return nil
			}
		}
	}
	return ErrAudience
}

// mapParseError folds golang-jwt's errors into ours.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID), errors.Is(err, ErrAlgMismatch):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errors.Join(ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.Join(ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.Join(ErrAlgMismatch, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Join(ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return errors.Join(ErrInvalidClaim, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return errors.Join(ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return errors.Join(ErrIssuer, err)
	default:
		return errors.Join(ErrInvalidSig, err)
	}
}
