package jwtx_test

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authsession/pkg/jwtx"
)

func TestPublicJWK_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, k := range newTestKeys(t) {
		t.Run(k.method.Alg(), func(t *testing.T) {
			jwk, err := jwtx.PublicJWK(k.kid, k.priv.Public())
			require.NoError(t, err)
			require.Equal(t, k.kid, jwk.Kid)
			require.Equal(t, k.method.Alg(), jwk.Alg)
			require.Equal(t, "sig", jwk.Use)

			// survives the trip through JSON like a fetched key would
			data, err := json.Marshal(jwk)
			require.NoError(t, err)
			var decoded jwtx.JWK
			require.NoError(t, json.Unmarshal(data, &decoded))

			pub, err := decoded.PublicKey()
			require.NoError(t, err)
			require.True(t, k.priv.Public().(interface{ Equal(crypto.PublicKey) bool }).Equal(pub))
		})
	}
}

func TestPublicJWK_Unsupported(t *testing.T) {
	t.Parallel()

	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	_, err = jwtx.PublicJWK("k", &p384.PublicKey)
	require.ErrorIs(t, err, jwtx.ErrUnsupportedKey)

	_, err = jwtx.PublicJWK("k", "not a key")
	require.ErrorIs(t, err, jwtx.ErrUnsupportedKey)

	_, err = jwtx.JWK{Kty: "oct"}.PublicKey()
	require.ErrorIs(t, err, jwtx.ErrUnsupportedKey)

	_, err = jwtx.JWK{Kty: "EC", Crv: "P-256", X: "AAAA", Y: "AAAA"}.PublicKey()
	require.Error(t, err)
}

func TestKeySet_ResetFromJWKS(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	sig, err := jwtx.PublicJWK("sig-1", keys[2].priv.Public())
	require.NoError(t, err)

	enc := sig
	enc.Kid = "enc-1"
	enc.Use = "enc"

	set := jwtx.NewKeySet()
	require.NoError(t, set.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{
		sig,
		enc,
		{Kty: "oct", Kid: "hmac-1"},
	}}))

	require.Equal(t, 1, set.Len())
	_, err = set.Get("sig-1")
	require.NoError(t, err)
	_, err = set.Get("enc-1")
	require.ErrorIs(t, err, jwtx.ErrNoKey)

	broken := sig
	broken.X = "!!"
	require.Error(t, set.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{broken}}))
	require.Equal(t, 1, set.Len(), "a bad set leaves the old keys in place")
}

func TestKeySet_Fetch(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	var jwks jwtx.JWKS
	for _, k := range keys {
		jwk, err := jwtx.PublicJWK(k.kid, k.priv.Public())
		require.NoError(t, err)
		jwks.Keys = append(jwks.Keys, jwk)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)

	set := jwtx.NewKeySet()
	require.True(t, set.FetchedAt().IsZero())

	require.NoError(t, set.Fetch(context.Background(), server.Client(), server.URL+"/.well-known/jwks.json"))
	require.Equal(t, 3, set.Len())
	require.False(t, set.FetchedAt().IsZero())

	// a token signed by a fetched key verifies
	verifier := jwtx.NewIdentityVerifier(set, jwtx.VerifyOptions{
		Clock: func() time.Time { return verifyNow },
	})
	_, err := verifier.Verify(sign(t, keys[1], keys[1].kid, validClaims()))
	require.NoError(t, err)

	require.Error(t, set.Fetch(context.Background(), server.Client(), server.URL+"/missing"))
	require.Equal(t, 3, set.Len())
}
