package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// JWK represents a public key in JSON Web Key format (RFC 7517).
// Only signature keys are of interest to us: RSA, Ed25519 and P-256.
type JWK struct {
	Kty string `json:"kty"`           // key type: "RSA", "OKP", "EC"
	Use string `json:"use,omitempty"` // "sig"; encryption keys are skipped
	Alg string `json:"alg,omitempty"` // "RS256", "ES256", "EdDSA"
	Kid string `json:"kid,omitempty"` // key ID

	// RSA stuff
	N string `json:"n,omitempty"` // modulus (base64url)
	E string `json:"e,omitempty"` // exponent (base64url)

	// Ed25519 / OKP fields and ECDSA / EC fields
	Crv string `json:"crv,omitempty"` // curve: "Ed25519", "P-256"
	X   string `json:"x,omitempty"`   // public key or x-coordinate (base64url)
	Y   string `json:"y,omitempty"`   // y-coordinate, EC only (base64url)
}

// JWKS is a JSON Web Key Set (RFC 7517), as served by a provider's jwks_uri.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

var ErrUnsupportedKey = errors.New("jwtx: unsupported key")

var b64 = base64.RawURLEncoding

// PublicJWK describes pub as a signature JWK. Identity providers publish
// these; tests use it to stand one up.
func PublicJWK(kid string, pub any) (JWK, error) {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return JWK{
			Kty: "RSA", Use: "sig", Alg: "RS256", Kid: kid,
			N: b64.EncodeToString(key.N.Bytes()),
			E: b64.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}, nil

	case ed25519.PublicKey:
		return JWK{
			Kty: "OKP", Use: "sig", Alg: "EdDSA", Kid: kid, Crv: "Ed25519",
			X: b64.EncodeToString(key),
		}, nil

	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return JWK{}, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, key.Curve.Params().Name)
		}
		point, err := key.Bytes() // 0x04 || X || Y, fixed width
		if err != nil {
			return JWK{}, err
		}
		return JWK{
			Kty: "EC", Use: "sig", Alg: "ES256", Kid: kid, Crv: "P-256",
			X: b64.EncodeToString(point[1:33]),
			Y: b64.EncodeToString(point[33:]),
		}, nil

	default:
		return JWK{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// PublicKey decodes the JWK into *rsa.PublicKey, ed25519.PublicKey or
// *ecdsa.PublicKey.
func (j JWK) PublicKey() (any, error) {
	switch j.Kty {
	case "RSA":
		nb, err := b64.DecodeString(j.N)
		if err != nil {
			return nil, fmt.Errorf("jwtx: rsa modulus: %w", err)
		}
		eb, err := b64.DecodeString(j.E)
		if err != nil {
			return nil, fmt.Errorf("jwtx: rsa exponent: %w", err)
		}
		e := new(big.Int).SetBytes(eb)
		if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
			return nil, fmt.Errorf("%w: rsa exponent out of range", ErrUnsupportedKey)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil

	case "OKP":
		if j.Crv != "Ed25519" {
			return nil, fmt.Errorf("%w: OKP curve %s", ErrUnsupportedKey, j.Crv)
		}
		xb, err := b64.DecodeString(j.X)
		if err != nil {
			return nil, fmt.Errorf("jwtx: ed25519 key: %w", err)
		}
		if len(xb) != ed25519.PublicKeySize {
			return nil, errors.New("jwtx: invalid Ed25519 public key size")
		}
		return ed25519.PublicKey(xb), nil

	case "EC":
		if j.Crv != "P-256" {
			return nil, fmt.Errorf("%w: EC curve %s", ErrUnsupportedKey, j.Crv)
		}
		xb, err := b64.DecodeString(j.X)
		if err != nil {
			return nil, fmt.Errorf("jwtx: ec x: %w", err)
		}
		yb, err := b64.DecodeString(j.Y)
		if err != nil {
			return nil, fmt.Errorf("jwtx: ec y: %w", err)
		}
		if len(xb) != 32 || len(yb) != 32 {
			return nil, errors.New("jwtx: invalid P-256 coordinate size")
		}

		point := append(append([]byte{0x04}, xb...), yb...)
		pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), point)
		if err != nil {
			return nil, fmt.Errorf("jwtx: ec point: %w", err)
		}
		return pub, nil

	default:
		return nil, fmt.Errorf("%w: kty %s", ErrUnsupportedKey, j.Kty)
	}
}
