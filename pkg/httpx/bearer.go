package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HeaderFunc returns the Authorization header value for an outgoing request.
type HeaderFunc func(ctx context.Context) (string, error)

// BearerTransport sets the Authorization header on every request it sends.
// The request passed in is never modified; a clone carries the header.
type BearerTransport struct {
	Base   http.RoundTripper
	Header HeaderFunc
}

func (t *BearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	value, err := t.Header(r.Context())
	if err != nil {
		if r.Body != nil {
			_ = r.Body.Close()
		}
		return nil, fmt.Errorf("authorization header: %w", err)
	}

	clone := r.Clone(r.Context())
	clone.Header.Set("Authorization", value)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// BearerChallenge is the parsed WWW-Authenticate header of an RFC 6750
// error response.
type BearerChallenge struct {
	Error            string
	ErrorDescription string
	Scope            string
}

// InvalidToken reports whether the resource server rejected the token
// itself, as opposed to its scope.
func (c BearerChallenge) InvalidToken() bool {
	return c.Error == "invalid_token"
}

// ParseBearerChallenge reads the Bearer challenge from resp. ok is false when
// the response carries none.
func ParseBearerChallenge(resp *http.Response) (challenge BearerChallenge, ok bool) {
	header := resp.Header.Get("WWW-Authenticate")
	scheme, params, found := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return BearerChallenge{}, false
	}
	if !found {
		return BearerChallenge{}, true
	}

	for _, part := range splitParams(params) {
		key, value, _ := strings.Cut(part, "=")
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch strings.TrimSpace(key) {
		case "error":
			challenge.Error = value
		case "error_description":
			challenge.ErrorDescription = value
		case "scope":
			challenge.Scope = value
		}
	}

	return challenge, true
}

// splitParams splits auth-params on commas outside quoted strings.
func splitParams(s string) []string {
	var (
		parts  []string
		quoted bool
		start  int
	)

	for i, r := range s {
		switch r {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
