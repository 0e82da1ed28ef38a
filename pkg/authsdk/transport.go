package authsdk

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/authsession/pkg/httpx"
)

// AuthorizationHeader returns the Authorization header value for a fresh
// token, refreshing within DefaultRefreshThreshold when possible.
func (m *Manager) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := m.FreshToken(ctx, true, 0)
	if err != nil {
		return "", err
	}
	return token.AuthorizationHeaderValue(), nil
}

// HTTPClient returns a copy of base (http.DefaultClient when nil) whose
// requests carry the current session's token. Requests fail without being
// sent while no valid token is available.
func (m *Manager) HTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}

	client := *base
	client.Transport = &httpx.BearerTransport{
		Base:   base.Transport,
		Header: m.AuthorizationHeader,
	}
	return &client
}
