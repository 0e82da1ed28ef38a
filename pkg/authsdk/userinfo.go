package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// UserInfoResponse is the OpenID Connect userinfo body. Only the claims that
// map onto AuthUser are decoded.
type UserInfoResponse struct {
	Subject    string `json:"sub"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

// ToUser converts the response into an AuthUser, leaving absent claims nil.
func (r UserInfoResponse) ToUser() *AuthUser {
	return &AuthUser{
		ID:         r.Subject,
		Email:      optionalString(r.Email),
		FullName:   optionalString(r.Name),
		GivenName:  optionalString(r.GivenName),
		FamilyName: optionalString(r.FamilyName),
	}
}

// UserInfo fetches the profile of the token owner from an OpenID Connect
// userinfo endpoint.
//
// A 401 fails with TokenExpired so callers can refresh and retry; any other
// non-2xx status fails with ProviderError carrying the body.
func (c *OAuthClient) UserInfo(ctx context.Context, userInfoURL string, token Token) (*AuthUser, error) {
	if err := validateAbsoluteURL(userInfoURL); err != nil {
		return nil, InvalidConfiguration("userinfo url: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, InvalidConfiguration("failed to create request: " + err.Error())
	}
	req.Header.Set("Authorization", token.AuthorizationHeaderValue())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindCancelled, ctx.Err().Error())
		}
		return nil, NetworkError("failed to send request: " + err.Error())
	}

	var info UserInfoResponse
	if err := decodeJSON(resp, &info); err != nil {
		return nil, err
	}
	if info.Subject == "" {
		return nil, ProviderError("userinfo response missing sub")
	}

	return info.ToUser(), nil
}

// decodeJSON reads a JSON response into target, mapping error statuses onto
// SDK errors.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NetworkError("failed to read response body: " + err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return newError(KindTokenExpired, string(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return ProviderError(fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return ProviderError("failed to decode response: " + err.Error())
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
