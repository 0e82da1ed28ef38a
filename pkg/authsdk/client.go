package authsdk

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// OAuthClient performs the token endpoint half of the OAuth2 protocol. It
// holds no session state; every call is a single blocking POST and any
// failure is returned to the caller without retrying.
type OAuthClient struct {
	HTTPClient *http.Client

	// Limiter, when set, is waited on before each token endpoint request so a
	// misbehaving caller cannot hammer the provider. Waiting honours ctx.
	Limiter *rate.Limiter

	// Clock is used to turn expires_in into an absolute expiry. Defaults to time.Now.
	Clock func() time.Time
}

// NewOAuthClient creates a client with a 10 second HTTP timeout.
func NewOAuthClient() *OAuthClient {
	return &OAuthClient{
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		Clock: time.Now,
	}
}

func (c *OAuthClient) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

func (c *OAuthClient) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// wait blocks on the limiter, if any.
func (c *OAuthClient) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	if err := c.Limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return newError(KindCancelled, ctx.Err().Error())
		}
		return NetworkError("token endpoint rate limit: " + err.Error())
	}
	return nil
}
