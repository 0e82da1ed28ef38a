package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authsession/pkg/authsdk"
	"github.com/aussiebroadwan/authsession/pkg/httpx"
	"github.com/aussiebroadwan/authsession/pkg/slogx"
)

// runStatus prints the stored session without touching the network.
func (app *Application) runStatus(ctx context.Context, args []string) error {
	if err := parseFlags(app.flagSet("status"), args); err != nil {
		return err
	}
	if _, err := app.manager.LoadSession(ctx); err != nil {
		return err
	}
	return app.printStatus()
}

// runToken prints an access token, refreshing it first when asked to and it
// is close to expiry.
func (app *Application) runToken(ctx context.Context, args []string) error {
	fs := app.flagSet("token")
	refresh := fs.Bool("refresh", false, "refresh the token when it is close to expiry")
	threshold := fs.Duration("threshold", app.cfg.RefreshThreshold, "how close to expiry counts as expiring")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	before, err := app.requireSession(ctx)
	if err != nil {
		return err
	}

	token, err := app.manager.FreshToken(ctx, *refresh, *threshold)
	if err != nil {
		return err
	}
	if err := app.persistIfChanged(ctx, before); err != nil {
		return err
	}

	fmt.Fprintln(app.stdout, token.AccessToken)
	return nil
}

// runRefresh renews the token unconditionally.
func (app *Application) runRefresh(ctx context.Context, args []string) error {
	if err := parseFlags(app.flagSet("refresh"), args); err != nil {
		return err
	}
	if _, err := app.requireSession(ctx); err != nil {
		return err
	}

	token, err := app.manager.Refresh(ctx)
	if err != nil {
		return err
	}
	if err := app.manager.PersistSession(ctx); err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Token refreshed, expires %s.\n", describeExpiry(token.ExpiresAt, time.Now()))
	return nil
}

// runLogout signs out, revoking the refresh token at the provider when a
// revocation endpoint is configured.
func (app *Application) runLogout(ctx context.Context, args []string) error {
	fs := app.flagSet("logout")
	keep := fs.Bool("keep", false, "keep the stored session, only forget it for this run")
	noRevoke := fs.Bool("no-revoke", false, "skip token revocation")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if _, err := app.manager.LoadSession(ctx); err != nil {
		return err
	}

	if s, ok := app.manager.CurrentSession(); ok && app.cfg.RevokeURL != "" && !*noRevoke && !*keep {
		app.revoke(ctx, s.Token)
	}

	if err := app.manager.SignOut(ctx, !*keep); err != nil {
		return err
	}

	fmt.Fprintln(app.stdout, "Signed out.")
	return nil
}

// revoke asks the provider to drop the session's tokens. Failures are logged;
// signing out locally still goes ahead.
func (app *Application) revoke(ctx context.Context, token authsdk.Token) {
	logger := slogx.FromContext(ctx)

	target := token.AccessToken
	if token.RefreshToken != nil {
		target = *token.RefreshToken
	}

	if err := app.client.Revoke(ctx, app.provider.Config, app.cfg.RevokeURL, target); err != nil {
		logger.Warn("token revocation failed", "error", err)
		return
	}
	logger.Debug("token revoked")
}

// runGet fetches url with the session's token and copies the body to stdout.
func (app *Application) runGet(ctx context.Context, args []string) error {
	fs := app.flagSet("get")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: get takes exactly one URL", ErrUsage)
	}

	before, err := app.requireSession(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fs.Arg(0), nil)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	client := app.manager.HTTPClient(&http.Client{Timeout: 30 * time.Second})
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// a refresh may have happened on the way out
	if err := app.persistIfChanged(ctx, before); err != nil {
		return err
	}

	if challenge, ok := httpx.ParseBearerChallenge(resp); ok && challenge.InvalidToken() {
		return authsdk.Error{Kind: authsdk.KindTokenExpired, Detail: challenge.ErrorDescription}
	}

	if _, err := io.Copy(app.stdout, resp.Body); err != nil {
		return fmt.Errorf("unable to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}

// requireSession loads the stored session and fails with NotAuthenticated
// when there is none. It returns the token held before the command ran.
func (app *Application) requireSession(ctx context.Context) (authsdk.Token, error) {
	if _, err := app.manager.LoadSession(ctx); err != nil {
		return authsdk.Token{}, err
	}

	s, ok := app.manager.CurrentSession()
	if !ok {
		return authsdk.Token{}, authsdk.ErrNotAuthenticated
	}
	return s.Token, nil
}

// persistIfChanged writes the session back when a refresh replaced before.
func (app *Application) persistIfChanged(ctx context.Context, before authsdk.Token) error {
	current, err := app.manager.CurrentToken()
	if err != nil || current.AccessToken == before.AccessToken {
		return nil
	}
	return app.manager.PersistSession(ctx)
}

func (app *Application) printStatus() error {
	s, ok := app.manager.CurrentSession()
	if !ok {
		fmt.Fprintln(app.stdout, "Not signed in.")
		return nil
	}

	now := time.Now()

	fmt.Fprintf(app.stdout, "Provider:  %s\n", s.Provider)
	if s.User != nil {
		who := s.User.ID
		if s.User.Email != nil {
			who = fmt.Sprintf("%s <%s>", who, *s.User.Email)
		}
		fmt.Fprintf(app.stdout, "User:      %s\n", who)
	}
	fmt.Fprintf(app.stdout, "Session:   %s (since %s)\n", s.ID, s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(app.stdout, "Expires:   %s\n", describeExpiry(s.Token.ExpiresAt, now))
	fmt.Fprintf(app.stdout, "Valid:     %t\n", s.IsValidAt(now))
	fmt.Fprintf(app.stdout, "Refresh:   %t\n", s.Token.CanRefresh())
	return nil
}

func describeExpiry(expiresAt *time.Time, now time.Time) string {
	if expiresAt == nil {
		return "never"
	}

	left := expiresAt.Sub(now).Round(time.Second)
	if left <= 0 {
		return fmt.Sprintf("%s (expired)", expiresAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s (in %s)", expiresAt.Format(time.RFC3339), left)
}
