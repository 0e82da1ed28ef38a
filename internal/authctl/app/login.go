package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/authsession/pkg/authsdk"
	"github.com/aussiebroadwan/authsession/pkg/slogx"
)

// runLogin signs in through the browser with the authorization code flow.
func (app *Application) runLogin(ctx context.Context, args []string) error {
	fs := app.flagSet("login")
	noBrowser := fs.Bool("no-browser", false, "print the authorization URL instead of opening it")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	logger := slogx.FromContext(ctx)

	cb, err := listenCallback(app.cfg.RedirectURL, logger)
	if err != nil {
		return err
	}
	defer cb.Shutdown()

	go func() {
		if err := cb.Serve(); err != nil {
			logger.Error("callback server failed", "error", err)
		}
	}()

	// the registered redirect may use port 0; send the one actually bound
	cfg := app.provider.Config
	cfg.RedirectURL = cb.RedirectURL.String()
	provider := authsdk.NewOAuthProvider(app.client, cfg)

	req, err := provider.Begin()
	if err != nil {
		return err
	}
	cb.Expect(req.State)

	fmt.Fprintf(app.stdout, "Open this URL to sign in:\n\n  %s\n\n", req.URL)
	if !*noBrowser {
		if err := app.openBrowser(req.URL.String()); err != nil {
			logger.Warn("unable to open browser", "error", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, app.cfg.LoginTimeout)
	defer cancel()

	callback, err := cb.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("no callback within %s", app.cfg.LoginTimeout)
		}
		return authsdk.ErrCancelled
	}

	token, err := provider.Complete(ctx, req, callback)
	if err != nil {
		return err
	}

	return app.signIn(ctx, token, authsdk.ProviderOAuth)
}

// runPassword signs in with the resource owner password grant, answering an
// MFA challenge with a TOTP code when one is required.
func (app *Application) runPassword(ctx context.Context, args []string) error {
	fs := app.flagSet("password")
	username := fs.String("username", "", "account to sign in as")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("%w: -username is required", ErrUsage)
	}

	in := bufio.NewReader(app.stdin)
	cfg := app.provider.Config

	fmt.Fprint(app.stdout, "Password: ")
	password, err := readLine(in)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.stdout)

	token, err := app.client.PasswordGrant(ctx, cfg, *username, password)

	var mfaErr *authsdk.MFARequiredError
	if errors.As(err, &mfaErr) {
		slogx.FromContext(ctx).Info("mfa required", "methods", mfaErr.Methods)

		code, codeErr := app.otpCode(in)
		if codeErr != nil {
			return codeErr
		}
		token, err = app.client.MFAOTPGrant(ctx, cfg, *mfaErr, "totp", code)
	}
	if err != nil {
		return err
	}

	return app.signIn(ctx, token, authsdk.ProviderCredentials)
}

// otpCode generates the current code from AUTH_TOTP_SECRET or asks for one.
func (app *Application) otpCode(in *bufio.Reader) (string, error) {
	if app.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(app.cfg.TOTPSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("unable to generate totp code: %w", err)
		}
		return code, nil
	}

	fmt.Fprint(app.stdout, "Authentication code: ")
	code, err := readLine(in)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(app.stdout)
	return code, nil
}

// signIn installs token as the current session and persists it.
func (app *Application) signIn(ctx context.Context, token authsdk.Token, provider authsdk.Provider) error {
	logger := slogx.FromContext(ctx)

	var user *authsdk.AuthUser
	if app.cfg.UserInfoURL != "" {
		u, err := app.client.UserInfo(ctx, app.cfg.UserInfoURL, token)
		if err != nil {
			// sign-in still succeeds, just without a profile
			logger.Warn("unable to fetch user info", "error", err)
		} else {
			user = u
		}
	}

	app.manager.SetSession(authsdk.NewSession(token, provider, user))
	if err := app.manager.PersistSession(ctx); err != nil {
		return err
	}

	fmt.Fprintln(app.stdout, "Signed in.")
	return app.printStatus()
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("unable to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (app *Application) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(app.stdout)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}
