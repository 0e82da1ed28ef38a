package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aussiebroadwan/authsession/pkg/httpx"
	"github.com/aussiebroadwan/authsession/pkg/slogx"
)

const (
	callbackSuccessPage = `<!doctype html><title>Signed in</title>` +
		`<p>You are signed in. You can close this tab and return to the terminal.</p>`
	callbackFailurePage = `<!doctype html><title>Sign-in failed</title>` +
		`<p>Sign-in did not complete. Check the terminal for details.</p>`
)

// callbackServer receives the OAuth redirect on a loopback address
// (RFC 8252 section 7.3). Only the first callback carrying the expected
// state is delivered.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	results  chan *url.URL
	state    atomic.Pointer[string]

	// RedirectURL is the address the server actually listens on. It differs
	// from the configured one when that used port 0.
	RedirectURL *url.URL
}

// newCallbackRouter serves GET path. A callback whose state matches
// expected() is sent to results without blocking when nobody is waiting; any
// other hit is answered with the failure page and dropped.
func newCallbackRouter(
	path string,
	logger *slog.Logger,
	expected func() string,
	results chan<- *url.URL,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(slogx.HTTPMiddleware(logger))

	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		callback := *r.URL
		query := callback.Query()

		want := expected()
		if want == "" || subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(want)) != 1 {
			slogx.FromContext(r.Context()).Warn("ignoring callback with unexpected state")
			httpx.WriteHTML(w, http.StatusBadRequest, callbackFailurePage)
			return
		}

		select {
		case results <- &callback:
		default:
			slogx.FromContext(r.Context()).Warn("ignoring repeated callback")
		}

		if query.Get("error") != "" || query.Get("code") == "" {
			httpx.WriteHTML(w, http.StatusBadRequest, callbackFailurePage)
			return
		}
		httpx.WriteHTML(w, http.StatusOK, callbackSuccessPage)
	})

	return r
}

// listenCallback binds the loopback address from redirect. Only http
// redirects to loopback hosts are accepted.
func listenCallback(redirect string, logger *slog.Logger) (*callbackServer, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect url: %w", err)
	}
	if u.Scheme != "http" || !isLoopback(u.Hostname()) {
		return nil, fmt.Errorf("redirect url %q is not an http loopback address", redirect)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("unable to listen for callback: %w", err)
	}

	bound := *u
	bound.Host = ln.Addr().String()
	if u.Hostname() == "localhost" {
		bound.Host = net.JoinHostPort("localhost", portOf(ln.Addr()))
	}

	cb := &callbackServer{
		listener:    ln,
		results:     make(chan *url.URL, 1),
		RedirectURL: &bound,
	}
	cb.server = &http.Server{
		Handler:           newCallbackRouter(path, logger, cb.expectedState, cb.results),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return cb, nil
}

// Expect sets the state a callback must carry to be delivered. Until it is
// called every callback is dropped.
func (s *callbackServer) Expect(state string) {
	s.state.Store(&state)
}

func (s *callbackServer) expectedState() string {
	if state := s.state.Load(); state != nil {
		return *state
	}
	return ""
}

// Serve runs the server until Shutdown.
func (s *callbackServer) Serve() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until the first callback arrives or ctx is done.
func (s *callbackServer) Wait(ctx context.Context) (*url.URL, error) {
	select {
	case callback := <-s.results:
		return callback, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *callbackServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func portOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return fmt.Sprint(tcp.Port)
	}
	return ""
}
