package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/aussiebroadwan/authsession/internal/store"
	"github.com/aussiebroadwan/authsession/internal/store/drivers/postgres"
	"github.com/aussiebroadwan/authsession/internal/store/drivers/redis"
	"github.com/aussiebroadwan/authsession/internal/store/drivers/sqlite"
	"github.com/aussiebroadwan/authsession/pkg/authsdk"
	"github.com/aussiebroadwan/authsession/pkg/httpx"
	"github.com/aussiebroadwan/authsession/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// ErrUsage marks errors caused by bad command line input.
var ErrUsage = errors.New("usage")

// Application is the authctl command line tool with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	stdin  io.Reader
	stdout io.Writer

	// openBrowser is called with the authorization URL during login
	openBrowser func(url string) error

	// Core dependencies
	db       store.Store // nil for memory storage
	storage  authsdk.Storage
	client   *authsdk.OAuthClient
	provider *authsdk.OAuthProvider
	manager  *authsdk.Manager

	commands map[string]command
}

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

// Option customises an Application. Tests use them to swap terminal I/O.
type Option func(*Application)

// WithIO replaces stdin and stdout.
func WithIO(stdin io.Reader, stdout io.Writer) Option {
	return func(app *Application) {
		app.stdin = stdin
		app.stdout = stdout
	}
}

// WithLogger replaces the configured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(app *Application) { app.logger = logger }
}

// WithBrowser replaces the function that opens the authorization URL.
func WithBrowser(open func(url string) error) Option {
	return func(app *Application) { app.openBrowser = open }
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg:         cfg,
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		openBrowser: openBrowser,
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "authctl",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}

	if err := app.initStorage(context.Background()); err != nil {
		return nil, err
	}

	app.initAuth()
	app.initCommands()

	return app, nil
}

// Run executes the command named by args[0]. Interrupts cancel ctx so
// blocking calls (token requests, the login callback wait) unwind cleanly.
func (app *Application) Run(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		app.printUsage()
		return fmt.Errorf("%w: no command given", ErrUsage)
	}

	name := args[0]
	cmd, ok := app.commands[name]
	if !ok {
		app.printUsage()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, name)
	}

	ctx = slogx.WithCommand(slogx.WithContext(ctx, app.logger), name)

	slogx.FromContext(ctx).Debug("running command", "args", len(args)-1)
	return cmd.run(ctx, args[1:])
}

// Close releases the storage backend.
func (app *Application) Close() error {
	if app.db == nil {
		return nil
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing storage", "error", err)
		return err
	}
	return nil
}

// initStorage opens the configured backend and applies its migrations
func (app *Application) initStorage(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)

	switch app.cfg.Storage {
	case StorageMemory:
		app.storage = authsdk.NewMemoryStorage()
		return nil
	case StorageSQLite:
		db, err = sqlite.NewStore(fmt.Sprintf("file:%s", app.cfg.DatabaseFile))
	case StoragePostgres:
		db, err = postgres.Open(ctx, app.cfg.DatabaseURL)
	case StorageRedis:
		db, err = redis.Open(ctx, redis.Config{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", app.cfg.Storage, err)
	}

	if err := db.ApplyMigrations(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply storage migrations: %w", err)
	}

	app.logger.Debug("storage ready", "backend", app.cfg.Storage)

	app.db = db
	app.storage = store.NewSessionStorage(db)
	return nil
}

// initAuth wires the OAuth client, provider and session manager
func (app *Application) initAuth() {
	app.client = authsdk.NewOAuthClient()
	app.client.Limiter = httpx.NewLimiter(app.cfg.TokenRateLimit)

	app.provider = authsdk.NewOAuthProvider(app.client, app.cfg.OAuthConfig())

	app.manager = authsdk.NewManager(authsdk.ManagerConfig{
		Storage:    app.storage,
		Refresher:  app.provider,
		StorageKey: app.cfg.StorageKey,
		Logger:     app.logger,
	})
}

func (app *Application) initCommands() {
	app.commands = map[string]command{
		"login":    {"login [-no-browser]", app.runLogin},
		"password": {"password -username NAME", app.runPassword},
		"status":   {"status", app.runStatus},
		"token":    {"token [-refresh] [-threshold DURATION]", app.runToken},
		"refresh":  {"refresh", app.runRefresh},
		"logout":   {"logout [-keep] [-no-revoke]", app.runLogout},
		"get":      {"get URL", app.runGet},
	}
}

func (app *Application) printUsage() {
	names := make([]string, 0, len(app.commands))
	for name := range app.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(app.stdout, "usage: authctl <command> [flags]")
	fmt.Fprintln(app.stdout)
	for _, name := range names {
		fmt.Fprintf(app.stdout, "  authctl %s\n", app.commands[name].usage)
	}
}
