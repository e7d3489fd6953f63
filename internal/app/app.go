// Package app wires the memoria subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the memorial catalog,
// chat manager, health checks and HTTP server, Run serves until its context
// is cancelled, and Shutdown releases what New acquired.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/memoria/internal/chat"
	"github.com/MrWong99/memoria/internal/config"
	"github.com/MrWong99/memoria/internal/health"
	"github.com/MrWong99/memoria/internal/memorial"
	"github.com/MrWong99/memoria/internal/observe"
	"github.com/MrWong99/memoria/internal/server"
	"github.com/MrWong99/memoria/pkg/provider/live"
	"github.com/MrWong99/memoria/pkg/provider/llm"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured and the matching routes answer 503. Populated by
// main.go via the config registry.
type Providers struct {
	Chat     llm.Provider
	ChatName string

	Live     live.Provider
	LiveName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	level     *slog.LevelVar

	// Subsystems, initialised in New.
	store    memorial.Store
	mem      *memorial.MemStore // set when the catalog is config-owned
	checkers []health.Checker
	chats    *chat.Manager
	health   *health.Handler
	server   *server.Server
	httpSrv  *http.Server

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a memorial store instead of creating one from config.
// Catalog hot reload only applies to [*memorial.MemStore].
func WithStore(s memorial.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets [App.Reload] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: catalog connection,
// migration and seeding, chat manager construction and route assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Memorial catalog ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Chats ─────────────────────────────────────────────────────────
	a.initChats()

	// ── 3. Health + HTTP ─────────────────────────────────────────────────
	a.checkers = append(a.checkers, health.Checker{Name: "catalog", Check: func(ctx context.Context) error {
		_, err := a.store.List(ctx)
		return err
	}})
	a.health = health.New(a.checkers...)

	if providers.Live == nil {
		a.log.Warn("no live provider configured, calls are disabled")
	}
	a.server = server.New(server.Config{
		Catalog:        a.store,
		Chats:          a.chats,
		Live:           providers.Live,
		LiveName:       providers.LiveName,
		Call:           cfg.Call,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         a.health,
		Metrics:        a.metrics,
		Logger:         a.log,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	return a, nil
}

// initStore connects the configured catalog unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		if ms, ok := a.store.(*memorial.MemStore); ok {
			a.mem = ms
		}
		return nil
	}

	store, pool, err := OpenStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.store = store
	if pool == nil {
		a.mem, _ = store.(*memorial.MemStore)
		return nil
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.checkers = append(a.checkers, health.PingChecker("postgres", pool))
	a.log.Info("memorial catalog backed by postgres", "seeded", a.cfg.Storage.SeedMemorials)
	return nil
}

// OpenStore opens the memorial catalog described by cfg.Storage. Without a
// DSN it returns a [memorial.MemStore] holding cfg.Catalog() and a nil pool.
// Otherwise it connects, migrates and optionally seeds PostgreSQL; the caller
// closes the returned pool.
func OpenStore(ctx context.Context, cfg *config.Config) (memorial.Store, *pgxpool.Pool, error) {
	dsn := cfg.Storage.PostgresDSN
	if dsn == "" {
		ms, err := memorial.NewMemStore(cfg.Catalog()...)
		if err != nil {
			return nil, nil, err
		}
		return ms, nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	pg := memorial.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if cfg.Storage.SeedMemorials {
		if err := pg.Seed(ctx, cfg.Catalog()); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return pg, pool, nil
}

// initChats creates the chat manager when a chat provider is configured.
func (a *App) initChats() {
	if a.providers.Chat == nil {
		a.log.Warn("no chat provider configured, text chats are disabled")
		return
	}
	cc := a.cfg.Chat
	opts := []chat.Option{
		chat.WithMetrics(a.metrics),
		chat.WithLogger(a.log),
	}
	if a.providers.ChatName != "" {
		opts = append(opts, chat.WithProviderName(a.providers.ChatName))
	}
	if cc.Temperature > 0 {
		opts = append(opts, chat.WithTemperature(cc.Temperature))
	}
	if cc.MaxReplyTokens > 0 {
		opts = append(opts, chat.WithMaxReplyTokens(cc.MaxReplyTokens))
	}
	if cc.Summarise {
		opts = append(opts, chat.WithSummariser(chat.NewLLMSummariser(a.providers.Chat)))
	}
	a.chats = chat.NewManager(a.providers.Chat, a.store, chat.ManagerConfig{
		IdleTimeout: cc.IdleTimeout,
		MaxSessions: cc.MaxSessions,
		Logger:      a.log,
	}, opts...)
}

// Store returns the memorial catalog.
func (a *App) Store() memorial.Store { return a.store }

// Chats returns the chat manager, nil when no chat provider is configured.
func (a *App) Chats() *chat.Manager { return a.chats }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Addr blocks until Run is listening and returns the bound address, or nil
// when ctx ends first.
func (a *App) Addr(ctx context.Context) net.Addr {
	select {
	case <-a.ready:
		a.addrMu.Lock()
		defer a.addrMu.Unlock()
		return a.addr
	case <-ctx.Done():
		return nil
	}
}

// Run serves HTTP and sweeps idle chats until ctx is cancelled, then drains:
// readiness fails first, live calls are hung up, and in-flight requests get
// server.shutdown_timeout to finish. Run returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)
	if a.chats != nil {
		g.Go(func() error { return a.chats.Run(gctx) })
	}
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.drain()
	})

	a.log.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil,
		"chat", a.providers.ChatName, "live", a.providers.LiveName)
	return g.Wait()
}

func (a *App) drain() error {
	a.health.Drain()
	a.server.CloseCalls()

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown incomplete", "err", err)
		_ = a.httpSrv.Close()
	}
	return nil
}

// Reload applies a hot-reloadable config change. It matches the
// [config.Watcher] callback signature.
func (a *App) Reload(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MemorialsChanged {
		if a.mem == nil {
			a.log.Warn("memorials changed in config but the catalog lives in postgres; edit the database instead",
				"changes", len(d.MemorialChanges))
		} else if err := a.mem.Replace(next.Catalog()); err != nil {
			a.log.Error("memorial reload rejected, keeping previous catalog", "err", err)
		} else {
			for _, c := range d.MemorialChanges {
				a.log.Info("memorial reloaded", "id", c.ID, "added", c.Added, "removed", c.Removed,
					"context_changed", c.ContextChanged, "voice_changed", c.VoiceChanged)
			}
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown hangs up remaining calls and releases everything New acquired. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.server.CloseCalls()
		shutdownErr = a.runClosers(ctx)
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			a.log.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}
