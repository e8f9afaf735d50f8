package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/zaphod72/oxd/pkg/config"
	"github.com/zaphod72/oxd/pkg/discovery"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/grant"
	"github.com/zaphod72/oxd/pkg/idtoken"
	"github.com/zaphod72/oxd/pkg/introspection"
	"github.com/zaphod72/oxd/pkg/lifecycle"
	"github.com/zaphod72/oxd/pkg/router"
	"github.com/zaphod72/oxd/pkg/rp"
	"github.com/zaphod72/oxd/pkg/server"
	"github.com/zaphod72/oxd/pkg/state"
	"github.com/zaphod72/oxd/pkg/storage/postgres"
	"github.com/zaphod72/oxd/pkg/storage/redis"
	"github.com/zaphod72/oxd/pkg/validation"
)

const shutdownTimeout = 15 * time.Second

// daemon is the wired object graph of a running oxd-server.
type daemon struct {
	cfg     *config.ServerConfig
	logger  *slog.Logger
	store   rp.Store
	sites   *rp.Cache
	states  *state.Store
	sweeper *state.Sweeper
	router  *router.Router
	server  *server.Server
	closers []func()
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	d, err := build(ctx, cfg, logger)
	if err != nil {
		logger.ErrorContext(ctx, "failed to wire oxd-server", "error", err)
		return err
	}
	defer d.close()

	l, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	svc, err := d.service(l)
	if err != nil {
		_ = l.Close()
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.Stop(stopCtx)
}

// build wires every component from cfg. It opens the storage backend but
// starts no goroutines.
func build(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.store = store
	d.closers = append(d.closers, closeStore)

	httpClient := discovery.NewHTTPClient(cfg.HTTPTimeout, cfg.TrustAllCerts)
	if cfg.TrustAllCerts {
		logger.Warn("trust_all_certs is on: OP and AS certificates are not verified")
	}

	d.sites = rp.NewCache(store, cfg.RpCacheExpiration(), rp.WithLogger(logger))
	disco := discovery.NewService(httpClient, cfg.PublicOpKeyCacheExpiration(), discovery.WithLogger(logger))
	engine := idtoken.NewEngine(httpClient, cfg.PublicOpKeyCacheExpiration())
	d.states = state.NewStore(cfg.StateExpiration(), cfg.NonceExpiration())
	intro := introspection.NewService(d.sites, introspection.NewClient(httpClient, disco), logger)

	gate := validation.NewGate(d.sites, intro, validation.Config{
		ProtectCommands: cfg.ProtectCommands(),
		AllowedOpHosts:  cfg.AllowedOpHosts,
	}, logger)
	if !cfg.ProtectCommands() {
		logger.Warn("protect_commands_with_access_token is false: commands are not authorized")
	}

	d.router = router.New(gate, logger)
	router.RegisterHandlers(d.router, router.Deps{
		Sites:         d.sites,
		Gate:          gate,
		Discovery:     disco,
		Tokens:        engine,
		States:        d.states,
		Introspection: intro,
		Grants:        grant.NewClient(httpClient, grant.WithLogger(logger)),
		Logger:        logger,
	})

	d.sweeper = state.NewSweeper(cfg.CleanupInterval(), logger)
	d.sweeper.Register("state", d.states)
	d.sweeper.Register("rp_cache", d.sites)
	d.sweeper.Register("discovery", disco)
	d.sweeper.Register("jwks", engine)

	d.server = server.New(cfg.Addr(), d.router, logger)
	return d, nil
}

// service puts the sweeper and the HTTP listener under one lifecycle.
func (d *daemon) service(l net.Listener) (*lifecycle.Service, error) {
	serveErr := make(chan error, 1)
	return lifecycle.NewBuilder("oxd-server", Version).
		WithLogger(d.logger).
		WithOnStart(func(ctx context.Context) error {
			// The sweeper outlives the start call, so it gets its own root.
			d.sweeper.Start(context.WithoutCancel(ctx))
			return nil
		}).
		WithOnStop(d.sweeper.Stop).
		WithOnStart(func(context.Context) error {
			go func() { serveErr <- d.server.Serve(l) }()
			return nil
		}).
		WithOnStop(func(ctx context.Context) error {
			if err := d.server.Shutdown(ctx); err != nil {
				return err
			}
			return <-serveErr
		}).
		OnStateChange(func(old, new lifecycle.State) {
			d.logger.Info("state transition", "from", old.String(), "to", new.String())
		}).
		Build()
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// openStore returns the configured rp.Store and a function releasing it.
func openStore(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (rp.Store, func(), error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		client, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewStore(client)
		if err := store.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		logger.Info("storage ready", "backend", cfg.Storage, "host", cfg.Postgres.Host)
		return store, client.Close, nil

	case config.StorageRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("storage ready", "backend", cfg.Storage)
		return redis.NewStore(client, cfg.Redis.KeyPrefix), func() { _ = client.Close() }, nil

	case config.StorageMemory, "":
		logger.Warn("storage is in memory: registered sites are lost on restart")
		return rp.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, oxderr.Newf(oxderr.KindInvalidConfiguration, "app: unknown storage %q", cfg.Storage)
}
