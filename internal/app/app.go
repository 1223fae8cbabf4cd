// Package app wires configuration into the store, repository, sessions and HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/config"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/router"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/server"
	"github.com/mohammed-shakir/hotspot-cache/internal/ebird"
	"github.com/mohammed-shakir/hotspot-cache/internal/hotspots"
	"github.com/mohammed-shakir/hotspot-cache/internal/invalidation/kafkaconsumer"
	h3mapper "github.com/mohammed-shakir/hotspot-cache/internal/mapper/h3"
	"github.com/mohammed-shakir/hotspot-cache/internal/mapsession"
	"github.com/mohammed-shakir/hotspot-cache/internal/metrics"
	"github.com/mohammed-shakir/hotspot-cache/internal/policy"
	"github.com/mohammed-shakir/hotspot-cache/internal/resolveevents"
	"github.com/mohammed-shakir/hotspot-cache/internal/store"
	"github.com/mohammed-shakir/hotspot-cache/internal/store/h3store"
	"github.com/mohammed-shakir/hotspot-cache/internal/store/redisstore"
	"github.com/mohammed-shakir/hotspot-cache/internal/store/sqlstore"
)

type App struct {
	Config   config.Config
	Store    store.Store
	Repo     *hotspots.Repository
	Sessions *mapsession.Registry
	Metrics  *metrics.Provider

	logger *slog.Logger
	events *resolveevents.Publisher
}

// OpenStore opens the local store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return sqlstore.OpenSQLite(ctx, logger, cfg.SQLitePath)
	case config.DriverPostgres:
		return sqlstore.OpenPostgres(ctx, logger, cfg.PostgresDSN)
	case config.DriverRedis:
		cli, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithReadTimeout(cfg.StoreOpTimeout),
			redisstore.WithWriteTimeout(cfg.StoreOpTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		st, err := h3store.New(cli, h3mapper.New(), h3store.Config{
			Resolutions:   cfg.H3Resolutions(),
			MaxCoverCells: cfg.H3MaxCoverCells,
		}, logger)
		if err != nil {
			_ = cli.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// New builds every long-lived component. Close releases them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, build metrics.BuildInfo) (*App, error) {
	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	hc := httpclient.NewOutbound(httpclient.Options{
		Timeout: cfg.RemoteTimeout,
		RPS:     cfg.EBirdRPS,
		Burst:   cfg.EBirdBurst,
	})
	remote, err := ebird.New(logger, hc, cfg.EBirdBaseURL, cfg.EBirdAPIKey)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Store:   st,
		logger:  logger,
		Metrics: metrics.Init(metrics.Config{Addr: cfg.Metrics.Addr, Path: cfg.Metrics.Path, Build: build}),
	}

	var opts []hotspots.Option
	if cfg.ResolveEvents.Enabled {
		pub, err := resolveevents.NewPublisher(logger, config.SplitCSV(cfg.ResolveEvents.Brokers),
			cfg.ResolveEvents.Topic, cfg.ResolveEvents.Queue)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.events = pub
		opts = append(opts, hotspots.WithEventSink(pub))
	}

	a.Repo = hotspots.NewRepository(hotspots.Config{
		MaxAge:         cfg.CacheMaxAge,
		DefaultCountry: cfg.DefaultCountry,
	}, st, remote, logger, opts...)

	a.Sessions = mapsession.NewRegistry(a.Repo, mapsession.Options{
		Debounce: cfg.DebounceDelay,
		Policy:   policy.New(cfg.OverviewMaxZoom, cfg.DetailedMinZoom),
		Country:  cfg.DefaultCountry,
	}, cfg.SessionMax, cfg.SessionTTL, logger)

	return a, nil
}

func (a *App) Handler() http.Handler {
	return server.NewHandler(a.logger, server.Deps{
		Handlers:     router.New(a.logger, a.Repo, a.Sessions),
		Ready:        a.Store,
		ReadyTimeout: a.Config.StoreOpTimeout,
		Metrics:      a.Metrics.Handler(),
	})
}

// Serve runs the HTTP server plus the optional invalidation consumer and metrics
// listener until ctx is done or the HTTP server fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.Config.Invalidation.Enabled {
		c := kafkaconsumer.New(kafkaconsumer.ConfigFrom(a.Config.Invalidation), a.logger, a.Repo)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}
	if a.Config.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Metrics.Serve(ctx, a.logger); err != nil {
				a.logger.Error("metrics listener stopped", "err", err)
			}
		}()
	}

	err := server.Run(ctx, a.Config.Addr, a.logger, a.Handler())
	cancel()
	wg.Wait()
	return err
}

func (a *App) Close() error {
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
