// Package app wires the components into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"familychat/internal/api"
	"familychat/internal/config"
	"familychat/internal/database"
	"familychat/internal/gateway"
	"familychat/internal/hub"
	"familychat/internal/identity"
	"familychat/internal/metrics"
	"familychat/internal/presence"
	"familychat/internal/router"
	"familychat/internal/storage"
	"familychat/internal/websocket"
	"familychat/pkg/interfaces"
)

// Application owns every long-lived component.
// Initialization order: stores -> presence/router -> hub -> gateway -> HTTP.
type Application struct {
	config   *config.Config
	metrics  *metrics.Metrics
	presence *presence.Registry
	router   *router.Router
	hub      *hub.Hub
	gateway  *gateway.Gateway
	store    interfaces.MessageStore

	httpServer    *http.Server
	monitorServer *http.Server
	listener      net.Listener

	// closers release stores in reverse order of opening.
	closers []func(context.Context) error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		config:   cfg,
		metrics:  metrics.New(),
		presence: presence.NewRegistry(),
		router:   router.NewRouter(),
	}

	resolver, err := app.openStores(context.Background())
	if err != nil {
		return nil, multierr.Append(err, app.closeStores(context.Background()))
	}

	app.hub = hub.NewHub(app.router, app.presence, app.store, resolver, app.metrics, hub.Options{
		StoreTimeout:    cfg.Database.WriteTimeout,
		ResolverTimeout: cfg.Identity.ResolverTimeout,
		QueueSize:       cfg.Gateway.QueueSize,
	})

	app.gateway = gateway.New(app.presence, app.router, app.hub, app.metrics, gateway.Options{
		HistoryLimit:      cfg.Gateway.HistoryLimit,
		MaxBodyLength:     cfg.Gateway.MaxBodyLength,
		MessagesPerMinute: cfg.Gateway.MessagesPerMinute,
		EvictSuperseded:   cfg.Presence.EvictSuperseded,
	})

	wsHandler := websocket.NewHandler(app.gateway, websocket.HandlerOptions{
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	})

	apiOpts := api.Options{WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket)}
	if cfg.Monitoring.Enabled {
		if cfg.Monitoring.Bind == "" {
			apiOpts.Metrics = app.metrics.Handler()
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", app.metrics.Handler())
			app.monitorServer = &http.Server{Addr: cfg.Monitoring.Bind, Handler: mux}
		}
	}

	app.httpServer = &http.Server{
		Addr:         cfg.HTTP.Address(),
		Handler:      api.NewServer(app.presence, app.router, app.hub, app.store, apiOpts),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// openStores opens the message store and the identity directory the config
// selects. SQLite is opened once even when it serves both.
func (app *Application) openStores(ctx context.Context) (interfaces.IdentityResolver, error) {
	cfg := app.config

	var sqlite *database.Manager
	if cfg.Store.Driver == config.StoreDriverSQLite || cfg.Identity.Driver == config.IdentityDriverSQLite {
		m, err := database.NewManager(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		sqlite = m
		app.closers = append(app.closers, func(context.Context) error { return m.Close() })
	}

	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		app.store = sqlite
	case config.StoreDriverBadger:
		s, err := storage.Open(cfg.Store.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		app.store = s
		app.closers = append(app.closers, func(context.Context) error { return s.Close() })
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var resolver interfaces.IdentityResolver
	switch cfg.Identity.Driver {
	case config.IdentityDriverSQLite:
		resolver = sqlite
	case config.IdentityDriverMongo:
		r, err := identity.NewMongoResolver(ctx, cfg.Identity.Mongo)
		if err != nil {
			return nil, err
		}
		resolver = r
		app.closers = append(app.closers, r.Close)
	case config.IdentityDriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown identity driver %q", cfg.Identity.Driver)
	}

	if cfg.Identity.CacheTTL > 0 {
		resolver = identity.NewCachedResolver(resolver, cfg.Identity.CacheTTL)
	}
	return resolver, nil
}

func (app *Application) closeStores(ctx context.Context) error {
	var err error
	for i := len(app.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, app.closers[i](ctx))
	}
	app.closers = nil
	return err
}

// Start starts the hub and begins serving. It returns once the listener is
// bound.
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		return multierr.Append(fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err), app.hub.Stop())
	}
	app.listener = listener
	app.cancel = cancel

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.gateway.Run(runCtx)
	}()

	app.serve(app.httpServer, listener)
	if app.monitorServer != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.monitorServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.S().Errorw("monitoring server failed", "bind", app.monitorServer.Addr, "error", err)
			}
		}()
	}

	zap.S().Infow("familychat started",
		"addr", listener.Addr().String(),
		"store", app.config.Store.Driver,
		"identity", app.config.Identity.Driver,
	)
	return nil
}

func (app *Application) serve(server *http.Server, listener net.Listener) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorw("http server failed", "addr", listener.Addr().String(), "error", err)
		}
	}()
}

// Stop shuts down in reverse dependency order: HTTP -> gateway -> hub ->
// stores. Every step runs even if an earlier one failed.
func (app *Application) Stop(ctx context.Context) error {
	zap.S().Infow("shutting down familychat")

	var err error
	if app.listener != nil {
		err = multierr.Append(err, app.httpServer.Shutdown(ctx))
	}
	if app.monitorServer != nil {
		err = multierr.Append(err, app.monitorServer.Shutdown(ctx))
	}
	if app.cancel != nil {
		app.cancel()
	}
	if hubErr := app.hub.Stop(); hubErr != nil && !errors.Is(hubErr, hub.ErrHubNotRunning) {
		err = multierr.Append(err, hubErr)
	}
	app.wg.Wait()

	err = multierr.Append(err, app.closeStores(ctx))
	if err != nil {
		zap.S().Warnw("shutdown completed with errors", "error", err)
	}
	return err
}

// Addr is the bound address once started, otherwise the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

func (app *Application) Presence() *presence.Registry {
	return app.presence
}

func (app *Application) Router() *router.Router {
	return app.router
}
