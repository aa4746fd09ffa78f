// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"schoolchat/internal/api"
	"schoolchat/internal/auth"
	"schoolchat/internal/config"
	"schoolchat/internal/database"
	"schoolchat/internal/hub"
	"schoolchat/internal/router"
	"schoolchat/internal/session"
	"schoolchat/internal/websocket"
)

// Application coordinates the components. Initialization follows
// dependency order: database, authority, registry, router, hub,
// sessions, gateway, api, http.
type Application struct {
	config     *config.Config
	store      *database.Manager
	authority  *auth.Authority
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	sessions   *session.Manager
	gateway    *websocket.Gateway
	apiServer  *api.Server
	httpServer *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewManager(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	authority := auth.NewAuthority([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL, store)
	registry := websocket.NewRegistry()
	limiter := router.NewLimiter(cfg.Router.RatePerSecond, cfg.Router.RateBurst)
	messageRouter := router.NewRouter(registry, store, limiter, cfg.WebSocket.FanoutGrace)
	messageHub := hub.NewHub(messageRouter, cfg.Hub.QueueSize)
	sessions := session.NewManager(store, registry)
	keepAlive := websocket.NewKeepAlive(cfg.WebSocket.PingInterval)
	gateway := websocket.NewGateway(registry, authority, store, messageHub,
		keepAlive, cfg.WebSocket.BufferSize, cfg.WebSocket.WriteTimeout)
	apiServer := api.NewServer(authority, store, sessions, messageHub, registry)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", apiServer)
	mux.HandleFunc("/ws/session/", gateway.HandleSession)
	mux.HandleFunc("/ws/teacher/", gateway.HandleTeacher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		authority:  authority,
		registry:   registry,
		router:     messageRouter,
		hub:        messageHub,
		sessions:   sessions,
		gateway:    gateway,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings up the hub and then the HTTP listener. The hub must be
// accepting messages before the first connection lands.
func (app *Application) Start(ctx context.Context) error {
	log.Info().Str("addr", app.httpServer.Addr).Msg("starting application")

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Info().Msg("application started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: listener, hub, store.
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Msg("shutting down application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown error")
	}
	if err := app.hub.Stop(); err != nil {
		log.Warn().Err(err).Msg("hub shutdown error")
	}
	if err := app.store.Close(); err != nil {
		log.Warn().Err(err).Msg("database shutdown error")
	}

	log.Info().Msg("application shutdown complete")
	return nil
}

// Addr returns the listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
