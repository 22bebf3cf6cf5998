package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaygate/internal/api"
	"relaygate/internal/auth"
	"relaygate/internal/config"
	"relaygate/internal/database"
	"relaygate/internal/dispatch"
	"relaygate/internal/mux"
	"relaygate/internal/registry"
	"relaygate/internal/websocket"
	"relaygate/pkg/interfaces"
)

// Application coordinates all components. Initialization follows dependency
// order: credential store → session store → auth → multiplexer → registry →
// dispatcher → transport → HTTP.
type Application struct {
	config      *config.Config
	credentials interfaces.CredentialStore
	sessions    interfaces.SessionStore
	authService *auth.Service
	tunnels     *mux.Multiplexer
	registry    *registry.Registry
	dispatcher  *dispatch.Dispatcher
	httpServer  *http.Server

	sweepCancel context.CancelFunc
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	credentials, err := database.NewManager(cfg.Auth.CredentialDBPath, cfg.Auth.DBTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	if err := seedCredentials(credentials, cfg.Auth.SeedCredentials); err != nil {
		_ = credentials.Close()
		return nil, err
	}

	sessions, err := auth.NewSessionStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = credentials.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	authService := auth.NewService(credentials, sessions, auth.DefaultPolicy(), cfg.Auth.TokenTTL)
	tunnels := mux.NewMultiplexer(cfg.Proxy.ConnectTimeout, cfg.Proxy.ReadBufferSize)
	reg := registry.NewRegistry(tunnels)
	dispatcher := dispatch.NewDispatcher(authService, reg, tunnels, cfg.Proxy.ViolationThreshold)

	wsHandler := websocket.NewHandler(reg, dispatcher, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})
	apiServer := api.NewServer(reg, tunnels)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiServer)
	httpMux.Handle("/health", apiServer)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      httpMux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		credentials: credentials,
		sessions:    sessions,
		authService: authService,
		tunnels:     tunnels,
		registry:    reg,
		dispatcher:  dispatcher,
		httpServer:  httpServer,
	}, nil
}

func seedCredentials(store interfaces.CredentialStore, seeds []config.SeedCredential) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, seed := range seeds {
		cred := &interfaces.Credential{APIKey: seed.APIKey, UserID: seed.UserID, Role: seed.Role}
		if err := store.Upsert(ctx, cred); err != nil {
			return fmt.Errorf("failed to seed credential for %s: %w", seed.UserID, err)
		}
	}
	if len(seeds) > 0 {
		log.Printf("seeded credentials: count=%d", len(seeds))
	}
	return nil
}

// Start launches the idle sweeper and the HTTP server, returning once the
// server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("starting relaygate on %s", app.httpServer.Addr)

	sweepCtx, cancel := context.WithCancel(ctx)
	app.sweepCancel = cancel
	app.registry.StartSweeper(sweepCtx, app.config.Proxy.IdleTimeout, app.config.Proxy.SweepInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("relaygate started")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order: HTTP first so no
// new transports arrive, then client teardown (which cascades tunnel
// closes), then the stores.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("shutting down relaygate")

	if app.sweepCancel != nil {
		app.sweepCancel()
	}

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	for _, client := range app.registry.GetAll() {
		if err := client.Transport().CloseWithStatus("server shutting down"); err != nil {
			log.Printf("client shutdown close failed: client=%s err=%v", client.ClientID, err)
		}
		app.registry.Remove(client.ClientID, client)
	}

	if err := app.sessions.Close(); err != nil {
		log.Printf("session store shutdown error: %v", err)
	}
	if err := app.credentials.Close(); err != nil {
		log.Printf("credential store shutdown error: %v", err)
	}

	log.Printf("relaygate shutdown complete")
	return nil
}

// Addr returns the listen address, for tests and logs.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
