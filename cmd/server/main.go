package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/locationtracker/agent/internal/cache"
	"github.com/locationtracker/agent/internal/config"
	"github.com/locationtracker/agent/internal/handlers"
	custommw "github.com/locationtracker/agent/internal/middleware"
	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
	"github.com/locationtracker/agent/internal/remote"
	"github.com/locationtracker/agent/internal/repository"
	"github.com/locationtracker/agent/internal/services"
)

func main() {
	logger := observability.GetLogger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Telemetry
	telemetry, err := observability.Initialize(ctx, observability.Options{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Version:        handlers.Version,
		Environment:    cfg.Telemetry.Environment,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval(),
		Username:       cfg.Identity.Username,
		SessionID:      cfg.Identity.SessionID,
		Remote:         cfg.Remote.Kind,
	})
	if err != nil {
		logger.Warnf("Telemetry unavailable: %v", err)
	}
	syncMetrics, err := observability.NewSyncMetrics()
	if err != nil {
		logger.Warnf("Sync metrics unavailable: %v", err)
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		logger.Warnf("HTTP metrics unavailable: %v", err)
	}

	// Local store
	var store *repository.SQLStore
	if cfg.UsePostgres() {
		logger.Info("Using PostgreSQL database")
		store, err = repository.OpenPostgres(ctx, cfg.DatabaseURL)
	} else {
		logger.Infof("Using SQLite database at %s", cfg.DatabasePath)
		store, err = repository.OpenSQLite(ctx, cfg.DatabasePath)
	}
	if err != nil {
		logger.Errorf("Failed to open local store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Remote endpoint
	endpoint, closeRemote, err := newRemote(ctx, cfg)
	if err != nil {
		logger.Errorf("Failed to initialize remote endpoint: %v", err)
		os.Exit(1)
	}
	defer closeRemote()

	// Services
	hub := services.NewChangeHub()

	coordinator := services.NewSyncCoordinator(store, endpoint, cfg.Sync.SessionTimeout(), syncMetrics)
	coordinator.AddObserver(hub)

	placeCache := cache.New(ctx, cfg.Places.RedisURL, "tracker:places:")
	defer placeCache.Close()

	placeService := services.NewPlaceService(cfg.Places.BaseURL, cfg.Places.RadiusMeters, store, placeCache, cfg.Places.CacheTTL(), hub)
	if err := placeService.Load(ctx); err != nil {
		logger.Warnf("Failed to load stored places: %v", err)
	}
	locationService := services.NewLocationService(store, coordinator, placeService, cfg.Identity.Username, cfg.Identity.SessionID)

	// Handlers
	healthHandler := handlers.NewHealthHandler(store, coordinator)
	scheduler := services.NewSyncScheduler(coordinator, cfg.Sync.Interval())
	syncHandler := handlers.NewSyncHandler(coordinator, scheduler)
	locationHandler := handlers.NewLocationHandler(locationService)
	placeHandler := handlers.NewPlaceHandler(placeService)
	wsHandler := handlers.NewWebSocketHandler(hub)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.Instrument(httpMetrics))

	// Public
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)

	// Observer stream; browsers pass the key in the query
	r.With(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader, custommw.QueryKey("api_key"))).
		Get("/ws", wsHandler.HandleConnection)

	// Control API
	r.Group(func(r chi.Router) {
		r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

		r.Get("/api/version", handlers.NewVersionHandler(cfg.Remote.Kind))

		r.Route("/api/sync", func(r chi.Router) {
			r.Get("/status", syncHandler.GetSyncStatus)
			r.Post("/{direction}", syncHandler.TriggerSync)
		})

		r.Route("/api/locations", func(r chi.Router) {
			r.Post("/", locationHandler.RecordLocation)
			r.Get("/", locationHandler.ListLocations)
			r.Delete("/", locationHandler.ClearLocations)
		})

		r.Get("/api/places", placeHandler.ListPlaces)
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Sync.SessionTimeout() + 10*time.Second, // ?wait=true blocks for a session
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Location tracker agent starting on %s", cfg.ServerAddress)
		logger.Infof("Replicating as %s with %s remote", cfg.Identity.Username, cfg.Remote.Kind)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	// Bring the local store up to date
	if cfg.Sync.PullOnStart {
		coordinator.RequestSync(models.DirectionPull)
	}
	scheduler.Start(ctx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	// Shutdown does not track hijacked observer connections
	hub.Close()
	if err := coordinator.Wait(shutdownCtx); err != nil {
		logger.Warnf("Sync sessions still running at shutdown: %v", err)
	}
	stop()

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Telemetry shutdown failed: %v", err)
	}

	logger.Info("Server stopped")
}

// newRemote builds the configured replication peer and a cleanup func
func newRemote(ctx context.Context, cfg *config.Config) (remote.RemoteEndpoint, func(), error) {
	switch cfg.Remote.Kind {
	case config.RemoteMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		db, err := remote.ConnectMongo(connectCtx, cfg.Remote.MongoURI, cfg.Remote.Database)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				observability.Warnf("MongoDB disconnect failed: %v", err)
			}
		}
		return remote.NewMongoEndpoint(db, cfg.Remote.MongoCollection, cfg.Sync.PullLimit), closeFn, nil

	default:
		ep, err := remote.NewCouchDBEndpoint(remote.CouchDBConfig{
			Protocol:     cfg.Remote.Protocol,
			Host:         cfg.Remote.Host,
			Database:     cfg.Remote.Database,
			Username:     cfg.Remote.Username,
			Password:     cfg.Remote.Password,
			TokenURL:     cfg.Remote.TokenURL,
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
			Limit:        cfg.Sync.PullLimit,
			Timeout:      cfg.Remote.Timeout(),
		})
		return ep, func() {}, err
	}
}
