package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"noisemap/internal/api"
	"noisemap/internal/api/handlers"
	"noisemap/internal/api/middleware"
	"noisemap/internal/config"
	"noisemap/internal/events"
	"noisemap/internal/geocode"
	"noisemap/internal/logging"
	"noisemap/internal/repository"
	"noisemap/internal/repository/memory"
	"noisemap/internal/repository/mongo"
	"noisemap/internal/repository/sqlite"
	"noisemap/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		cfg.Auth.Secret = secret
		logging.Warn().Msg("auth.secret not set; sessions will not survive a restart")
	}

	// Initialize storage
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, cfg.Server.ShutdownTimeout)

	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	denylist := memory.NewSessionDenylist(time.Minute)
	defer denylist.Stop()

	// Initialize services
	geocoder := geocode.New(cfg.Geocoder)
	notificationService := services.NewNotificationService(publisher, cfg.Storage.OperationTimeout)
	achievementService := services.NewAchievementService(store.Users, store.PlaceVisits, geocoder, cfg)
	ingestionService := services.NewIngestionService(store.Measurements, store.Aggregates, achievementService, notificationService, cfg)
	queryService := services.NewQueryService(store.Aggregates, cfg)
	authService := services.NewAuthService(store.Users, store.Measurements, cfg)
	sessions := middleware.NewSessions(cfg.Auth, denylist)

	// Setup router
	router := api.NewRouter(
		cfg,
		handlers.NewMeasurementHandler(ingestionService, queryService),
		handlers.NewAuthHandler(authService, sessions),
		sessions,
	)
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()
	router.Setup(engine)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Str("addr", cfg.Server.Addr).
			Str("storage", cfg.Storage.Driver).
			Str("strategy", queryService.Strategy()).
			Str("geocoder", cfg.Geocoder.Provider).
			Bool("events", cfg.Events.Enabled).
			Msg("starting noisemap server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	openCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Mongo.ConnectTimeout)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.DriverMongo:
		store, err := mongo.Open(openCtx, cfg.Storage.Mongo)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(openCtx, cfg.Storage.SQLite.Path, cfg.Storage.SQLite.BusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return sqlite.NewStore(db), nil
	default:
		logging.Warn().Msg("using in-memory storage; data is lost on restart")
		return memory.NewStore(cfg.Geo.GeohashPrecision), nil
	}
}

func closeStore(store *repository.Store, timeout time.Duration) {
	if store.Close == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("store close failed")
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if !cfg.Enabled {
		return events.Noop{}, nil
	}
	p, err := events.NewAMQPPublisher(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect event broker: %w", err)
	}
	return p, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
