package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/service"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	redisdriver "github.com/aussiebroadwan/tokend/internal/token/store/drivers/redis"
	"github.com/aussiebroadwan/tokend/internal/token/store/drivers/sqlite"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the token lifecycle engine to a concrete store backend
// and runs the housekeeping purge until shutdown.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	tokenService        *service.TokenService
	housekeepingService *service.HousekeepingService
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "tokend",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}).With("instance", uuid.NewString()),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	registry, err := app.initRegistry()
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}

	enhancer, err := InitSigningKey(app.cfg, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.tokenService = &service.TokenService{
		Store:    app.db,
		Registry: registry,
		Enhancer: enhancer,
		Config: service.Config{
			AccessTokenValidity:  cfg.AccessTokenValidity,
			RefreshTokenValidity: cfg.RefreshTokenValidity,
			SupportRefreshToken:  cfg.SupportRefreshToken,
			ReuseRefreshToken:    cfg.ReuseRefreshToken,
		},
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		cfg.HousekeepingInterval,
	)

	return app, nil
}

// TokenService exposes the engine for embedding callers.
func (app *Application) TokenService() *service.TokenService {
	return app.tokenService
}

// Run starts the housekeeping purge and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("tokend starting",
		"store", app.cfg.StoreBackend,
		"version", BuildVersion,
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown stops the housekeeping service and closes the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down tokend...")

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("tokend stopped")
	return nil
}

// initStore opens the configured backend and, for sqlite, applies migrations.
func (app *Application) initStore() error {
	switch app.cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		app.db = redisdriver.NewStore(client)
		app.logger.Info("redis store configured", "addr", app.cfg.RedisAddr)
		return nil

	case "sqlite":
		host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(host)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		app.db = db

		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}

		app.logger.Info("database migrations applied successfully")
		return nil

	default:
		return fmt.Errorf("unknown store backend %q", app.cfg.StoreBackend)
	}
}

// initRegistry loads the static client registry from the configured JSON
// file. Without a file the engine runs registry-less: every grant type is
// accepted and the engine defaults govern validity windows.
func (app *Application) initRegistry() (service.ClientRegistry, error) {
	if app.cfg.ClientsFile == "" {
		app.logger.Warn("no clients file configured, running without client policies")
		return nil, nil
	}

	raw, err := os.ReadFile(app.cfg.ClientsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}

	var policies []domain.ClientPolicy
	if err := json.Unmarshal(raw, &policies); err != nil {
		return nil, fmt.Errorf("failed to parse clients file: %w", err)
	}

	registry := &service.StaticRegistry{
		Clients: make(map[string]domain.ClientPolicy, len(policies)),
	}
	for _, p := range policies {
		registry.Clients[p.ClientID] = p
	}

	app.logger.Info("client registry loaded",
		"path", app.cfg.ClientsFile,
		"clients", len(policies),
	)
	return registry, nil
}
