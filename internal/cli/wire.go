package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/httpapi"
	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/splitpro"
	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/splitwise"
	sqliteadapter "github.com/ericfisherdev/coinsplit/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/vault"
	"github.com/ericfisherdev/coinsplit/internal/application"
	"github.com/ericfisherdev/coinsplit/internal/config"
)

// app is the wired object graph shared by the commands that touch the database.
type app struct {
	cfg        *config.Config
	db         *sqliteadapter.DB
	syncSvc    *application.SyncService
	connectSvc *application.ConnectService
}

// openApp loads configuration, opens and migrates the database and wires
// the services. The caller must call close.
func openApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cfg.SecretKey)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !v.Enabled() {
		logger.Warn("COINSPLIT_SECRET_KEY is not set; connecting and syncing are disabled until it is configured")
	}

	registry := newProviderRegistry(cfg, logger)
	connections := sqliteadapter.NewConnectionRepo(db)

	syncSvc := application.NewSyncService(
		sqliteadapter.NewSplitRepo(db),
		sqliteadapter.NewSyncRecordRepo(db),
		connections,
		v,
		registry,
		application.SyncOptions{
			Currency:   cfg.ExpenseCurrency,
			MaxRetries: cfg.SyncMaxRetries,
			Logger:     logger,
		},
	)
	connectSvc := application.NewConnectService(connections, v, registry, logger)

	return &app{cfg: cfg, db: db, syncSvc: syncSvc, connectSvc: connectSvc}, nil
}

func (a *app) close(logger *slog.Logger) {
	if err := a.db.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}

// openDB opens the database and applies pending migrations on the writer.
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqliteadapter.DB, error) {
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", "path", cfg.DBPath)

	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Debug("migrations complete", "version", version)

	return db, nil
}

// newProviderRegistry builds one client per provider. Each provider gets its
// own rate limiter. SplitPro is only registered when an instance URL is set.
func newProviderRegistry(cfg *config.Config, logger *slog.Logger) *application.ProviderRegistry {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	registry := application.NewProviderRegistry(splitwise.NewClient(splitwise.Config{
		ClientID:     cfg.Splitwise.ClientID,
		ClientSecret: cfg.Splitwise.ClientSecret,
		RedirectURL:  cfg.Splitwise.RedirectURL,
		BaseURL:      cfg.Splitwise.BaseURL,
		HTTPClient:   httpClient,
		Limiter:      httpapi.NewLimiter(cfg.ProviderRateLimit),
	}))
	if !cfg.Splitwise.OAuthConfigured() {
		logger.Info("splitwise OAuth app not configured; token refresh and new authorizations are unavailable")
	}

	if cfg.SplitProBaseURL != "" {
		registry.Register(splitpro.NewClient(cfg.SplitProBaseURL, httpClient, httpapi.NewLimiter(cfg.ProviderRateLimit)))
	}

	logger.Debug("providers registered", "providers", registry.Types())
	return registry
}
