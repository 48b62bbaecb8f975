package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/yetasya/derivatives-bot/internal/config"
	"github.com/yetasya/derivatives-bot/pkg/logging"
)

// Module provides the credential store selected by configuration
var Module = fx.Module("storage",
	fx.Provide(
		ProvideCredentialStore,
		NewCredentials,
	),
)

// ProvideCredentialStore opens the configured store
func ProvideCredentialStore(cfg *config.Config, logger logging.ApplicationLogger) (CredentialStore, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Info("Using in-memory credential store")
		return NewMemoryStore(), nil
	case "postgres", "sqlite":
		driver := DriverSQLite
		if cfg.Storage.Driver == "postgres" {
			driver = DriverPostgres
		}
		logger.Info("Connecting to %s credential store...", cfg.Storage.Driver)
		store, err := NewSQLStore(context.Background(), driver, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}
