package infrastructure

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/connection"
	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// LifecycleParams are the components started and stopped with the app.
// Server is only present when the status API module is installed.
type LifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Server    *http.Server `optional:"true"`
	Manager   *connection.Manager
	Forwarder *events.NATSForwarder
	Bus       *events.EventBus
	Store     storage.CredentialStore
	Logger    *zap.Logger
}

// RegisterLifecycle sets up application startup and shutdown hooks
func RegisterLifecycle(p LifecycleParams) {
	logger := p.Logger

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Forwarder.Start(); err != nil {
				logger.Warn("Event forwarding disabled", zap.Error(err))
			}

			if err := p.Manager.Start(ctx); err != nil {
				return err
			}

			if p.Server != nil {
				go func() {
					logger.Info("Status API started", zap.String("address", p.Server.Addr))

					if err := p.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("Status API failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down...")

			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if p.Server != nil {
				if err := p.Server.Shutdown(shutdownCtx); err != nil {
					logger.Error("Status API forced to shutdown", zap.Error(err))
				}
			}

			if err := p.Manager.Stop(shutdownCtx); err != nil {
				logger.Error("Failed to stop connection manager", zap.Error(err))
			}

			if err := p.Forwarder.Stop(); err != nil {
				logger.Warn("Failed to drain NATS connection", zap.Error(err))
			}
			p.Bus.Close()

			if err := p.Store.Close(); err != nil {
				logger.Error("Failed to close credential store", zap.Error(err))
			}

			logger.Info("Stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
