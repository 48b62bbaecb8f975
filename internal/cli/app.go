package cli

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/catalog"
	"github.com/yetasya/derivatives-bot/internal/config"
	"github.com/yetasya/derivatives-bot/internal/connection"
	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/internal/infrastructure"
	"github.com/yetasya/derivatives-bot/internal/session"
	"github.com/yetasya/derivatives-bot/internal/storage"
	"github.com/yetasya/derivatives-bot/internal/subscription"
)

// coreModules wires the session core. Commands add their own options.
func coreModules(configPath string) fx.Option {
	return fx.Options(
		fx.Supply(config.Path(configPath)),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),

		config.Module,
		infrastructure.Module,
		storage.Module,
		events.Module,
		connection.Module,
		session.Module,
		subscription.Module,
		catalog.Module,
	)
}
