package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/api/handlers"
	"github.com/yetasya/derivatives-bot/internal/api/websocket"
	"github.com/yetasya/derivatives-bot/internal/catalog"
	"github.com/yetasya/derivatives-bot/internal/config"
	"github.com/yetasya/derivatives-bot/internal/connection"
	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/internal/session"
	"github.com/yetasya/derivatives-bot/internal/subscription"
)

// Module provides the status API: handlers, routes and the HTTP server
var Module = fx.Module("api",
	fx.Provide(
		func(auth *session.AuthSession, mgr *connection.Manager, tokens *connection.OneTimeTokenSource, logger *zap.Logger) *handlers.SessionHandler {
			return handlers.NewSessionHandler(auth, mgr, tokens, logger)
		},
		func(mgr *connection.Manager, registry *subscription.Registry, logger *zap.Logger) *handlers.ConnectionHandler {
			return handlers.NewConnectionHandler(mgr, registry, logger)
		},
		func(instruments *catalog.Catalog, logger *zap.Logger) *handlers.InstrumentsHandler {
			return handlers.NewInstrumentsHandler(instruments, logger)
		},
		func(bus *events.EventBus, logger *zap.Logger) *websocket.Handler {
			return websocket.NewHandler(bus, logger)
		},
		NewHTTPServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, wsHandler *websocket.Handler) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				wsHandler.StartEventListener()
				return nil
			},
			OnStop: func(context.Context) error {
				wsHandler.StopEventListener()
				return nil
			},
		})
	}),
)

// NewHTTPServer builds the status API server. The infrastructure lifecycle
// starts and stops it.
func NewHTTPServer(
	cfg *config.Config,
	sessionHandler *handlers.SessionHandler,
	connectionHandler *handlers.ConnectionHandler,
	instrumentsHandler *handlers.InstrumentsHandler,
	wsHandler *websocket.Handler,
	logger *zap.Logger,
) *http.Server {
	router := SetupRouter(
		sessionHandler,
		connectionHandler,
		instrumentsHandler,
		wsHandler,
		logger,
		cfg.Server.CORSAllowOrigin,
	)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
