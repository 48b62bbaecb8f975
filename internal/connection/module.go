package connection

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/yetasya/derivatives-bot/internal/catalog"
	"github.com/yetasya/derivatives-bot/internal/config"
	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/internal/session"
	"github.com/yetasya/derivatives-bot/internal/subscription"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	wsconn "github.com/yetasya/derivatives-bot/pkg/websocket/connection"
	"github.com/yetasya/derivatives-bot/pkg/websocket/performance"
	"github.com/yetasya/derivatives-bot/pkg/websocket/security"
)

// Module provides the Manager, its transport factory and the Link every
// other core component sends through
var Module = fx.Module("connection",
	fx.Provide(
		fx.Annotate(
			NewLink,
			fx.As(fx.Self(), new(catalog.Requester), new(session.Requester), new(subscription.Sender)),
		),
		ProvideFactory,
		ProvideTokenSource,
		ProvideManager,
	),
)

// ProvideFactory builds transports for the configured endpoint
func ProvideFactory(cfg *config.Config, logger logging.ApplicationLogger) (wsconn.Factory, error) {
	url, err := wsconn.EndpointURL(cfg.API.Endpoint, cfg.API.AppID, cfg.API.Language, cfg.API.Brand)
	if err != nil {
		return nil, fmt.Errorf("failed to build endpoint url: %w", err)
	}

	transport := wsconn.DefaultConfig()
	transport.URL = url
	transport.ConnectTimeout = cfg.Connection.ConnectTimeout
	transport.ReadTimeout = cfg.Connection.ReadTimeout
	transport.WriteTimeout = cfg.Connection.WriteTimeout
	transport.ReadBufferSize = cfg.Connection.ReadBufferSize
	transport.WriteBufferSize = cfg.Connection.WriteBufferSize
	transport.MaxMessageSize = cfg.Connection.MaxMessageSize
	transport.RequireSSL = cfg.Connection.RequireSSL
	transport.RateLimitCapacity = cfg.Connection.RateLimitCapacity
	if transport.ReadTimeout > 0 && transport.HealthCheckInterval >= transport.ReadTimeout {
		transport.HealthCheckInterval = transport.ReadTimeout / 2
	}
	if err := transport.Validate(); err != nil {
		return nil, err
	}

	return wsconn.NewFactory(
		transport,
		security.NewStaticHeaders("", ""),
		performance.NewMetrics(),
		logger,
		wsconn.NewGorillaDialer(transport),
	), nil
}

func ProvideTokenSource(cfg *config.Config) *OneTimeTokenSource {
	return NewOneTimeTokenSource(cfg.Session.OneTimeToken)
}

func ProvideManager(
	cfg *config.Config,
	factory wsconn.Factory,
	link *Link,
	auth *session.AuthSession,
	registry *subscription.Registry,
	instruments *catalog.Catalog,
	tokens *OneTimeTokenSource,
	publisher events.Publisher,
	logger logging.ApplicationLogger,
) *Manager {
	return NewManager(Config{
		Streams:          cfg.Session.Streams,
		ProbeInterval:    cfg.Connection.ProbeInterval,
		TimeSyncInterval: cfg.Connection.TimeSyncInterval,
		Backoff: BackoffConfig{
			Enabled:      cfg.Connection.Backoff.Enabled,
			InitialDelay: cfg.Connection.Backoff.InitialDelay,
			MaxDelay:     cfg.Connection.Backoff.MaxDelay,
			MaxAttempts:  cfg.Connection.Backoff.MaxAttempts,
		},
	}, factory, link, auth, registry, instruments, tokens, publisher, logger)
}
