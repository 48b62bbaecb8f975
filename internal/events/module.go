package events

import (
	"go.uber.org/fx"

	"github.com/yetasya/derivatives-bot/internal/config"
	"github.com/yetasya/derivatives-bot/pkg/logging"
)

// Module provides the event bus, as itself and as Publisher, and the NATS
// forwarder
var Module = fx.Module("events",
	fx.Provide(
		fx.Annotate(NewEventBus, fx.As(fx.Self(), new(Publisher))),
		ProvideNATSForwarder,
	),
)

func ProvideNATSForwarder(cfg *config.Config, bus *EventBus, logger logging.ApplicationLogger) *NATSForwarder {
	return NewNATSForwarder(NATSConfig{
		URL:           cfg.NATS.URL,
		ClientName:    cfg.NATS.ClientName,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		ConnectWait:   cfg.NATS.ConnectWait,
		ReconnectWait: cfg.NATS.ReconnectWait,
		MaxReconnects: cfg.NATS.MaxReconnects,
	}, bus, logger)
}
