package session

import (
	"go.uber.org/fx"

	"github.com/yetasya/derivatives-bot/internal/config"
)

// Module provides the AuthSession
var Module = fx.Module("session",
	fx.Provide(
		func(cfg *config.Config) LoggedStateSignal {
			return StaticLoggedState(cfg.Session.LoggedState)
		},
		NewAuthSession,
	),
)
