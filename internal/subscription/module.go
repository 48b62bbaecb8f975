package subscription

import (
	"go.uber.org/fx"

	"github.com/yetasya/derivatives-bot/pkg/logging"
)

// Module provides the Registry with the default retry policy
var Module = fx.Module("subscription",
	fx.Provide(func(sender Sender, logger logging.ApplicationLogger) *Registry {
		return NewRegistry(sender, DefaultRetryPolicy(), logger)
	}),
)
