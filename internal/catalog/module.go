package catalog

import (
	"go.uber.org/fx"

	"github.com/yetasya/derivatives-bot/internal/cache"
	"github.com/yetasya/derivatives-bot/internal/config"
	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
)

// Module provides the instrument catalog and its trading-times cache. The
// Requester comes from the connection module.
var Module = fx.Module("catalog",
	fx.Provide(
		ProvideSchedule,
		ProvideCatalog,
	),
)

func ProvideSchedule(cfg *config.Config, requester Requester, logger logging.ApplicationLogger) ScheduleSource {
	return NewScheduleCache(requester, cfg.Catalog.ScheduleTTL, logger,
		cache.WithFetchTimeout[*derivapi.TradingTimes](cfg.Catalog.FetchTimeout))
}

func ProvideCatalog(
	cfg *config.Config,
	requester Requester,
	schedule ScheduleSource,
	publisher events.Publisher,
	logger logging.ApplicationLogger,
) *Catalog {
	return New(Config{
		FetchTimeout:  cfg.Catalog.FetchTimeout,
		EnrichTimeout: cfg.Catalog.EnrichTimeout,
		Mode:          cfg.Catalog.Mode,
	}, requester, schedule, publisher, logger)
}
