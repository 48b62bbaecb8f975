package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/yetasya/derivatives-bot/internal/cache"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
)

var ErrEmptySchedule = errors.New("trading schedule has no markets")

// ScheduleSource serves the trading schedule used for enrichment
type ScheduleSource interface {
	Get(ctx context.Context) *derivapi.TradingTimes
	Invalidate()
}

// NewScheduleCache fetches today's schedule through the requester and keeps
// it for ttl. Failures serve the bundled schedule without caching it.
func NewScheduleCache(requester Requester, ttl time.Duration, logger logging.ApplicationLogger, opts ...cache.Option[*derivapi.TradingTimes]) *cache.TimedCache[*derivapi.TradingTimes] {
	if ttl <= 0 {
		ttl = cache.ScheduleTTL
	}
	return cache.New(
		ttl,
		func(ctx context.Context) (*derivapi.TradingTimes, error) {
			return fetchSchedule(ctx, requester)
		},
		validSchedule,
		FallbackSchedule,
		append([]cache.Option[*derivapi.TradingTimes]{cache.WithLogger[*derivapi.TradingTimes](logger)}, opts...)...,
	)
}

func fetchSchedule(ctx context.Context, requester Requester) (*derivapi.TradingTimes, error) {
	env, err := requester.Send(ctx, derivapi.TradingTimesRequest("today"))
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}

	var resp derivapi.TradingTimesResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	if !validSchedule(resp.TradingTimes) {
		return nil, ErrEmptySchedule
	}
	return resp.TradingTimes, nil
}

func validSchedule(t *derivapi.TradingTimes) bool {
	return t != nil && len(t.Markets) > 0
}
