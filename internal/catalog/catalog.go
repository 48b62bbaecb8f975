package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
)

const (
	DefaultFetchTimeout  = 10 * time.Second
	DefaultEnrichTimeout = 5 * time.Second
)

var (
	ErrNoSymbols      = errors.New("active symbols list is empty")
	ErrEnrichTimeout  = errors.New("enrichment timed out")
	ErrEnrichPanicked = errors.New("enrichment panicked")
)

// Requester sends one request and waits for its response
type Requester interface {
	Send(ctx context.Context, req derivapi.Request) (*derivapi.Envelope, error)
}

type Config struct {
	FetchTimeout  time.Duration
	EnrichTimeout time.Duration
	// Mode is the active_symbols detail level, "brief" or "full"
	Mode string
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = DefaultEnrichTimeout
	}
	if c.Mode == "" {
		c.Mode = "brief"
	}
	return c
}

type snapshot struct {
	instruments []Instrument
	index       map[string]int
	source      Source
	refreshedAt time.Time
}

func newSnapshot(instruments []Instrument, source Source) *snapshot {
	s := &snapshot{
		instruments: instruments,
		index:       make(map[string]int, len(instruments)),
		source:      source,
		refreshedAt: time.Now().UTC(),
	}
	for i, inst := range instruments {
		s.index[inst.key()] = i
	}
	return s
}

// Catalog publishes the current instrument list. Readers get copies; a
// refresh swaps the whole list at once.
type Catalog struct {
	config    Config
	requester Requester
	schedule  ScheduleSource
	publisher events.Publisher
	logger    logging.ApplicationLogger

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// New returns a catalog seeded with the bundled instruments
func New(config Config, requester Requester, schedule ScheduleSource, publisher events.Publisher, logger logging.ApplicationLogger) *Catalog {
	c := &Catalog{
		config:    config.withDefaults(),
		requester: requester,
		schedule:  schedule,
		publisher: publisher,
		logger:    logger,
	}
	c.current.Store(newSnapshot(FallbackInstruments(), SourceFallback))
	return c
}

// Refresh fetches, enriches and publishes the instrument list. It never
// fails: any fetch problem publishes the bundled list instead. Concurrent
// callers share one refresh.
func (c *Catalog) Refresh(ctx context.Context) []Instrument {
	v, _, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx), nil
	})
	return copyInstruments(v.(*snapshot).instruments)
}

func (c *Catalog) refresh(ctx context.Context) *snapshot {
	base, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("Active symbols unavailable, using bundled catalog: %v", err)
		return c.publish(newSnapshot(FallbackInstruments(), SourceFallback))
	}

	enriched, err := c.enrichWithTimeout(ctx, base)
	if err != nil {
		c.logger.Warn("Keeping unenriched instruments: %v", err)
		return c.publish(newSnapshot(base, SourceLive))
	}
	return c.publish(newSnapshot(enriched, SourceEnriched))
}

func (c *Catalog) fetch(ctx context.Context) ([]Instrument, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	env, err := c.requester.Send(fetchCtx, derivapi.ActiveSymbols(c.config.Mode))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active symbols: %w", err)
	}
	if err := env.Err(); err != nil {
		return nil, err
	}

	var resp derivapi.ActiveSymbolsResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	if len(resp.ActiveSymbols) == 0 {
		return nil, ErrNoSymbols
	}

	out := make([]Instrument, 0, len(resp.ActiveSymbols))
	for _, s := range resp.ActiveSymbols {
		if s.Code() == "" {
			continue
		}
		out = append(out, fromActiveSymbol(s))
	}
	if len(out) == 0 {
		return nil, ErrNoSymbols
	}
	return out, nil
}

type enrichResult struct {
	instruments []Instrument
	err         error
}

func (c *Catalog) enrichWithTimeout(ctx context.Context, base []Instrument) ([]Instrument, error) {
	enrichCtx, cancel := context.WithTimeout(ctx, c.config.EnrichTimeout)
	defer cancel()

	done := make(chan enrichResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- enrichResult{err: fmt.Errorf("%w: %v", ErrEnrichPanicked, r)}
			}
		}()
		schedule := c.schedule.Get(enrichCtx)
		if !validSchedule(schedule) {
			done <- enrichResult{err: ErrEmptySchedule}
			return
		}
		done <- enrichResult{instruments: buildLookups(schedule).enrichAll(base)}
	}()

	select {
	case res := <-done:
		return res.instruments, res.err
	case <-enrichCtx.Done():
		return nil, ErrEnrichTimeout
	}
}

func (c *Catalog) publish(s *snapshot) *snapshot {
	c.current.Store(s)
	c.logger.Info("Published %d instruments (%s)", len(s.instruments), s.source)
	if c.publisher != nil {
		c.publisher.Publish(events.NewEvent(events.EventCatalogRefreshed, events.CatalogPayload{
			Source: string(s.source),
			Count:  len(s.instruments),
		}))
	}
	return s
}

// Instruments returns a copy of the published list
func (c *Catalog) Instruments() []Instrument {
	return copyInstruments(c.current.Load().instruments)
}

// PipSizes maps instrument codes to pip decimal places
func (c *Catalog) PipSizes() map[string]int {
	s := c.current.Load()
	out := make(map[string]int, len(s.instruments))
	for _, inst := range s.instruments {
		if !inst.Pip.IsZero() {
			out[inst.key()] = inst.PipSize
		}
	}
	return out
}

func (c *Catalog) Lookup(code string) (Instrument, bool) {
	s := c.current.Load()
	i, ok := s.index[code]
	if !ok {
		return Instrument{}, false
	}
	return s.instruments[i], true
}

// HasLiveData reports whether the published list came from the backend
func (c *Catalog) HasLiveData() bool {
	return c.current.Load().source != SourceFallback
}

func (c *Catalog) Source() Source {
	return c.current.Load().source
}

func (c *Catalog) RefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}

// IsMarketClosed reports whether a known instrument's exchange is closed.
// Unknown codes are reported open.
func (c *Catalog) IsMarketClosed(code string) bool {
	inst, ok := c.Lookup(code)
	if !ok {
		return false
	}
	return !inst.ExchangeIsOpen
}

func copyInstruments(in []Instrument) []Instrument {
	out := make([]Instrument, len(in))
	copy(out, in)
	return out
}
