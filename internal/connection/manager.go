// Package connection runs the session core: it owns the single transport,
// drives the open sequence (token exchange, authorize, subscriptions,
// catalog) and recovers when the transport goes away.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yetasya/derivatives-bot/internal/catalog"
	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/internal/session"
	"github.com/yetasya/derivatives-bot/internal/subscription"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	"github.com/yetasya/derivatives-bot/pkg/websocket/base"
	wsconn "github.com/yetasya/derivatives-bot/pkg/websocket/connection"
)

// Status is the coarse connection status shown to consumers
type Status string

const (
	StatusOpened         Status = "opened"
	StatusClosed         Status = "closed"
	StatusNotInitialized Status = "not initialized"
)

var ErrStopped = errors.New("connection manager stopped")

const unsubscribeTimeout = 5 * time.Second

type BackoffConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

type Config struct {
	// Streams are subscribed after every successful authorization
	Streams []string
	// ProbeInterval is how often Run checks the transport; 0 disables
	ProbeInterval time.Duration
	// TimeSyncInterval is how often the server clock is sampled while
	// authorized; 0 disables
	TimeSyncInterval time.Duration
	Backoff          BackoffConfig
}

// Manager owns exactly one live transport at a time
type Manager struct {
	config    Config
	factory   wsconn.Factory
	link      *Link
	auth      *session.AuthSession
	registry  *subscription.Registry
	catalog   *catalog.Catalog
	tokens    *OneTimeTokenSource
	publisher events.Publisher
	logger    logging.ApplicationLogger
	handlers  *base.HandlerRegistry
	reconnect wsconn.ReconnectManager

	// mu serialises transport replacement
	mu          sync.Mutex
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	initialized atomic.Bool
	stopped     atomic.Bool
	wake        chan struct{}

	// bgMu orders wg.Add against the wg.Wait in Stop
	bgMu     sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewManager(
	config Config,
	factory wsconn.Factory,
	link *Link,
	auth *session.AuthSession,
	registry *subscription.Registry,
	instruments *catalog.Catalog,
	tokens *OneTimeTokenSource,
	publisher events.Publisher,
	logger logging.ApplicationLogger,
) *Manager {
	if len(config.Streams) == 0 {
		config.Streams = subscription.DefaultStreams
	}
	if tokens == nil {
		tokens = NewOneTimeTokenSource("")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     config,
		factory:    factory,
		link:       link,
		auth:       auth,
		registry:   registry,
		catalog:    instruments,
		tokens:     tokens,
		publisher:  publisher,
		logger:     logger,
		handlers:   base.NewHandlerRegistry(logger),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		wake:       make(chan struct{}, 1),
	}

	if err := m.handlers.RegisterHandler(base.NewFuncHandler(config.Streams, m.handleStream)); err != nil {
		logger.Error("Failed to register stream handler: %v", err)
	}
	m.handlers.SetFallback(base.NewFuncHandler(nil, func(_ context.Context, env *derivapi.Envelope) error {
		logger.Debug("Unhandled %s message", env.MsgType)
		return nil
	}))

	if config.Backoff.Enabled {
		strategy := wsconn.NewExponentialBackoffStrategy(
			config.Backoff.InitialDelay,
			config.Backoff.MaxDelay,
			config.Backoff.MaxAttempts,
		)
		m.reconnect = wsconn.NewReconnectManager(func(ctx context.Context) error {
			_, err := m.ReconnectIfStale(ctx)
			return err
		}, strategy, logger)
	}
	return m
}

// Handlers exposes the push-message routing table
func (m *Manager) Handlers() *base.HandlerRegistry {
	return m.handlers
}

// Open replaces the transport with a new one and connects it. Construction
// and dial failures are returned, never retried here.
func (m *Manager) Open(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(ctx)
}

func (m *Manager) openLocked(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if old := m.link.load(); old != nil {
		m.teardownLocked(old)
	}

	transport, err := m.factory()
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	m.initialized.Store(true)

	genCtx, cancel := context.WithCancel(m.rootCtx)
	gen := &generation{transport: transport, ctx: genCtx, cancel: cancel}

	transport.SetCallbacks(
		func() error {
			m.onOpen(gen)
			return nil
		},
		func() error {
			m.onClose(gen)
			return nil
		},
		func(env *derivapi.Envelope) error {
			return m.onMessage(gen, env)
		},
		func(err error) {
			m.logger.Warn("Transport %s error: %v", transport.ID(), err)
		},
	)

	m.link.store(gen)

	// the transport lives on genCtx; ctx only bounds the dial
	stop := context.AfterFunc(ctx, cancel)
	err = transport.Connect(genCtx)
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		m.link.release(gen)
		cancel()
		_ = transport.Disconnect()
		return fmt.Errorf("failed to open transport: %w", err)
	}
	return nil
}

// teardownLocked detaches gen before closing it, so its close callback sees
// a stale generation and stays quiet
func (m *Manager) teardownLocked(gen *generation) {
	released := m.link.release(gen)
	gen.cancel()
	if err := gen.transport.Disconnect(); err != nil {
		m.logger.Warn("Failed to close transport %s: %v", gen.transport.ID(), err)
	}
	if released {
		m.registry.Discard()
		m.auth.Reset()
		m.publishStatus(StatusClosed, gen.transport.ID())
	}
}

func (m *Manager) onOpen(gen *generation) {
	if m.link.load() != gen {
		return
	}
	m.logger.Info("Transport %s opened", gen.transport.ID())
	m.publishStatus(StatusOpened, gen.transport.ID())

	m.goBackground(func() { m.runOpenSequence(gen) })
}

// goBackground runs fn on a tracked goroutine. Once Stop is draining nothing
// new is started and false is returned.
func (m *Manager) goBackground(fn func()) bool {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.draining {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

func (m *Manager) onClose(gen *generation) {
	gen.cancel()
	if !m.link.release(gen) {
		return
	}
	m.logger.Warn("Transport %s closed", gen.transport.ID())
	m.registry.Discard()
	m.auth.Reset()
	m.publishStatus(StatusClosed, gen.transport.ID())

	if m.reconnect != nil && !m.stopped.Load() {
		if err := m.reconnect.StartReconnection(m.rootCtx); err != nil {
			m.logger.Error("Failed to start reconnection: %v", err)
		}
	}
}

func (m *Manager) onMessage(gen *generation, env *derivapi.Envelope) error {
	if m.link.load() != gen {
		return nil
	}
	m.auth.HandlePush(gen.ctx, env)
	return m.handlers.RouteMessage(gen.ctx, env)
}

func (m *Manager) handleStream(_ context.Context, env *derivapi.Envelope) error {
	if env.Error != nil {
		m.logger.Warn("Stream %s error: %v", env.MsgType, env.Error)
		return nil
	}
	payload := events.StreamUpdatePayload{Stream: env.MsgType, Message: env.Raw}
	if env.Subscription != nil {
		payload.SubscriptionID = env.Subscription.ID
	}
	m.publish(events.EventStreamUpdate, payload)
	return nil
}

// runOpenSequence brings a fresh transport to a usable session. Everything
// runs on the generation context, so a transport close abandons it.
func (m *Manager) runOpenSequence(gen *generation) {
	ctx := gen.ctx

	if !m.catalog.HasLiveData() {
		m.goBackground(func() { m.catalog.Refresh(ctx) })
	}

	if token, ok := m.tokens.Take(); ok {
		if _, err := m.auth.ExchangeOneTimeToken(ctx, token); err != nil {
			m.logger.Error("One-time token exchange failed: %v", err)
			m.publish(events.EventError, events.ErrorPayload{Source: "get_session_token", Message: err.Error()})
			return
		}
	}

	credential, ok, err := m.auth.ActiveCredential(ctx)
	if err != nil {
		m.logger.Error("Failed to read stored credential: %v", err)
		return
	}
	if !ok {
		m.logger.Info("No stored credential, staying anonymous")
		return
	}

	if _, err := m.auth.Authorize(ctx, credential); err != nil {
		m.logger.Warn("Authorize did not complete: %v", err)
		return
	}

	if err := m.registry.SubscribeAll(ctx, m.config.Streams); err != nil {
		m.logger.Error("Some streams could not be subscribed: %v", err)
	}

	if m.config.TimeSyncInterval > 0 {
		m.goBackground(func() { m.runServerTime(gen) })
	}
}

// Close forgets every subscription and closes the transport. A later Open
// or wake signal brings it back.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.link.load()
	if gen == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	m.registry.UnsubscribeAll(ctx)

	m.teardownLocked(gen)
	return nil
}

// ReconnectIfStale replaces the transport when there is none or it is
// closed. It reports whether a new transport was opened.
func (m *Manager) ReconnectIfStale(ctx context.Context) (bool, error) {
	if m.stopped.Load() {
		return false, ErrStopped
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped.Load() {
		return false, ErrStopped
	}
	if gen := m.link.load(); gen != nil && !gen.transport.GetState().IsClosed() {
		return false, nil
	}

	m.logger.Info("Transport is not open, reconnecting")
	m.registry.Discard()
	if err := m.openLocked(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// SwitchAccount activates another stored account and reconnects to
// authorize with it
func (m *Manager) SwitchAccount(ctx context.Context, loginID string) error {
	previous := m.auth.Snapshot().LoginID()
	if err := m.auth.SwitchAccount(ctx, loginID); err != nil {
		return err
	}
	if previous == loginID && m.Status() == StatusOpened {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link.load() != nil {
		unsubCtx, cancel := context.WithTimeout(ctx, unsubscribeTimeout)
		m.registry.UnsubscribeAll(unsubCtx)
		cancel()
	}
	return m.openLocked(ctx)
}

// Wake asks Run to check the transport. Extra signals while one is pending
// are dropped.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run reacts to wake signals and the periodic probe until ctx ends
func (m *Manager) Run(ctx context.Context) {
	var probe <-chan time.Time
	if m.config.ProbeInterval > 0 {
		ticker := time.NewTicker(m.config.ProbeInterval)
		defer ticker.Stop()
		probe = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.rootCtx.Done():
			return
		case <-m.wake:
		case <-probe:
		}

		if reconnected, err := m.ReconnectIfStale(ctx); err != nil {
			m.logger.Error("Reconnect failed: %v", err)
		} else if reconnected {
			m.logger.Info("Reconnected")
		}
	}
}

// Start opens the first transport and starts Run. A failed first open is
// logged; the probe and wake signals retry it.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Open(ctx); err != nil {
		m.logger.Error("Initial connection failed: %v", err)
	}
	if !m.goBackground(func() { m.Run(m.rootCtx) }) {
		return ErrStopped
	}
	return nil
}

// Stop closes the transport for good and waits for background work
func (m *Manager) Stop(ctx context.Context) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if m.reconnect != nil {
		m.reconnect.StopReconnection()
	}
	err := m.Close()
	m.rootCancel()

	m.bgMu.Lock()
	m.draining = true
	m.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for background work")
	}
	return err
}

// Status reports "opened", "closed" or "not initialized"
func (m *Manager) Status() Status {
	gen := m.link.load()
	if gen == nil {
		if m.initialized.Load() {
			return StatusClosed
		}
		return StatusNotInitialized
	}
	if gen.transport.GetState() == wsconn.StateConnected {
		return StatusOpened
	}
	return StatusClosed
}

// Stats describes the live transport
func (m *Manager) Stats() map[string]interface{} {
	stats := map[string]interface{}{"status": string(m.Status())}
	if t := m.link.Transport(); t != nil {
		stats["transport"] = t.GetConnectionStats()
	}
	if m.reconnect != nil {
		stats["reconnecting"] = m.reconnect.IsReconnecting()
	}
	return stats
}

func (m *Manager) publishStatus(status Status, transportID string) {
	m.publish(events.EventConnectionStatus, events.ConnectionStatusPayload{
		Status:      string(status),
		TransportID: transportID,
	})
}

func (m *Manager) publish(eventType events.EventType, payload interface{}) {
	if m.publisher != nil {
		m.publisher.Publish(events.NewEvent(eventType, payload))
	}
}
