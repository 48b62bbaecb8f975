package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	"github.com/yetasya/derivatives-bot/pkg/websocket/performance"
	"github.com/yetasya/derivatives-bot/pkg/websocket/security"
)

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateStopped
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsClosed reports whether the socket is closing or closed. A socket still
// connecting is not closed.
func (cs ConnectionState) IsClosed() bool {
	switch cs {
	case StateDisconnected, StateFailed, StateStopped:
		return true
	default:
		return false
	}
}

// connectionManager handles one WebSocket connection with req_id correlation
type connectionManager struct {
	id             string
	config         Config
	headers        security.HeaderProvider
	metrics        performance.Metrics
	circuitBreaker performance.CircuitBreaker
	rateLimiter    security.RateLimiter
	validator      security.MessageValidator
	logger         logging.ApplicationLogger
	dialer         WebSocketDialer

	conn       WebSocketConn
	state      ConnectionState
	stateMutex sync.RWMutex
	writeMutex sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	nextReqID int64
	pendingMu sync.Mutex
	pending   map[int64]chan *derivapi.Envelope

	lastActivity  time.Time
	activityMutex sync.RWMutex

	callbackMutex sync.RWMutex
	onConnect     func() error
	onDisconnect  func() error
	onMessage     func(*derivapi.Envelope) error
	onError       func(error)
}

func NewConnectionManager(
	config Config,
	headers security.HeaderProvider,
	metrics performance.Metrics,
	logger logging.ApplicationLogger,
	dialer WebSocketDialer,
) ConnectionManager {
	config.ApplyDefaults()

	cm := &connectionManager{
		id:             uuid.NewString(),
		config:         config,
		headers:        headers,
		metrics:        metrics,
		circuitBreaker: performance.NewCircuitBreaker(config.CircuitMaxFailures, config.CircuitResetTimeout),
		logger:         logger,
		dialer:         dialer,
		state:          StateDisconnected,
		pending:        make(map[int64]chan *derivapi.Envelope),
	}

	if config.RateLimitCapacity > 0 {
		cm.rateLimiter = security.NewRateLimiter(config.RateLimitCapacity, config.RateLimitRefill)
	}
	if config.ValidateMessages {
		cm.validator = security.NewMessageValidator(security.DefaultValidationConfig(int(config.MaxMessageSize)))
	}

	return cm
}

// NewFactory returns a Factory producing independent transports that share
// the same configuration, metrics and dialer.
func NewFactory(
	config Config,
	headers security.HeaderProvider,
	metrics performance.Metrics,
	logger logging.ApplicationLogger,
	dialer WebSocketDialer,
) Factory {
	return func() (ConnectionManager, error) {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid transport config: %w", err)
		}
		return NewConnectionManager(config, headers, metrics, logger, dialer), nil
	}
}

func (cm *connectionManager) ID() string {
	return cm.id
}

func (cm *connectionManager) SetCallbacks(
	onConnect func() error,
	onDisconnect func() error,
	onMessage func(*derivapi.Envelope) error,
	onError func(error),
) {
	cm.callbackMutex.Lock()
	defer cm.callbackMutex.Unlock()
	cm.onConnect = onConnect
	cm.onDisconnect = onDisconnect
	cm.onMessage = onMessage
	cm.onError = onError
}

func (cm *connectionManager) Connect(ctx context.Context) error {
	cm.stateMutex.Lock()
	if cm.state == StateConnected || cm.state == StateConnecting {
		cm.stateMutex.Unlock()
		return ErrAlreadyConnected
	}

	cm.setState(StateConnecting)
	cm.ctx, cm.cancel = context.WithCancel(ctx)
	connCtx := cm.ctx
	cm.stateMutex.Unlock()

	err := cm.circuitBreaker.Execute(func() error {
		return cm.doConnect(connCtx)
	})
	if err != nil {
		cm.stateMutex.Lock()
		if cm.state == StateConnecting {
			cm.setState(StateFailed)
		}
		cm.cancel()
		cm.stateMutex.Unlock()

		if cm.metrics != nil {
			cm.metrics.IncrementConnectionError()
		}
		return err
	}

	cm.callbackMutex.RLock()
	onConnect := cm.onConnect
	cm.callbackMutex.RUnlock()

	if onConnect != nil {
		if err := onConnect(); err != nil {
			cm.logger.Error("Connect callback failed: %v", err)
			return err
		}
	}

	cm.logger.Info("WebSocket %s connected to %s", cm.id, cm.config.URL)
	return nil
}

func (cm *connectionManager) doConnect(ctx context.Context) error {
	u, err := url.Parse(cm.config.URL)
	if err != nil {
		return fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	if cm.config.RequireSSL && u.Scheme != "wss" {
		return fmt.Errorf("insecure WebSocket scheme: %s (must be wss)", u.Scheme)
	}

	var headers http.Header
	if cm.headers != nil {
		h, err := cm.headers.Headers(ctx)
		if err != nil {
			return fmt.Errorf("failed to get handshake headers: %w", err)
		}
		headers = h
	}

	connectCtx, cancel := context.WithTimeout(ctx, cm.config.ConnectTimeout)
	defer cancel()

	conn, _, err := cm.dialer.DialContext(connectCtx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	cm.stateMutex.Lock()
	if cm.state != StateConnecting {
		// Disconnect won the race against the dial
		cm.stateMutex.Unlock()
		_ = conn.Close()
		return ErrConnectionClosed
	}
	cm.conn = conn
	cm.setState(StateConnected)
	cm.stateMutex.Unlock()

	cm.updateLastActivity()
	cm.watchPongs(conn)

	go cm.readMessages(ctx, conn)

	if cm.config.EnableHealthMonitoring {
		go cm.simpleHealthMonitor(ctx)
	}

	return nil
}

func (cm *connectionManager) Disconnect() error {
	cm.stateMutex.Lock()
	if cm.state == StateStopped {
		cm.stateMutex.Unlock()
		return nil
	}

	wasLive := cm.state == StateConnected || cm.state == StateConnecting
	cm.setState(StateStopped)

	if cm.cancel != nil {
		cm.cancel()
	}

	var err error
	if cm.conn != nil {
		err = cm.conn.Close()
		cm.conn = nil
	}
	cm.stateMutex.Unlock()

	if wasLive {
		cm.callbackMutex.RLock()
		onDisconnect := cm.onDisconnect
		cm.callbackMutex.RUnlock()
		if onDisconnect != nil {
			_ = onDisconnect()
		}
		cm.logger.Info("WebSocket %s disconnected", cm.id)
	}

	return err
}

// Send writes req with a fresh req_id and waits for the matching response.
// The wait ends early when ctx ends or the socket closes; a late response is
// then dropped.
func (cm *connectionManager) Send(ctx context.Context, req derivapi.Request) (*derivapi.Envelope, error) {
	if cm.rateLimiter != nil && !cm.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	cm.stateMutex.RLock()
	state, conn, connCtx := cm.state, cm.conn, cm.ctx
	cm.stateMutex.RUnlock()

	if state != StateConnected || conn == nil {
		return nil, ErrNotConnected
	}

	id := atomic.AddInt64(&cm.nextReqID, 1)
	respCh := make(chan *derivapi.Envelope, 1)

	cm.pendingMu.Lock()
	cm.pending[id] = respCh
	cm.pendingMu.Unlock()

	defer func() {
		cm.pendingMu.Lock()
		delete(cm.pending, id)
		cm.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req.WithReqID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", req.Kind(), err)
	}

	cm.logger.Debug("Sending %s request (req_id %d)", req.Kind(), id)
	if err := cm.write(conn, websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", req.Kind(), err)
	}

	if cm.metrics != nil {
		cm.metrics.IncrementSent()
	}
	start := time.Now()

	select {
	case <-ctx.Done():
		if cm.metrics != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cm.metrics.IncrementTimedOut()
		}
		return nil, ctx.Err()
	case <-connCtx.Done():
		return nil, ErrConnectionClosed
	case env := <-respCh:
		if cm.metrics != nil {
			cm.metrics.RecordRoundTrip(time.Since(start))
		}
		return env, nil
	}
}

// SendJSON writes v without waiting for a reply
func (cm *connectionManager) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	cm.stateMutex.RLock()
	state, conn := cm.state, cm.conn
	cm.stateMutex.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	cm.logger.Debug("Sending WebSocket message: %s", string(data))
	if err := cm.write(conn, websocket.TextMessage, data); err != nil {
		return err
	}
	if cm.metrics != nil {
		cm.metrics.IncrementSent()
	}
	return nil
}

func (cm *connectionManager) SendPing() error {
	cm.stateMutex.RLock()
	state, conn := cm.state, cm.conn
	cm.stateMutex.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	cm.logger.Debug("Sending WebSocket ping control frame")
	return cm.write(conn, websocket.PingMessage, nil)
}

// write serialises writers; gorilla allows one concurrent writer per socket
func (cm *connectionManager) write(conn WebSocketConn, messageType int, data []byte) error {
	cm.writeMutex.Lock()
	defer cm.writeMutex.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	return conn.WriteMessage(messageType, data)
}

func (cm *connectionManager) GetState() ConnectionState {
	cm.stateMutex.RLock()
	defer cm.stateMutex.RUnlock()
	return cm.state
}

func (cm *connectionManager) GetConnectionStats() map[string]interface{} {
	cm.stateMutex.RLock()
	state := cm.state
	cm.stateMutex.RUnlock()

	cm.activityMutex.RLock()
	lastActivity := cm.lastActivity
	cm.activityMutex.RUnlock()

	cm.pendingMu.Lock()
	pending := len(cm.pending)
	cm.pendingMu.Unlock()

	stats := map[string]interface{}{
		"id":               cm.id,
		"state":            state.String(),
		"connected":        state == StateConnected,
		"last_activity":    lastActivity,
		"pending_requests": pending,
		"url":              cm.config.URL,
		"circuit_breaker":  string(cm.circuitBreaker.GetState()),
	}

	if cm.metrics != nil {
		for k, v := range cm.metrics.GetStats() {
			stats[k] = v
		}
	}

	return stats
}

func (cm *connectionManager) IsHealthy() bool {
	if cm.GetState() != StateConnected {
		return false
	}

	cm.activityMutex.RLock()
	lastActivity := cm.lastActivity
	cm.activityMutex.RUnlock()

	return time.Since(lastActivity) <= cm.config.HealthCheckTimeout
}

// setState requires stateMutex
func (cm *connectionManager) setState(state ConnectionState) {
	cm.state = state
	cm.logger.Debug("Connection %s state changed to: %s", cm.id, state.String())
}

func (cm *connectionManager) updateLastActivity() {
	cm.activityMutex.Lock()
	defer cm.activityMutex.Unlock()
	cm.lastActivity = time.Now()
}

// pongReceiver is implemented by *websocket.Conn
type pongReceiver interface {
	SetPongHandler(h func(appData string) error)
}

// watchPongs counts pong frames as activity and extends the read deadline.
// gorilla consumes control frames inside ReadMessage.
func (cm *connectionManager) watchPongs(conn WebSocketConn) {
	pr, ok := conn.(pongReceiver)
	if !ok {
		return
	}
	pr.SetPongHandler(func(string) error {
		cm.updateLastActivity()
		return conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	})
}

func (cm *connectionManager) readMessages(ctx context.Context, conn WebSocketConn) {
	defer func() {
		if r := recover(); r != nil {
			cm.logger.Error("WebSocket read panic: %v", r)
			cm.handleConnectionError(conn, fmt.Errorf("read panic: %v", r))
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout)); err != nil {
			cm.handleConnectionError(conn, err)
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cm.logger.Info("WebSocket %s closed by server", cm.id)
			} else {
				cm.logger.Warn("WebSocket %s read error: %v", cm.id, err)
			}
			cm.handleConnectionError(conn, err)
			return
		}

		cm.updateLastActivity()
		if cm.metrics != nil {
			cm.metrics.IncrementReceived()
		}

		cm.dispatch(message)
	}
}

func (cm *connectionManager) dispatch(message []byte) {
	if cm.validator != nil {
		if err := cm.validator.ValidateMessage(message); err != nil {
			cm.logger.Debug("Dropping message: %v", err)
			if cm.metrics != nil {
				cm.metrics.IncrementDropped()
			}
			return
		}
	}

	env, err := derivapi.ParseEnvelope(message)
	if err != nil {
		cm.reportError(err)
		return
	}

	// The subscribe acknowledgement is also the first stream update, so it
	// goes to both the waiting request and the push handlers. A plain reply
	// nobody waits for any more is dropped unless it carries an error.
	if env.ReqID != 0 && env.Subscription == nil {
		routed := cm.routeResponse(env)
		if routed || env.Error == nil {
			if !routed {
				cm.logger.Debug("Dropping late %s reply (req_id %d)", env.MsgType, env.ReqID)
			}
			return
		}
	} else if env.ReqID != 0 {
		cm.routeResponse(env)
	}

	cm.callbackMutex.RLock()
	onMessage := cm.onMessage
	cm.callbackMutex.RUnlock()

	if onMessage != nil {
		if err := onMessage(env); err != nil {
			cm.reportError(fmt.Errorf("message processing error: %w", err))
		}
	}
}

// routeResponse hands env to the goroutine waiting on its req_id
func (cm *connectionManager) routeResponse(env *derivapi.Envelope) bool {
	cm.pendingMu.Lock()
	ch, ok := cm.pending[env.ReqID]
	if ok {
		delete(cm.pending, env.ReqID)
	}
	cm.pendingMu.Unlock()

	if ok {
		select {
		case ch <- env:
		default:
		}
	}
	return ok
}

func (cm *connectionManager) reportError(err error) {
	cm.callbackMutex.RLock()
	onError := cm.onError
	cm.callbackMutex.RUnlock()

	if onError != nil {
		onError(err)
	}
}

func (cm *connectionManager) simpleHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(cm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.stateMutex.RLock()
			state, conn := cm.state, cm.conn
			cm.stateMutex.RUnlock()
			if state != StateConnected {
				return
			}

			cm.activityMutex.RLock()
			timeSinceActivity := time.Since(cm.lastActivity)
			cm.activityMutex.RUnlock()

			if timeSinceActivity > cm.config.HealthCheckTimeout {
				cm.logger.Warn("No activity for %v, connection may be stale", timeSinceActivity)
			}
			// the pong extends the read deadline of an idle socket
			if cm.config.EnableHealthPings && timeSinceActivity >= cm.config.HealthCheckInterval {
				if err := cm.SendPing(); err != nil {
					cm.handleConnectionError(conn, err)
					return
				}
			}
		}
	}
}

// handleConnectionError tears down conn after an unexpected failure. A conn
// that was already replaced or stopped is ignored.
func (cm *connectionManager) handleConnectionError(conn WebSocketConn, cause error) {
	cm.stateMutex.Lock()
	if cm.conn != conn || conn == nil {
		cm.stateMutex.Unlock()
		return
	}
	previousState := cm.state
	cm.setState(StateDisconnected)
	if cm.cancel != nil {
		cm.cancel()
	}
	_ = cm.conn.Close()
	cm.conn = nil
	cm.stateMutex.Unlock()

	cm.logger.Error("WebSocket %s connection lost (was %s): %v", cm.id, previousState.String(), cause)

	if cm.metrics != nil {
		cm.metrics.IncrementConnectionError()
	}

	cm.callbackMutex.RLock()
	onDisconnect := cm.onDisconnect
	cm.callbackMutex.RUnlock()
	if onDisconnect != nil {
		_ = onDisconnect()
	}

	cm.reportError(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
}
