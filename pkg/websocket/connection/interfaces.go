package connection

import (
	"context"
	"errors"
	"time"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

var (
	ErrNotConnected       = errors.New("websocket not connected")
	ErrAlreadyConnected   = errors.New("already connected or connecting")
	ErrConnectionClosed   = errors.New("connection closed before response")
	ErrConnectionLost     = errors.New("websocket connection lost")
	ErrRateLimited        = errors.New("outbound rate limit exceeded")
	ErrMaxAttemptsReached = errors.New("max reconnection attempts reached")
)

// ConnectionManager is one websocket transport: a single socket from open to
// close. Requests are correlated with responses by req_id; everything else is
// handed to the onMessage callback.
type ConnectionManager interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, req derivapi.Request) (*derivapi.Envelope, error)
	SendJSON(v interface{}) error
	SendPing() error
	SetCallbacks(onConnect func() error, onDisconnect func() error, onMessage func(*derivapi.Envelope) error, onError func(error))
	GetState() ConnectionState
	GetConnectionStats() map[string]interface{}
	IsHealthy() bool
}

// Factory builds a fresh, unconnected transport
type Factory func() (ConnectionManager, error)

// ReconnectManager re-runs a connect function with backoff
type ReconnectManager interface {
	StartReconnection(ctx context.Context) error
	StopReconnection()
	SetCallbacks(onStart func(int), onFail func(int, error), onSuccess func(int))
	IsReconnecting() bool
}

// ReconnectionStrategy defines backoff between attempts
type ReconnectionStrategy interface {
	NextDelay(attempt int) time.Duration
	MaxAttempts() int
}
