package connection

import (
	"context"
	"sync/atomic"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	wsconn "github.com/yetasya/derivatives-bot/pkg/websocket/connection"
)

// generation is one transport and the context of everything started on it.
// The context ends when the transport closes.
type generation struct {
	transport wsconn.ConnectionManager
	ctx       context.Context
	cancel    context.CancelFunc
}

// Link always points at the live transport. Session, registry and catalog
// send through it so they never hold a replaced transport.
type Link struct {
	current atomic.Pointer[generation]
}

func NewLink() *Link {
	return &Link{}
}

// Send forwards to the live transport
func (l *Link) Send(ctx context.Context, req derivapi.Request) (*derivapi.Envelope, error) {
	gen := l.current.Load()
	if gen == nil {
		return nil, wsconn.ErrNotConnected
	}
	return gen.transport.Send(ctx, req)
}

// TransportID names the live transport, or "" when there is none
func (l *Link) TransportID() string {
	gen := l.current.Load()
	if gen == nil {
		return ""
	}
	return gen.transport.ID()
}

// Transport returns the live transport, or nil
func (l *Link) Transport() wsconn.ConnectionManager {
	gen := l.current.Load()
	if gen == nil {
		return nil
	}
	return gen.transport
}

func (l *Link) load() *generation {
	return l.current.Load()
}

func (l *Link) store(gen *generation) {
	l.current.Store(gen)
}

// release detaches gen if it is still the live one
func (l *Link) release(gen *generation) bool {
	return l.current.CompareAndSwap(gen, nil)
}
