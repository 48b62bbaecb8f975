// Package connectiontest provides an in-memory transport that answers
// requests from scripted responders, for tests of code built on
// connection.ConnectionManager.
package connectiontest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/websocket/connection"
)

// Responder answers one request. A nil payload with nil error means no reply:
// Send then blocks until its context ends.
type Responder func(ctx context.Context, req derivapi.Request) (map[string]interface{}, error)

// Reply always answers with payload.
func Reply(payload map[string]interface{}) Responder {
	return func(context.Context, derivapi.Request) (map[string]interface{}, error) {
		return payload, nil
	}
}

// ReplyError answers with an error payload.
func ReplyError(code, message string) Responder {
	return Reply(map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": message},
	})
}

// Hang never answers.
func Hang() Responder {
	return func(context.Context, derivapi.Request) (map[string]interface{}, error) {
		return nil, nil
	}
}

// Transport is a scriptable connection.ConnectionManager.
type Transport struct {
	mu         sync.Mutex
	id         string
	state      connection.ConnectionState
	responders map[string]Responder
	requests   []derivapi.Request
	closed     chan struct{}

	// ConnectErr, when set, fails the next Connect
	ConnectErr error

	onConnect    func() error
	onDisconnect func() error
	onMessage    func(*derivapi.Envelope) error
	onError      func(error)
}

func New() *Transport {
	return &Transport{
		id:         uuid.NewString(),
		state:      connection.StateDisconnected,
		responders: make(map[string]Responder),
		closed:     make(chan struct{}),
	}
}

// Handle scripts the answer for requests of the given kind.
func (t *Transport) Handle(kind string, r Responder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responders[kind] = r
}

// Requests returns every request sent so far.
func (t *Transport) Requests() []derivapi.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]derivapi.Request(nil), t.requests...)
}

// CountOf returns how many requests of kind were sent.
func (t *Transport) CountOf(kind string) int {
	n := 0
	for _, r := range t.Requests() {
		if r.Kind() == kind {
			n++
		}
	}
	return n
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) SetCallbacks(
	onConnect func() error,
	onDisconnect func() error,
	onMessage func(*derivapi.Envelope) error,
	onError func(error),
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect, t.onDisconnect, t.onMessage, t.onError = onConnect, onDisconnect, onMessage, onError
}

func (t *Transport) Connect(_ context.Context) error {
	t.mu.Lock()
	if t.state == connection.StateConnected {
		t.mu.Unlock()
		return connection.ErrAlreadyConnected
	}
	if t.ConnectErr != nil {
		t.state = connection.StateFailed
		err := t.ConnectErr
		t.mu.Unlock()
		return err
	}
	t.state = connection.StateConnected
	t.closed = make(chan struct{})
	onConnect := t.onConnect
	t.mu.Unlock()

	if onConnect != nil {
		return onConnect()
	}
	return nil
}

func (t *Transport) Disconnect() error {
	return t.close(connection.StateStopped)
}

// Drop simulates the remote side closing the socket.
func (t *Transport) Drop() {
	_ = t.close(connection.StateDisconnected)
}

func (t *Transport) close(next connection.ConnectionState) error {
	t.mu.Lock()
	wasLive := t.state == connection.StateConnected
	if t.state == connection.StateStopped {
		t.mu.Unlock()
		return nil
	}
	t.state = next
	if wasLive {
		close(t.closed)
	}
	onDisconnect := t.onDisconnect
	t.mu.Unlock()

	if wasLive && onDisconnect != nil {
		_ = onDisconnect()
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, req derivapi.Request) (*derivapi.Envelope, error) {
	t.mu.Lock()
	if t.state != connection.StateConnected {
		t.mu.Unlock()
		return nil, connection.ErrNotConnected
	}
	t.requests = append(t.requests, req)
	responder, ok := t.responders[req.Kind()]
	closed := t.closed
	reqID := int64(len(t.requests))
	t.mu.Unlock()

	if !ok {
		responder = Hang()
	}

	payload, err := responder(ctx, req)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-closed:
			return nil, connection.ErrConnectionClosed
		}
	}

	return envelope(req.Kind(), reqID, payload)
}

func (t *Transport) SendJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != connection.StateConnected {
		return connection.ErrNotConnected
	}
	if req, ok := v.(derivapi.Request); ok {
		t.requests = append(t.requests, req)
	}
	return nil
}

func (t *Transport) SendPing() error {
	if t.GetState() != connection.StateConnected {
		return connection.ErrNotConnected
	}
	return nil
}

// Push delivers an unsolicited message of msgType to the onMessage callback.
func (t *Transport) Push(msgType string, payload map[string]interface{}) error {
	t.mu.Lock()
	onMessage := t.onMessage
	t.mu.Unlock()

	if onMessage == nil {
		return errors.New("no message callback registered")
	}
	env, err := envelope(msgType, 0, payload)
	if err != nil {
		return err
	}
	return onMessage(env)
}

func (t *Transport) GetState() connection.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) GetConnectionStats() map[string]interface{} {
	return map[string]interface{}{
		"id":       t.id,
		"state":    t.GetState().String(),
		"requests": len(t.Requests()),
	}
}

func (t *Transport) IsHealthy() bool {
	return t.GetState() == connection.StateConnected
}

func envelope(msgType string, reqID int64, payload map[string]interface{}) (*derivapi.Envelope, error) {
	body := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["msg_type"] = msgType
	if reqID != 0 {
		body["req_id"] = reqID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return derivapi.ParseEnvelope(data)
}

// Pool is a connection.Factory that remembers every transport it built.
type Pool struct {
	mu      sync.Mutex
	created []*Transport

	// Setup scripts each new transport before it is returned
	Setup func(t *Transport)
}

func (p *Pool) Factory() connection.Factory {
	return func() (connection.ConnectionManager, error) {
		t := New()
		if p.Setup != nil {
			p.Setup(t)
		}
		p.mu.Lock()
		p.created = append(p.created, t)
		p.mu.Unlock()
		return t, nil
	}
}

// Created returns every transport built so far, oldest first.
func (p *Pool) Created() []*Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Transport(nil), p.created...)
}

// Last returns the newest transport, or nil.
func (p *Pool) Last() *Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.created) == 0 {
		return nil
	}
	return p.created[len(p.created)-1]
}
