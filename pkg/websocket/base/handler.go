package base

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
)

// MessageHandler processes push messages of the types it declares
type MessageHandler interface {
	Handle(ctx context.Context, env *derivapi.Envelope) error
	GetMessageTypes() []string
}

// HandlerRegistry routes push messages to handlers by msg_type
type HandlerRegistry struct {
	mu           sync.RWMutex
	typeHandlers map[string]MessageHandler
	fallback     MessageHandler
	logger       logging.ApplicationLogger
}

func NewHandlerRegistry(logger logging.ApplicationLogger) *HandlerRegistry {
	return &HandlerRegistry{
		typeHandlers: make(map[string]MessageHandler),
		logger:       logger,
	}
}

// RegisterHandler registers a handler for each of its message types
func (hr *HandlerRegistry) RegisterHandler(handler MessageHandler) error {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	for _, msgType := range handler.GetMessageTypes() {
		if existing, exists := hr.typeHandlers[msgType]; exists {
			return fmt.Errorf("handler already registered for message type '%s': %T", msgType, existing)
		}
	}
	for _, msgType := range handler.GetMessageTypes() {
		hr.typeHandlers[msgType] = handler
		hr.logger.Debug("Registered handler for message type: %s", msgType)
	}
	return nil
}

// SetFallback sets the handler for message types nobody registered
func (hr *HandlerRegistry) SetFallback(handler MessageHandler) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.fallback = handler
}

// RouteMessage routes a message to the appropriate handler
func (hr *HandlerRegistry) RouteMessage(ctx context.Context, env *derivapi.Envelope) error {
	hr.mu.RLock()
	handler, exists := hr.typeHandlers[env.MsgType]
	if !exists {
		handler = hr.fallback
	}
	hr.mu.RUnlock()

	if handler == nil {
		hr.logger.Debug("No handler found for message type: %s", env.MsgType)
		return nil
	}
	return handler.Handle(ctx, env)
}

// GetRegisteredTypes returns all registered message types, sorted
func (hr *HandlerRegistry) GetRegisteredTypes() []string {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	types := make([]string, 0, len(hr.typeHandlers))
	for msgType := range hr.typeHandlers {
		types = append(types, msgType)
	}
	sort.Strings(types)
	return types
}

// FuncHandler adapts a function to MessageHandler
type FuncHandler struct {
	messageTypes []string
	fn           func(ctx context.Context, env *derivapi.Envelope) error
}

func NewFuncHandler(messageTypes []string, fn func(ctx context.Context, env *derivapi.Envelope) error) *FuncHandler {
	return &FuncHandler{messageTypes: messageTypes, fn: fn}
}

func (fh *FuncHandler) Handle(ctx context.Context, env *derivapi.Envelope) error {
	return fh.fn(ctx, env)
}

func (fh *FuncHandler) GetMessageTypes() []string {
	return fh.messageTypes
}
