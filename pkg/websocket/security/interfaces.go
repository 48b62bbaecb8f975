package security

import (
	"context"
	"net/http"
)

// HeaderProvider supplies the handshake headers for a dial
type HeaderProvider interface {
	Headers(ctx context.Context) (http.Header, error)
}

// RateLimiter defines rate limiting operations
type RateLimiter interface {
	Allow() bool
	Reset()
}

// MessageValidator defines message validation operations
type MessageValidator interface {
	ValidateMessage(message []byte) error
}
