package security

import (
	"context"
	"net/http"
)

const defaultUserAgent = "derivatives-bot/1.0"

type staticHeaders struct {
	userAgent string
	origin    string
}

// NewStaticHeaders returns a provider that always sends the same handshake
// headers. Authentication happens in-band after the socket opens, so no
// credential ever travels in the handshake.
func NewStaticHeaders(userAgent, origin string) HeaderProvider {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &staticHeaders{userAgent: userAgent, origin: origin}
}

func (s *staticHeaders) Headers(_ context.Context) (http.Header, error) {
	headers := make(http.Header)
	headers.Set("User-Agent", s.userAgent)
	if s.origin != "" {
		headers.Set("Origin", s.origin)
	}
	return headers, nil
}
