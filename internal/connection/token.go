package connection

import "sync"

// OneTimeTokenSource holds a one-time token handed over at startup (flag,
// environment or the status API) until the open sequence takes it.
type OneTimeTokenSource struct {
	mu    sync.Mutex
	token string
}

func NewOneTimeTokenSource(token string) *OneTimeTokenSource {
	return &OneTimeTokenSource{token: token}
}

// Set replaces the pending token
func (s *OneTimeTokenSource) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Take returns the pending token and clears it in one step, so a token is
// handed out once.
func (s *OneTimeTokenSource) Take() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.token
	s.token = ""
	return token, token != ""
}

func (s *OneTimeTokenSource) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}
