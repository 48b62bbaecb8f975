// Package session runs the token exchange and authorize handshake and keeps
// the resulting account snapshot.
package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

type State int

const (
	StateAnonymous State = iota
	StateAuthorizing
	StateAuthorized
	StateAuthError
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthorized:
		return "authorized"
	case StateAuthError:
		return "auth_error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a read-only view of the authentication state. IsAuthorized
// implies Account is set.
type Session struct {
	State         State                 `json:"state"`
	IsAuthorizing bool                  `json:"is_authorizing"`
	IsAuthorized  bool                  `json:"is_authorized"`
	Account       *derivapi.AccountInfo `json:"account,omitempty"`
	Balance       *decimal.Decimal      `json:"balance,omitempty"`
	Currency      string                `json:"currency,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// LoginID returns the authorized account id, or ""
func (s Session) LoginID() string {
	if s.Account == nil {
		return ""
	}
	return s.Account.LoginID
}

func (s Session) clone() Session {
	out := s
	if s.Account != nil {
		acc := *s.Account
		acc.AccountList = append([]derivapi.AccountListEntry(nil), s.Account.AccountList...)
		acc.Scopes = append([]string(nil), s.Account.Scopes...)
		out.Account = &acc
	}
	if s.Balance != nil {
		b := *s.Balance
		out.Balance = &b
	}
	return out
}

// LoggedStateSignal reports whether the user is known to be logged in
// elsewhere. It decides how a rejected credential is handled.
type LoggedStateSignal interface {
	LoggedIn() bool
}

// LoggedStateFunc adapts a function to LoggedStateSignal
type LoggedStateFunc func() bool

func (f LoggedStateFunc) LoggedIn() bool {
	return f()
}

// StaticLoggedState is a fixed signal, as set from configuration
type StaticLoggedState bool

func (s StaticLoggedState) LoggedIn() bool {
	return bool(s)
}
