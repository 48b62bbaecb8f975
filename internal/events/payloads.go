package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

// CurrentAccount is the account summary carried by Authorized
type CurrentAccount struct {
	LoginID   string           `json:"loginid"`
	Currency  string           `json:"currency"`
	IsVirtual int              `json:"is_virtual"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
}

type AuthorizedPayload struct {
	AccountList    []derivapi.AccountListEntry `json:"account_list"`
	CurrentAccount CurrentAccount              `json:"current_account"`
}

type InvalidTokenPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

type ConnectionStatusPayload struct {
	Status      string `json:"status"`
	TransportID string `json:"transport_id,omitempty"`
}

type BalancePayload struct {
	LoginID  string          `json:"loginid"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type CatalogPayload struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

type ServerTimePayload struct {
	ServerTime time.Time `json:"server_time"`
	// Fallback is set when the local clock stood in for the backend
	Fallback bool `json:"fallback"`
}

type StreamUpdatePayload struct {
	Stream         string          `json:"stream"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Message        json.RawMessage `json:"message"`
}
