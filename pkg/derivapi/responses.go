package derivapi

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Envelope is the routing header shared by every inbound message. Raw keeps
// the original bytes so the typed payload can be decoded later.
type Envelope struct {
	MsgType      string            `json:"msg_type"`
	ReqID        int64             `json:"req_id,omitempty"`
	Error        *APIError         `json:"error,omitempty"`
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
	Raw          json.RawMessage   `json:"-"`
}

type SubscriptionInfo struct {
	ID string `json:"id"`
}

// ParseEnvelope decodes the routing header of a raw message.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}
	env.Raw = append(json.RawMessage(nil), data...)
	return &env, nil
}

// Decode unmarshals the full message into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Raw) == 0 {
		return fmt.Errorf("empty %s message", e.MsgType)
	}
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("failed to decode %s message: %w", e.MsgType, err)
	}
	return nil
}

// Err returns the error payload as an error, or nil.
func (e *Envelope) Err() error {
	if e.Error == nil {
		return nil
	}
	return e.Error
}

type SessionTokenResponse struct {
	GetSessionToken *struct {
		Token string `json:"token"`
	} `json:"get_session_token"`
}

type AccountListEntry struct {
	LoginID            string `json:"loginid"`
	Currency           string `json:"currency"`
	IsVirtual          int    `json:"is_virtual"`
	IsDisabled         int    `json:"is_disabled"`
	LandingCompanyName string `json:"landing_company_name,omitempty"`
	AccountType        string `json:"account_type,omitempty"`
}

// AccountInfo is the authorize payload.
type AccountInfo struct {
	LoginID            string              `json:"loginid" validate:"required"`
	Currency           string              `json:"currency"`
	IsVirtual          int                 `json:"is_virtual" validate:"oneof=0 1"`
	Balance            decimal.NullDecimal `json:"balance"`
	Country            string              `json:"country,omitempty"`
	Email              string              `json:"email,omitempty"`
	Fullname           string              `json:"fullname,omitempty"`
	LandingCompanyName string              `json:"landing_company_name,omitempty"`
	UserID             int64               `json:"user_id,omitempty"`
	Scopes             []string            `json:"scopes,omitempty"`
	AccountList        []AccountListEntry  `json:"account_list"`
}

type AuthorizeResponse struct {
	Authorize *AccountInfo `json:"authorize"`
}

type ActiveSymbol struct {
	Symbol               string              `json:"symbol,omitempty"`
	UnderlyingSymbol     string              `json:"underlying_symbol,omitempty"`
	DisplayName          string              `json:"display_name,omitempty"`
	Market               string              `json:"market"`
	Submarket            string              `json:"submarket"`
	Subgroup             string              `json:"subgroup,omitempty"`
	SymbolType           string              `json:"symbol_type,omitempty"`
	UnderlyingSymbolType string              `json:"underlying_symbol_type,omitempty"`
	Pip                  decimal.NullDecimal `json:"pip"`
	PipSize              decimal.NullDecimal `json:"pip_size"`
	ExchangeIsOpen       int                 `json:"exchange_is_open"`
	IsTradingSuspended   int                 `json:"is_trading_suspended"`
}

// Code returns the underlying symbol, falling back to the legacy symbol field.
func (s ActiveSymbol) Code() string {
	if s.UnderlyingSymbol != "" {
		return s.UnderlyingSymbol
	}
	return s.Symbol
}

type ActiveSymbolsResponse struct {
	ActiveSymbols []ActiveSymbol `json:"active_symbols"`
}

type TradingSymbol struct {
	Symbol           string `json:"symbol,omitempty"`
	UnderlyingSymbol string `json:"underlying_symbol,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
}

type TradingSubmarket struct {
	Name    string          `json:"name"`
	Symbols []TradingSymbol `json:"symbols"`
}

type TradingMarket struct {
	Name       string             `json:"name"`
	Submarkets []TradingSubmarket `json:"submarkets"`
}

// TradingTimes is the market schedule.
type TradingTimes struct {
	Markets []TradingMarket `json:"markets"`
}

type TradingTimesResponse struct {
	TradingTimes *TradingTimes `json:"trading_times"`
}

type Balance struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	LoginID  string          `json:"loginid"`
	ID       string          `json:"id,omitempty"`
}

type BalanceResponse struct {
	Balance *Balance `json:"balance"`
}

type TimeResponse struct {
	Time int64 `json:"time"`
}
