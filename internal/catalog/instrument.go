// Package catalog keeps the list of tradable instruments, enriched with
// display metadata and degrading to a bundled list when the backend is
// slow or unavailable.
package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

// Source tells where the published instrument list came from
type Source string

const (
	SourceFallback Source = "fallback"
	SourceLive     Source = "live"
	SourceEnriched Source = "enriched"
)

// Instrument is a tradable symbol. Values are never modified after they are
// published; a refresh replaces the whole list.
type Instrument struct {
	Code                 string          `json:"code"`
	UnderlyingCode       string          `json:"underlying_code"`
	DisplayName          string          `json:"display_name"`
	Market               string          `json:"market"`
	MarketDisplayName    string          `json:"market_display_name,omitempty"`
	Submarket            string          `json:"submarket"`
	SubmarketDisplayName string          `json:"submarket_display_name,omitempty"`
	Subgroup             string          `json:"subgroup,omitempty"`
	SubgroupDisplayName  string          `json:"subgroup_display_name,omitempty"`
	SymbolType           string          `json:"symbol_type,omitempty"`
	Pip                  decimal.Decimal `json:"pip"`
	PipSize              int             `json:"pip_size"`
	ExchangeIsOpen       bool            `json:"exchange_is_open"`
	IsTradingSuspended   bool            `json:"is_trading_suspended"`
}

// PipSize returns the number of decimal places a pip value carries:
// 0.001 -> 3, 0.00001 -> 5, 0.0025 -> 3, anything >= 1 -> 0.
func PipSize(pip decimal.Decimal) int {
	if pip.Sign() <= 0 {
		return 0
	}
	// exponent of the leading digit in scientific notation
	exp := pip.Exponent() + int32(pip.NumDigits()) - 1
	if exp < 0 {
		return int(-exp)
	}
	return 0
}

// fromActiveSymbol builds the pre-enrichment instrument. Symbol and
// underlying symbol are backfilled from each other.
func fromActiveSymbol(s derivapi.ActiveSymbol) Instrument {
	code := s.Code()
	symbol := s.Symbol
	if symbol == "" {
		symbol = code
	}

	pip := s.PipSize
	if !pip.Valid {
		pip = s.Pip
	}

	symbolType := s.UnderlyingSymbolType
	if symbolType == "" {
		symbolType = s.SymbolType
	}

	inst := Instrument{
		Code:               symbol,
		UnderlyingCode:     code,
		DisplayName:        s.DisplayName,
		Market:             s.Market,
		Submarket:          s.Submarket,
		Subgroup:           s.Subgroup,
		SymbolType:         symbolType,
		ExchangeIsOpen:     s.ExchangeIsOpen == 1,
		IsTradingSuspended: s.IsTradingSuspended == 1,
	}
	if pip.Valid {
		inst.Pip = pip.Decimal
		inst.PipSize = PipSize(pip.Decimal)
	}
	return inst
}

// key is the code instruments are indexed by
func (i Instrument) key() string {
	if i.UnderlyingCode != "" {
		return i.UnderlyingCode
	}
	return i.Code
}
