package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

type namePair struct {
	code string
	name string
}

// marketNames maps market codes to display names. Order is kept so reverse
// lookups by name are deterministic.
var marketNames = []namePair{
	{"synthetic_index", "Derived"},
	{"forex", "Forex"},
	{"indices", "Stock Indices"},
	{"stocks", "Stocks"},
	{"commodities", "Commodities"},
	{"cryptocurrency", "Cryptocurrencies"},
	{"basket_index", "Basket Indices"},
	{"random_index", "Derived"},
}

var submarketNames = []namePair{
	{"random_index", "Continuous Indices"},
	{"random_daily", "Daily Reset Indices"},
	{"crash_index", "Crash/Boom"},
	{"jump_index", "Jump Indices"},
	{"step_index", "Step Indices"},
	{"range_break", "Range Break Indices"},

	{"major_pairs", "Major Pairs"},
	{"minor_pairs", "Minor Pairs"},
	{"exotic_pairs", "Exotic Pairs"},
	{"smart_fx", "Smart FX"},
	{"micro_pairs", "Micro Pairs"},

	{"forex_basket", "Forex Basket"},
	{"commodity_basket", "Commodity Basket"},
	{"stock_basket", "Stock Basket"},

	{"metals", "Metals"},
	{"energy", "Energy"},

	{"crypto_index", "Crypto Index"},
	{"non_stable_coin", "Non-Stable Coins"},
	{"stable_coin", "Stable Coins"},
	{"crypto_basket", "Crypto Basket"},

	{"asian_indices", "Asian Indices"},
	{"american_indices", "American Indices"},
	{"european_indices", "European Indices"},
	{"otc_index", "OTC Indices"},
	{"europe_OTC", "European Indices"},
	{"asia_oceania_OTC", "Asian Indices"},
	{"americas_OTC", "American Indices"},
	{"otc_indices", "OTC Indices"},
	{"us_indices", "US Indices"},
	{"stock_indices", "Stock Indices"},
	{"indices", "Indices"},
}

var (
	marketNameIndex    = indexPairs(marketNames)
	submarketNameIndex = indexPairs(submarketNames)
)

func indexPairs(pairs []namePair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.code] = p.name
	}
	return out
}

// MarketDisplayName returns the static display name of a market code
func MarketDisplayName(code string) (string, bool) {
	name, ok := marketNameIndex[code]
	return name, ok
}

// SubmarketDisplayName returns the static display name of a submarket code
func SubmarketDisplayName(code string) (string, bool) {
	name, ok := submarketNameIndex[code]
	return name, ok
}

type bundledSymbol struct {
	code        string
	displayName string
	market      string
	submarket   string
	pip         string
}

var bundledSymbols = []bundledSymbol{
	{"R_10", "Volatility 10 Index", "synthetic_index", "random_index", "0.001"},
	{"R_25", "Volatility 25 Index", "synthetic_index", "random_index", "0.001"},
	{"R_50", "Volatility 50 Index", "synthetic_index", "random_index", "0.001"},
	{"R_75", "Volatility 75 Index", "synthetic_index", "random_index", "0.001"},
	{"R_100", "Volatility 100 Index", "synthetic_index", "random_index", "0.001"},
	{"frxEURUSD", "EUR/USD", "forex", "major_pairs", "0.00001"},
	{"frxGBPUSD", "GBP/USD", "forex", "major_pairs", "0.00001"},
	{"frxUSDJPY", "USD/JPY", "forex", "major_pairs", "0.001"},
	{"frxAUDUSD", "AUD/USD", "forex", "major_pairs", "0.00001"},
	{"OTC_DJI", "Wall Street 30", "indices", "american_indices", "0.01"},
	{"OTC_SPX500", "US 500", "indices", "american_indices", "0.01"},
	{"OTC_FTSE", "UK 100", "indices", "european_indices", "0.01"},
	{"OTC_GDAXI", "Germany 40", "indices", "european_indices", "0.01"},
	{"cryBTCUSD", "BTC/USD", "cryptocurrency", "non_stable_coin", "0.01"},
	{"cryETHUSD", "ETH/USD", "cryptocurrency", "non_stable_coin", "0.01"},
	{"frxXAUUSD", "Gold/USD", "commodities", "metals", "0.01"},
	{"frxXAGUSD", "Silver/USD", "commodities", "metals", "0.001"},
}

// FallbackInstruments returns a fresh copy of the bundled instrument list.
// The bundle carries no exchange status, so every entry reports open.
func FallbackInstruments() []Instrument {
	out := make([]Instrument, 0, len(bundledSymbols))
	for _, s := range bundledSymbols {
		pip := decimal.RequireFromString(s.pip)
		inst := Instrument{
			Code:           s.code,
			UnderlyingCode: s.code,
			DisplayName:    s.displayName,
			Market:         s.market,
			Submarket:      s.submarket,
			Pip:            pip,
			PipSize:        PipSize(pip),
			ExchangeIsOpen: true,
		}
		inst.MarketDisplayName, _ = MarketDisplayName(s.market)
		inst.SubmarketDisplayName, _ = SubmarketDisplayName(s.submarket)
		out = append(out, inst)
	}
	return out
}

func scheduleSymbols(codes ...[2]string) []derivapi.TradingSymbol {
	out := make([]derivapi.TradingSymbol, 0, len(codes))
	for _, c := range codes {
		out = append(out, derivapi.TradingSymbol{Symbol: c[0], UnderlyingSymbol: c[0], DisplayName: c[1]})
	}
	return out
}

// FallbackSchedule returns a fresh copy of the bundled trading schedule
func FallbackSchedule() *derivapi.TradingTimes {
	return &derivapi.TradingTimes{
		Markets: []derivapi.TradingMarket{
			{
				Name: "Derived",
				Submarkets: []derivapi.TradingSubmarket{
					{
						Name: "Continuous Indices",
						Symbols: scheduleSymbols(
							[2]string{"R_10", "Volatility 10 Index"},
							[2]string{"R_25", "Volatility 25 Index"},
							[2]string{"R_50", "Volatility 50 Index"},
							[2]string{"R_75", "Volatility 75 Index"},
							[2]string{"R_100", "Volatility 100 Index"},
						),
					},
					{
						Name: "Crash/Boom",
						Symbols: scheduleSymbols(
							[2]string{"CRASH500", "Crash 500 Index"},
							[2]string{"CRASH1000", "Crash 1000 Index"},
							[2]string{"BOOM500", "Boom 500 Index"},
							[2]string{"BOOM1000", "Boom 1000 Index"},
						),
					},
				},
			},
			{
				Name: "Forex",
				Submarkets: []derivapi.TradingSubmarket{
					{
						Name: "Major Pairs",
						Symbols: scheduleSymbols(
							[2]string{"frxEURUSD", "EUR/USD"},
							[2]string{"frxGBPUSD", "GBP/USD"},
							[2]string{"frxUSDJPY", "USD/JPY"},
							[2]string{"frxAUDUSD", "AUD/USD"},
						),
					},
					{
						Name: "Forex Basket",
						Symbols: scheduleSymbols(
							[2]string{"WLDAUD", "AUD Basket"},
							[2]string{"WLDEUR", "EUR Basket"},
							[2]string{"WLDGBP", "GBP Basket"},
							[2]string{"WLDUSD", "USD Basket"},
						),
					},
				},
			},
			{
				Name: "Stock Indices",
				Submarkets: []derivapi.TradingSubmarket{
					{
						Name: "American Indices",
						Symbols: scheduleSymbols(
							[2]string{"OTC_DJI", "Wall Street 30"},
							[2]string{"OTC_SPX500", "US 500"},
						),
					},
					{
						Name: "European Indices",
						Symbols: scheduleSymbols(
							[2]string{"OTC_FTSE", "UK 100"},
							[2]string{"OTC_GDAXI", "Germany 40"},
						),
					},
				},
			},
			{
				Name: "Cryptocurrencies",
				Submarkets: []derivapi.TradingSubmarket{
					{
						Name: "Non-Stable Coins",
						Symbols: scheduleSymbols(
							[2]string{"cryBTCUSD", "BTC/USD"},
							[2]string{"cryETHUSD", "ETH/USD"},
						),
					},
				},
			},
			{
				Name: "Commodities",
				Submarkets: []derivapi.TradingSubmarket{
					{
						Name: "Metals",
						Symbols: scheduleSymbols(
							[2]string{"frxXAUUSD", "Gold/USD"},
							[2]string{"frxXAGUSD", "Silver/USD"},
						),
					},
				},
			},
		},
	}
}
