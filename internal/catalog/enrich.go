package catalog

import (
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

// lookups are the display-name tables derived from one schedule
type lookups struct {
	markets    map[string]string
	submarkets map[string]string
	symbols    map[string]string
}

// buildLookups indexes a schedule. Schedule names are keyed both by
// themselves and by every market code that maps to them; static submarket
// names are layered on top, bare and prefixed with each market code.
func buildLookups(schedule *derivapi.TradingTimes) lookups {
	l := lookups{
		markets:    make(map[string]string),
		submarkets: make(map[string]string),
		symbols:    make(map[string]string),
	}
	if schedule == nil {
		return l
	}

	for _, market := range schedule.Markets {
		if market.Name == "" {
			continue
		}
		l.markets[market.Name] = market.Name
		codes := marketCodesFor(market.Name)
		for _, code := range codes {
			l.markets[code] = market.Name
		}

		for _, sub := range market.Submarkets {
			if sub.Name == "" {
				continue
			}
			l.submarkets[market.Name+"_"+sub.Name] = sub.Name
			for _, code := range codes {
				l.submarkets[code+"_"+sub.Name] = sub.Name
			}
		}
	}

	for _, sub := range submarketNames {
		l.submarkets[sub.code] = sub.name
		for _, market := range marketNames {
			l.submarkets[market.code+"_"+sub.code] = sub.name
		}
	}

	for _, market := range schedule.Markets {
		for _, sub := range market.Submarkets {
			for _, sym := range sub.Symbols {
				if sym.DisplayName == "" {
					continue
				}
				if sym.Symbol != "" {
					l.symbols[sym.Symbol] = sym.DisplayName
				}
				if sym.UnderlyingSymbol != "" {
					l.symbols[sym.UnderlyingSymbol] = sym.DisplayName
				}
			}
		}
	}
	return l
}

func marketCodesFor(name string) []string {
	var codes []string
	for _, m := range marketNames {
		if m.name == name {
			codes = append(codes, m.code)
		}
	}
	return codes
}

// groupName resolves a submarket or subgroup code: market-prefixed key
// first, then the bare code, then the raw code itself.
func (l lookups) groupName(market, code string) string {
	name := code
	if market != "" {
		if v, ok := l.submarkets[market+"_"+code]; ok {
			name = v
		}
	}
	if v, ok := l.submarkets[code]; ok {
		name = v
	}
	return name
}

// enrich returns a new instrument carrying display metadata. The display
// name comes from the schedule, then the pattern rules.
func (l lookups) enrich(base Instrument) Instrument {
	out := base

	out.MarketDisplayName = base.Market
	if v, ok := l.markets[base.Market]; ok {
		out.MarketDisplayName = v
	} else if v, ok := MarketDisplayName(base.Market); ok {
		out.MarketDisplayName = v
	}
	if base.Submarket != "" {
		out.SubmarketDisplayName = l.groupName(base.Market, base.Submarket)
	}
	if base.Subgroup != "" {
		out.SubgroupDisplayName = l.groupName(base.Market, base.Subgroup)
	}

	code := base.key()
	if name := l.symbols[code]; name != "" {
		out.DisplayName = name
	} else {
		out.DisplayName = GenerateDisplayName(code, base.Submarket)
	}
	return out
}

func (l lookups) enrichAll(base []Instrument) []Instrument {
	out := make([]Instrument, len(base))
	for i, inst := range base {
		out[i] = l.enrich(inst)
	}
	return out
}
