package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

type symbolPattern struct {
	re       *regexp.Regexp
	generate func(m []string) string
}

func literal(name string) func([]string) string {
	return func([]string) string { return name }
}

var otcIndexNames = map[string]string{
	"DJI":    "Wall Street 30",
	"SPX":    "US 500",
	"NDX":    "US Tech 100",
	"FTSE":   "UK 100",
	"GDAXI":  "Germany 40",
	"FCHI":   "France 40",
	"N225":   "Japan 225",
	"HSI":    "Hong Kong 50",
	"AS51":   "Australia 200",
	"AEX":    "Netherlands 25",
	"SSMI":   "Swiss 20",
	"SX5E":   "Euro 50",
	"IBEX35": "Spain 35",
}

var metalNames = map[string]string{
	"XAU": "Gold",
	"XAG": "Silver",
	"XPT": "Platinum",
	"XPD": "Palladium",
}

// symbolPatterns are tried in order; the first match names the symbol.
// Metals and baskets sit ahead of the generic currency-pair rules, which
// would otherwise swallow them.
var symbolPatterns = []symbolPattern{
	{regexp.MustCompile(`(?i)^STPRNG$`), literal("Step 100 Index")},
	{regexp.MustCompile(`(?i)^STPRNG(\d+)$`), func(m []string) string { return fmt.Sprintf("Step %s00 Index", m[1]) }},

	{regexp.MustCompile(`(?i)^R_(\d+)$`), func(m []string) string { return fmt.Sprintf("Volatility %s Index", m[1]) }},
	{regexp.MustCompile(`(?i)^(\d+)HZ(\d+)V$`), func(m []string) string {
		return fmt.Sprintf("Volatility %s (%ss) Index", m[2], m[1])
	}},

	{regexp.MustCompile(`(?i)^CRASH(\d+)N?$`), func(m []string) string { return fmt.Sprintf("Crash %s Index", m[1]) }},
	{regexp.MustCompile(`(?i)^BOOM(\d+)N?$`), func(m []string) string { return fmt.Sprintf("Boom %s Index", m[1]) }},

	{regexp.MustCompile(`(?i)^JD(\d+)$`), func(m []string) string { return fmt.Sprintf("Jump %s Index", m[1]) }},
	{regexp.MustCompile(`(?i)^JMP(\d+)$`), func(m []string) string { return fmt.Sprintf("Jump %s Index", m[1]) }},

	{regexp.MustCompile(`(?i)^RB(\d+)$`), func(m []string) string { return fmt.Sprintf("Range Break %s Index", m[1]) }},

	{regexp.MustCompile(`(?i)^RDBEAR$`), literal("Bear Market Index")},
	{regexp.MustCompile(`(?i)^RDBULL$`), literal("Bull Market Index")},

	{regexp.MustCompile(`(?i)^FRX(XAU|XAG|XPT|XPD)USD$`), func(m []string) string {
		return metalNames[strings.ToUpper(m[1])] + "/USD"
	}},

	{regexp.MustCompile(`(?i)^WLD([A-Z]{3})$`), func(m []string) string { return m[1] + " Basket" }},

	{regexp.MustCompile(`(?i)^FRX([A-Z]{3})([A-Z]{3})$`), func(m []string) string { return m[1] + "/" + m[2] }},
	{regexp.MustCompile(`(?i)^([A-Z]{3})([A-Z]{3})$`), func(m []string) string { return m[1] + "/" + m[2] }},

	{regexp.MustCompile(`(?i)^CRY([A-Z]+)USD$`), func(m []string) string { return m[1] + "/USD" }},
	{regexp.MustCompile(`(?i)^CRY([A-Z]{3})([A-Z]{3})$`), func(m []string) string { return m[1] + "/" + m[2] }},

	{regexp.MustCompile(`(?i)^OTC_([A-Z0-9]+)$`), func(m []string) string {
		if name, ok := otcIndexNames[strings.ToUpper(m[1])]; ok {
			return name
		}
		return m[1] + " Index"
	}},
}

// GenerateDisplayName names a symbol the schedule does not know. Pattern
// rules come first; otherwise the code is title-cased and annotated with the
// submarket's display name.
func GenerateDisplayName(code, submarket string) string {
	for _, p := range symbolPatterns {
		if m := p.re.FindStringSubmatch(code); m != nil {
			return p.generate(m)
		}
	}

	name := titleCase(strings.ReplaceAll(code, "_", " "))
	if submarket != "" {
		if sub, ok := SubmarketDisplayName(submarket); ok && !strings.Contains(name, sub) {
			name = fmt.Sprintf("%s (%s)", name, sub)
		}
	}
	return name
}

// titleCase upper-cases the first letter of every word
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevWord := false
	for _, r := range s {
		isWord := r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
		if isWord && !prevWord {
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
		prevWord = isWord
	}
	return b.String()
}
