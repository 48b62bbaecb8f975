// Package derivapi holds the wire contract of the trading backend: request
// builders, response envelopes and error codes.
package derivapi

import "sort"

// Request is a single outbound call. The transport adds req_id before writing.
type Request map[string]interface{}

// meta keys never name the call itself
var metaKeys = map[string]bool{
	"req_id":      true,
	"subscribe":   true,
	"passthrough": true,
}

// Kind returns the call name, e.g. "authorize" for {authorize: "..."}.
func (r Request) Kind() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		if !metaKeys[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}

// WithReqID returns a copy of the request stamped with the correlation id.
func (r Request) WithReqID(id int64) Request {
	out := make(Request, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out["req_id"] = id
	return out
}

func GetSessionToken(oneTimeToken string) Request {
	return Request{"get_session_token": oneTimeToken}
}

func Authorize(credential string) Request {
	return Request{"authorize": credential}
}

func Subscribe(stream string) Request {
	return Request{stream: 1, "subscribe": 1}
}

func Forget(subscriptionID string) Request {
	return Request{"forget": subscriptionID}
}

// ActiveSymbols requests the instrument list; mode is "brief" or "full".
func ActiveSymbols(mode string) Request {
	return Request{"active_symbols": mode}
}

// TradingTimesRequest asks for the schedule of a date ("today" or YYYY-MM-DD).
func TradingTimesRequest(date string) Request {
	return Request{"trading_times": date}
}

func Time() Request {
	return Request{"time": 1}
}

func Logout() Request {
	return Request{"logout": 1}
}
