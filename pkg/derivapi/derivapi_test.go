package derivapi_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yetasya/derivatives-bot/pkg/derivapi"
)

var _ = Describe("Request", func() {
	DescribeTable("Kind names the call",
		func(req derivapi.Request, kind string) {
			Expect(req.Kind()).To(Equal(kind))
		},
		Entry("authorize", derivapi.Authorize("a1-token"), "authorize"),
		Entry("subscribe ignores the subscribe flag", derivapi.Subscribe("balance"), "balance"),
		Entry("trading times", derivapi.TradingTimesRequest("today"), "trading_times"),
		Entry("active symbols", derivapi.ActiveSymbols("brief"), "active_symbols"),
		Entry("stamped request", derivapi.Time().WithReqID(7), "time"),
		Entry("empty", derivapi.Request{"req_id": 1}, ""),
	)

	It("builds the schedule request for a date", func() {
		Expect(derivapi.TradingTimesRequest("2026-10-17")).To(Equal(derivapi.Request{"trading_times": "2026-10-17"}))
	})

	It("stamps a copy with the correlation id", func() {
		req := derivapi.Logout()
		stamped := req.WithReqID(42)

		Expect(stamped).To(HaveKeyWithValue("req_id", int64(42)))
		Expect(req).NotTo(HaveKey("req_id"))
	})
})

var _ = Describe("Envelope", func() {
	It("decodes a trading schedule", func() {
		env, err := derivapi.ParseEnvelope([]byte(`{
			"msg_type": "trading_times",
			"req_id": 3,
			"trading_times": {"markets": [{"name": "Derived", "submarkets": [
				{"name": "Continuous Indices", "symbols": [{"underlying_symbol": "R_10", "display_name": "Volatility 10 Index"}]}
			]}]}
		}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(env.MsgType).To(Equal("trading_times"))
		Expect(env.ReqID).To(Equal(int64(3)))
		Expect(env.Err()).NotTo(HaveOccurred())

		var resp derivapi.TradingTimesResponse
		Expect(env.Decode(&resp)).To(Succeed())
		Expect(resp.TradingTimes).NotTo(BeNil())
		Expect(resp.TradingTimes.Markets).To(HaveLen(1))
		Expect(resp.TradingTimes.Markets[0].Submarkets[0].Symbols[0].DisplayName).To(Equal("Volatility 10 Index"))
	})

	It("exposes the error payload", func() {
		env, err := derivapi.ParseEnvelope([]byte(`{"msg_type":"authorize","error":{"code":"InvalidToken","message":"The token is invalid."}}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(env.Err()).To(MatchError("InvalidToken: The token is invalid."))
		Expect(derivapi.IsInvalidToken(fmt.Errorf("authorize: %w", env.Err()))).To(BeTrue())
	})

	It("rejects malformed json", func() {
		_, err := derivapi.ParseEnvelope([]byte(`{"msg_type":`))
		Expect(err).To(HaveOccurred())
	})

	It("prefers underlying_symbol over symbol", func() {
		Expect(derivapi.ActiveSymbol{Symbol: "R_10", UnderlyingSymbol: "1HZ10V"}.Code()).To(Equal("1HZ10V"))
		Expect(derivapi.ActiveSymbol{Symbol: "R_10"}.Code()).To(Equal("R_10"))
	})
})

var _ = Describe("error codes", func() {
	It("classifies session invalidating codes", func() {
		Expect(derivapi.IsSessionInvalidating(derivapi.CodeDisabledClient)).To(BeTrue())
		Expect(derivapi.IsSessionInvalidating(derivapi.CodeRateLimit)).To(BeFalse())
	})

	It("classifies retryable codes", func() {
		Expect(derivapi.IsRetryable(derivapi.CodeRateLimit)).To(BeTrue())
		Expect(derivapi.IsRetryable(derivapi.CodeInvalidToken)).To(BeFalse())
	})

	It("does not treat plain errors as api errors", func() {
		_, ok := derivapi.AsAPIError(errors.New("boom"))
		Expect(ok).To(BeFalse())
	})
})
