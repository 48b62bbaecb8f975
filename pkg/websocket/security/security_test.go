package security

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MessageValidator", func() {
	var validator MessageValidator

	BeforeEach(func() {
		validator = NewMessageValidator(DefaultValidationConfig(1024))
	})

	It("accepts known message types", func() {
		Expect(validator.ValidateMessage([]byte(`{"msg_type":"authorize","authorize":{"loginid":"CR1"}}`))).To(Succeed())
	})

	It("accepts error responses without the payload field", func() {
		Expect(validator.ValidateMessage([]byte(`{"msg_type":"balance","error":{"code":"InvalidToken"}}`))).To(Succeed())
	})

	It("rejects unknown types", func() {
		err := validator.ValidateMessage([]byte(`{"msg_type":"buy"}`))
		Expect(err).To(MatchError(ContainSubstring("invalid message type")))
	})

	It("rejects missing required fields", func() {
		err := validator.ValidateMessage([]byte(`{"msg_type":"balance"}`))
		Expect(err).To(MatchError(ContainSubstring("missing required field 'balance'")))
	})

	It("rejects oversized and malformed messages", func() {
		small := NewMessageValidator(DefaultValidationConfig(8))
		Expect(small.ValidateMessage([]byte(`{"msg_type":"time"}`))).To(MatchError(ContainSubstring("too large")))
		Expect(validator.ValidateMessage([]byte(`not json`))).To(MatchError(ContainSubstring("invalid JSON")))
	})
})

var _ = Describe("RateLimiter", func() {
	It("refills after the window", func() {
		now := time.Unix(0, 0)
		limiter := newRateLimiter(2, time.Second, func() time.Time { return now })

		Expect(limiter.Allow()).To(BeTrue())
		Expect(limiter.Allow()).To(BeTrue())
		Expect(limiter.Allow()).To(BeFalse())

		now = now.Add(time.Second)
		Expect(limiter.Allow()).To(BeTrue())
	})
})

var _ = Describe("StaticHeaders", func() {
	It("sets user agent and origin", func() {
		headers, err := NewStaticHeaders("", "https://app.example.com").Headers(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(headers.Get("User-Agent")).To(Equal(defaultUserAgent))
		Expect(headers.Get("Origin")).To(Equal("https://app.example.com"))
	})
})
