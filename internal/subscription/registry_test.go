package subscription_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yetasya/derivatives-bot/internal/subscription"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	"github.com/yetasya/derivatives-bot/pkg/websocket/connection/connectiontest"
)

// sender puts a fake transport behind the Sender interface; id can be
// swapped to simulate a replaced transport
type sender struct {
	*connectiontest.Transport
	id atomic.Value
}

func newSender(t *connectiontest.Transport) *sender {
	s := &sender{Transport: t}
	s.id.Store(t.ID())
	return s
}

func (s *sender) TransportID() string { return s.id.Load().(string) }

type fastRetry struct{ attempts int }

func (f fastRetry) NextDelay(int) time.Duration { return time.Millisecond }
func (f fastRetry) MaxAttempts() int            { return f.attempts }

var ackCounter atomic.Int64

// ack answers a subscribe with a fresh subscription id
func ack(_ context.Context, req derivapi.Request) (map[string]interface{}, error) {
	n := ackCounter.Add(1)
	return map[string]interface{}{
		"subscription": map[string]interface{}{"id": fmt.Sprintf("%s-%d", req.Kind(), n)},
	}, nil
}

var _ = Describe("Registry", func() {
	var (
		ctx       context.Context
		transport *connectiontest.Transport
		snd       *sender
		registry  *subscription.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		transport = connectiontest.New()
		Expect(transport.Connect(ctx)).To(Succeed())
		for _, stream := range []string{"balance", "transaction", "proposal_open_contract"} {
			transport.Handle(stream, ack)
		}
		transport.Handle("forget", connectiontest.Reply(map[string]interface{}{"forget": 1}))
		snd = newSender(transport)
		registry = subscription.NewRegistry(snd, fastRetry{attempts: 3}, logging.NewNoOpLogger())
	})

	Describe("SubscribeAll", func() {
		It("is idempotent per stream", func() {
			streams := []string{"balance", "transaction"}
			Expect(registry.SubscribeAll(ctx, streams)).To(Succeed())
			Expect(registry.SubscribeAll(ctx, streams)).To(Succeed())

			Expect(registry.Len()).To(Equal(2))
			Expect(transport.CountOf("balance")).To(Equal(1))
			Expect(transport.CountOf("transaction")).To(Equal(1))
		})

		It("records subscription ids against the transport", func() {
			Expect(registry.SubscribeAll(ctx, subscription.DefaultStreams)).To(Succeed())

			active := registry.Active()
			Expect(active).To(HaveLen(3))
			Expect(active[0].Stream).To(Equal("balance"))
			for _, sub := range active {
				Expect(sub.ID).NotTo(BeEmpty())
				Expect(sub.TransportID).To(Equal(transport.ID()))
				Expect(sub.SubscribedAt).NotTo(BeZero())
			}

			stream, ok := registry.StreamOf(active[1].ID)
			Expect(ok).To(BeTrue())
			Expect(stream).To(Equal(active[1].Stream))
		})

		It("never issues the same stream twice from concurrent callers", func() {
			release := make(chan struct{})
			transport.Handle("balance", func(ctx context.Context, req derivapi.Request) (map[string]interface{}, error) {
				<-release
				return ack(ctx, req)
			})

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(registry.SubscribeAll(ctx, []string{"balance"})).To(Succeed())
				}()
			}
			Eventually(func() int { return transport.CountOf("balance") }).Should(Equal(1))
			close(release)
			wg.Wait()

			Expect(transport.CountOf("balance")).To(Equal(1))
			Expect(registry.Has("balance")).To(BeTrue())
		})

		It("retries transient rejections", func() {
			var calls atomic.Int32
			transport.Handle("balance", func(ctx context.Context, req derivapi.Request) (map[string]interface{}, error) {
				if calls.Add(1) < 3 {
					return map[string]interface{}{"error": map[string]interface{}{"code": "RateLimit"}}, nil
				}
				return ack(ctx, req)
			})

			Expect(registry.SubscribeAll(ctx, []string{"balance"})).To(Succeed())
			Expect(transport.CountOf("balance")).To(Equal(3))
			Expect(registry.Has("balance")).To(BeTrue())
		})

		It("gives up after the retry budget and frees the stream", func() {
			transport.Handle("balance", connectiontest.ReplyError("RateLimit", "slow down"))

			err := registry.SubscribeAll(ctx, []string{"balance", "transaction"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("subscribe balance"))
			Expect(transport.CountOf("balance")).To(Equal(3))
			Expect(registry.Has("balance")).To(BeFalse())
			Expect(registry.Has("transaction")).To(BeTrue())

			transport.Handle("balance", ack)
			Expect(registry.SubscribeAll(ctx, []string{"balance"})).To(Succeed())
			Expect(registry.Len()).To(Equal(2))
		})

		It("does not retry permanent rejections", func() {
			transport.Handle("balance", connectiontest.ReplyError("AuthorizationRequired", "log in first"))

			Expect(registry.SubscribeAll(ctx, []string{"balance"})).NotTo(Succeed())
			Expect(transport.CountOf("balance")).To(Equal(1))
		})

		It("stops when the context ends", func() {
			transport.Handle("balance", connectiontest.Hang())
			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			Expect(registry.SubscribeAll(short, []string{"balance"})).To(MatchError(ContainSubstring("deadline")))
			Expect(registry.Has("balance")).To(BeFalse())
		})
	})

	Describe("UnsubscribeAll", func() {
		It("forgets every subscription and clears the table", func() {
			Expect(registry.SubscribeAll(ctx, subscription.DefaultStreams)).To(Succeed())

			registry.UnsubscribeAll(ctx)

			Expect(registry.Len()).To(Equal(0))
			Expect(transport.CountOf("forget")).To(Equal(3))
		})

		It("is safe on an empty table", func() {
			registry.UnsubscribeAll(ctx)
			registry.UnsubscribeAll(ctx)
			Expect(transport.CountOf("forget")).To(Equal(0))
		})

		It("tolerates forget failures", func() {
			transport.Handle("forget", connectiontest.ReplyError("InvalidSubscription", "gone"))
			Expect(registry.SubscribeAll(ctx, []string{"balance"})).To(Succeed())

			registry.UnsubscribeAll(ctx)
			Expect(registry.Len()).To(Equal(0))
		})

		It("skips subscriptions that belong to an older transport", func() {
			Expect(registry.SubscribeAll(ctx, []string{"balance"})).To(Succeed())
			snd.id.Store("replacement")

			registry.UnsubscribeAll(ctx)
			Expect(transport.CountOf("forget")).To(Equal(0))
			Expect(registry.Len()).To(Equal(0))
		})
	})

	Describe("Discard", func() {
		It("clears without traffic", func() {
			Expect(registry.SubscribeAll(ctx, subscription.DefaultStreams)).To(Succeed())
			sent := len(transport.Requests())

			registry.Discard()

			Expect(registry.Len()).To(Equal(0))
			Expect(transport.Requests()).To(HaveLen(sent))
		})

		It("voids subscribes that were in flight", func() {
			release := make(chan struct{})
			transport.Handle("balance", func(ctx context.Context, req derivapi.Request) (map[string]interface{}, error) {
				<-release
				return ack(ctx, req)
			})

			done := make(chan error, 1)
			go func() { done <- registry.SubscribeAll(ctx, []string{"balance"}) }()
			Eventually(func() int { return transport.CountOf("balance") }).Should(Equal(1))

			registry.Discard()
			snd.id.Store("replacement")
			close(release)

			Eventually(done).Should(Receive(BeNil()))
			Expect(registry.Has("balance")).To(BeFalse())
			Expect(transport.CountOf("forget")).To(Equal(0))
		})
	})

	Describe("Forget", func() {
		It("closes a single stream", func() {
			Expect(registry.SubscribeAll(ctx, []string{"balance", "transaction"})).To(Succeed())

			Expect(registry.Forget(ctx, "balance")).To(Succeed())
			Expect(registry.Has("balance")).To(BeFalse())
			Expect(registry.Has("transaction")).To(BeTrue())
			Expect(transport.CountOf("forget")).To(Equal(1))
		})

		It("rejects unknown streams", func() {
			Expect(registry.Forget(ctx, "ticks")).To(MatchError(subscription.ErrNotSubscribed))
		})
	})
})
