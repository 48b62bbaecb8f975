package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yetasya/derivatives-bot/internal/cache"
)

type schedule struct {
	Markets []string
}

var _ = Describe("TimedCache", func() {
	var (
		ctx       context.Context
		now       time.Time
		clockMu   sync.Mutex
		fetches   atomic.Int32
		nextValue func() (*schedule, error)
		fallback  *schedule
		c         *cache.TimedCache[*schedule]
	)

	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(d)
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		fetches.Store(0)
		fallback = &schedule{Markets: []string{"fallback"}}
		nextValue = func() (*schedule, error) {
			return &schedule{Markets: []string{"Derived"}}, nil
		}

		c = cache.New(
			cache.ScheduleTTL,
			func(context.Context) (*schedule, error) {
				fetches.Add(1)
				return nextValue()
			},
			func(s *schedule) bool { return s != nil && len(s.Markets) > 0 },
			func() *schedule { return fallback },
			cache.WithClock[*schedule](clock),
		)
	})

	It("returns the identical value within the TTL", func() {
		first := c.Get(ctx)
		advance(cache.ScheduleTTL - time.Nanosecond)
		second := c.Get(ctx)

		Expect(second).To(BeIdenticalTo(first))
		Expect(fetches.Load()).To(Equal(int32(1)))
		Expect(c.IsValid()).To(BeTrue())
	})

	It("fetches again once the TTL has passed", func() {
		first := c.Get(ctx)
		advance(cache.ScheduleTTL + time.Nanosecond)
		Expect(c.IsValid()).To(BeFalse())

		second := c.Get(ctx)
		Expect(fetches.Load()).To(Equal(int32(2)))
		Expect(second).ToNot(BeIdenticalTo(first))
	})

	It("serves the fallback on fetch errors without caching it", func() {
		nextValue = func() (*schedule, error) { return nil, errors.New("timeout") }

		Expect(c.Get(ctx)).To(BeIdenticalTo(fallback))
		Expect(c.IsValid()).To(BeFalse())
		Expect(c.Get(ctx)).To(BeIdenticalTo(fallback))
		Expect(fetches.Load()).To(Equal(int32(2)))
	})

	It("treats a structurally invalid payload as a miss", func() {
		nextValue = func() (*schedule, error) { return &schedule{}, nil }

		Expect(c.Get(ctx)).To(BeIdenticalTo(fallback))
		Expect(c.IsValid()).To(BeFalse())

		nextValue = func() (*schedule, error) { return &schedule{Markets: []string{"Forex"}}, nil }
		Expect(c.Get(ctx).Markets).To(Equal([]string{"Forex"}))
		Expect(fetches.Load()).To(Equal(int32(2)))
	})

	It("refetches after Invalidate", func() {
		c.Get(ctx)
		c.Invalidate()
		Expect(c.IsValid()).To(BeFalse())
		c.Get(ctx)
		Expect(fetches.Load()).To(Equal(int32(2)))
	})

	It("coalesces concurrent misses onto one fetch", func() {
		release := make(chan struct{})
		nextValue = func() (*schedule, error) {
			<-release
			return &schedule{Markets: []string{"Derived"}}, nil
		}

		var wg sync.WaitGroup
		results := make([]*schedule, 5)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = c.Get(ctx)
			}(i)
		}

		Eventually(fetches.Load).Should(Equal(int32(1)))
		close(release)
		wg.Wait()

		Expect(fetches.Load()).To(Equal(int32(1)))
		for _, r := range results {
			Expect(r).To(BeIdenticalTo(results[0]))
		}
	})

	Context("when the fetch honours its context", func() {
		var release chan struct{}

		build := func(opts ...cache.Option[*schedule]) {
			release = make(chan struct{})
			c = cache.New(
				cache.ScheduleTTL,
				func(fetchCtx context.Context) (*schedule, error) {
					fetches.Add(1)
					select {
					case <-release:
						return &schedule{Markets: []string{"Derived"}}, nil
					case <-fetchCtx.Done():
						return nil, fetchCtx.Err()
					}
				},
				func(s *schedule) bool { return s != nil && len(s.Markets) > 0 },
				func() *schedule { return fallback },
				append([]cache.Option[*schedule]{cache.WithClock[*schedule](clock)}, opts...)...,
			)
		}

		It("keeps the shared fetch alive when the first caller is cancelled", func() {
			build()
			firstCtx, cancelFirst := context.WithCancel(ctx)
			defer cancelFirst()

			first := make(chan *schedule, 1)
			go func() { first <- c.Get(firstCtx) }()
			Eventually(fetches.Load).Should(Equal(int32(1)))

			second := make(chan *schedule, 1)
			go func() { second <- c.Get(ctx) }()
			Consistently(second, 20*time.Millisecond).ShouldNot(Receive())

			cancelFirst()
			Eventually(first).Should(Receive(BeIdenticalTo(fallback)))

			close(release)
			var got *schedule
			Eventually(second).Should(Receive(&got))
			Expect(got.Markets).To(Equal([]string{"Derived"}))
			Expect(fetches.Load()).To(Equal(int32(1)))
			Expect(c.IsValid()).To(BeTrue())
		})

		It("bounds the shared fetch with its own timeout", func() {
			build(cache.WithFetchTimeout[*schedule](20 * time.Millisecond))

			Expect(c.Get(ctx)).To(BeIdenticalTo(fallback))
			Expect(c.IsValid()).To(BeFalse())
		})
	})
})
