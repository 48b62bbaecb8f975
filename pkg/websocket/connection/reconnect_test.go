package connection_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yetasya/derivatives-bot/pkg/logging"
	"github.com/yetasya/derivatives-bot/pkg/websocket/connection"
)

var _ = Describe("Backoff", func() {
	It("grows exponentially within jitter and caps at the max delay", func() {
		strategy := connection.NewExponentialBackoffStrategy(100*time.Millisecond, time.Second, 5)

		Expect(strategy.NextDelay(1)).To(BeNumerically("~", 100*time.Millisecond, 10*time.Millisecond))
		Expect(strategy.NextDelay(3)).To(BeNumerically("~", 400*time.Millisecond, 40*time.Millisecond))
		Expect(strategy.NextDelay(10)).To(BeNumerically("<=", 1100*time.Millisecond))
		Expect(strategy.MaxAttempts()).To(Equal(5))
	})
})

var _ = Describe("ReconnectManager", func() {
	It("retries until connect succeeds", func() {
		var calls atomic.Int32
		connect := func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("still down")
			}
			return nil
		}

		succeeded := make(chan int, 1)
		rm := connection.NewReconnectManager(connect, connection.NewExponentialBackoffStrategy(time.Millisecond, 5*time.Millisecond, 5), logging.NewNoOpLogger())
		rm.SetCallbacks(nil, nil, func(attempt int) { succeeded <- attempt })

		Expect(rm.StartReconnection(context.Background())).To(Succeed())
		Eventually(succeeded).Should(Receive(Equal(3)))
		Eventually(rm.IsReconnecting).Should(BeFalse())
	})

	It("stops after max attempts", func() {
		failed := make(chan error, 10)
		rm := connection.NewReconnectManager(func(context.Context) error {
			return errors.New("down")
		}, connection.NewExponentialBackoffStrategy(time.Millisecond, time.Millisecond, 2), logging.NewNoOpLogger())
		rm.SetCallbacks(nil, func(_ int, err error) { failed <- err }, nil)

		Expect(rm.StartReconnection(context.Background())).To(Succeed())
		Eventually(failed).Should(Receive(MatchError(connection.ErrMaxAttemptsReached)))
	})

	It("can be stopped", func() {
		rm := connection.NewReconnectManager(func(context.Context) error {
			return errors.New("down")
		}, connection.NewExponentialBackoffStrategy(time.Hour, time.Hour, 3), logging.NewNoOpLogger())

		Expect(rm.StartReconnection(context.Background())).To(Succeed())
		Expect(rm.IsReconnecting()).To(BeTrue())
		rm.StopReconnection()
		Eventually(rm.IsReconnecting).Should(BeFalse())
	})
})
