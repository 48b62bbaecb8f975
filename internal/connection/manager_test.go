package connection_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yetasya/derivatives-bot/internal/catalog"
	"github.com/yetasya/derivatives-bot/internal/connection"
	"github.com/yetasya/derivatives-bot/internal/events"
	"github.com/yetasya/derivatives-bot/internal/session"
	"github.com/yetasya/derivatives-bot/internal/storage"
	"github.com/yetasya/derivatives-bot/internal/subscription"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	wsconn "github.com/yetasya/derivatives-bot/pkg/websocket/connection"
	"github.com/yetasya/derivatives-bot/pkg/websocket/connection/connectiontest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Of(t events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) statuses() []string {
	var out []string
	for _, e := range p.Of(events.EventConnectionStatus) {
		out = append(out, e.Data.(events.ConnectionStatusPayload).Status)
	}
	return out
}

type fastRetry struct{}

func (fastRetry) NextDelay(int) time.Duration { return time.Millisecond }
func (fastRetry) MaxAttempts() int            { return 3 }

var accountsByToken = map[string]string{
	"a1-token":   "CR123",
	"a1-session": "CR123",
	"token-vr":   "VRTC9",
}

var subscriptionIDs atomic.Int64

// script answers every call the open sequence makes
func script(t *connectiontest.Transport) {
	t.Handle("get_session_token", connectiontest.Reply(map[string]interface{}{
		"get_session_token": map[string]interface{}{"token": "a1-session"},
	}))
	t.Handle("authorize", func(_ context.Context, req derivapi.Request) (map[string]interface{}, error) {
		loginID, ok := accountsByToken[req["authorize"].(string)]
		if !ok {
			return map[string]interface{}{"error": map[string]interface{}{"code": "InvalidToken"}}, nil
		}
		return map[string]interface{}{
			"authorize": map[string]interface{}{
				"loginid":  loginID,
				"currency": "USD",
				"balance":  100,
				"account_list": []interface{}{
					map[string]interface{}{"loginid": loginID, "currency": "USD"},
				},
			},
		}, nil
	})
	for _, stream := range subscription.DefaultStreams {
		t.Handle(stream, func(_ context.Context, req derivapi.Request) (map[string]interface{}, error) {
			return map[string]interface{}{
				"subscription": map[string]interface{}{
					"id": fmt.Sprintf("%s-%d", req.Kind(), subscriptionIDs.Add(1)),
				},
			}, nil
		})
	}
	t.Handle("forget", connectiontest.Reply(map[string]interface{}{"forget": 1}))
	t.Handle("active_symbols", connectiontest.Reply(map[string]interface{}{
		"active_symbols": []interface{}{
			map[string]interface{}{
				"underlying_symbol": "R_10",
				"market":            "synthetic_index",
				"submarket":         "random_index",
				"pip_size":          0.001,
				"exchange_is_open":  1,
			},
		},
	}))
	t.Handle("trading_times", connectiontest.ReplyError("WrongResponse", "unavailable"))
	t.Handle("time", connectiontest.Reply(map[string]interface{}{"time": 1700000000}))
}

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		pool      *connectiontest.Pool
		store     *storage.MemoryStore
		creds     *storage.Credentials
		publisher *recordingPublisher
		link      *connection.Link
		auth      *session.AuthSession
		registry  *subscription.Registry
		instr     *catalog.Catalog
		tokens    *connection.OneTimeTokenSource
		config    connection.Config
		mgr       *connection.Manager
	)

	build := func() {
		logger := logging.NewNoOpLogger()
		link = connection.NewLink()
		auth = session.NewAuthSession(link, creds, session.StaticLoggedState(false), publisher, logger)
		registry = subscription.NewRegistry(link, fastRetry{}, logger)
		instr = catalog.New(
			catalog.Config{FetchTimeout: 200 * time.Millisecond, EnrichTimeout: 200 * time.Millisecond},
			link,
			catalog.NewScheduleCache(link, time.Minute, logger),
			publisher,
			logger,
		)
		mgr = connection.NewManager(config, pool.Factory(), link, auth, registry, instr, tokens, publisher, logger)
	}

	subscribeCount := func(t *connectiontest.Transport) int {
		n := 0
		for _, stream := range subscription.DefaultStreams {
			n += t.CountOf(stream)
		}
		return n
	}

	BeforeEach(func() {
		ctx = context.Background()
		pool = &connectiontest.Pool{Setup: script}
		store = storage.NewMemoryStore()
		creds = storage.NewCredentials(store)
		publisher = &recordingPublisher{}
		tokens = connection.NewOneTimeTokenSource("")
		config = connection.Config{}
	})

	AfterEach(func() {
		if mgr != nil {
			stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			Expect(mgr.Stop(stopCtx)).To(Succeed())
		}
	})

	Describe("Open", func() {
		It("authorizes a stored credential and subscribes the default streams", func() {
			Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
			build()

			Expect(mgr.Status()).To(Equal(connection.StatusNotInitialized))
			Expect(mgr.Open(ctx)).To(Succeed())

			Eventually(func() int { return len(publisher.Of(events.EventAuthorized)) }).Should(Equal(1))
			Consistently(func() int { return len(publisher.Of(events.EventAuthorized)) }, 100*time.Millisecond).Should(Equal(1))
			payload := publisher.Of(events.EventAuthorized)[0].Data.(events.AuthorizedPayload)
			Expect(payload.CurrentAccount.LoginID).To(Equal("CR123"))

			transport := pool.Last()
			Eventually(func() int { return registry.Len() }).Should(Equal(3))
			Expect(subscribeCount(transport)).To(Equal(3))
			Expect(mgr.Status()).To(Equal(connection.StatusOpened))
			Eventually(instr.HasLiveData).Should(BeTrue())
			Expect(pool.Created()).To(HaveLen(1))
		})

		It("exchanges a one-time token exactly once", func() {
			tokens.Set("ott-1")
			build()

			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(func() int { return len(publisher.Of(events.EventAuthorized)) }).Should(Equal(1))

			first := pool.Last()
			Expect(first.CountOf("get_session_token")).To(Equal(1))
			token, ok, err := creds.ActiveToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(token).To(Equal("a1-session"))

			first.Drop()
			reconnected, err := mgr.ReconnectIfStale(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(reconnected).To(BeTrue())

			Eventually(func() int { return len(publisher.Of(events.EventAuthorized)) }).Should(Equal(2))
			Expect(pool.Last().CountOf("get_session_token")).To(Equal(0))
		})

		It("stops the sequence when the token exchange fails", func() {
			pool.Setup = func(t *connectiontest.Transport) {
				script(t)
				t.Handle("get_session_token", connectiontest.ReplyError("InvalidToken", "expired"))
			}
			tokens.Set("ott-bad")
			Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
			build()

			Expect(mgr.Open(ctx)).To(Succeed())

			Eventually(func() int { return len(publisher.Of(events.EventError)) }).Should(Equal(1))
			Consistently(func() int { return pool.Last().CountOf("authorize") }, 100*time.Millisecond).Should(Equal(0))
		})

		It("refreshes the catalog without a credential", func() {
			build()
			Expect(mgr.Open(ctx)).To(Succeed())

			Eventually(instr.HasLiveData).Should(BeTrue())
			Expect(pool.Last().CountOf("authorize")).To(Equal(0))
			Expect(auth.Snapshot().State).To(Equal(session.StateAnonymous))
		})

		It("returns factory failures", func() {
			build()
			mgr = connection.NewManager(config, func() (wsconn.ConnectionManager, error) {
				return nil, errors.New("no route")
			}, link, auth, registry, instr, tokens, publisher, logging.NewNoOpLogger())

			Expect(mgr.Open(ctx)).To(MatchError(ContainSubstring("no route")))
			Expect(mgr.Status()).To(Equal(connection.StatusNotInitialized))
		})

		It("returns dial failures without retrying", func() {
			pool.Setup = func(t *connectiontest.Transport) {
				t.ConnectErr = errors.New("dial refused")
			}
			build()

			Expect(mgr.Open(ctx)).To(MatchError(ContainSubstring("dial refused")))
			Expect(mgr.Status()).To(Equal(connection.StatusClosed))
			Consistently(func() int { return len(pool.Created()) }, 100*time.Millisecond).Should(Equal(1))
		})
	})

	Describe("transport loss", func() {
		BeforeEach(func() {
			Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
		})

		It("voids the session and subscriptions without reconnecting on its own", func() {
			build()
			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(func() int { return registry.Len() }).Should(Equal(3))

			pool.Last().Drop()

			Expect(mgr.Status()).To(Equal(connection.StatusClosed))
			Expect(registry.Len()).To(Equal(0))
			Expect(auth.IsAuthorized()).To(BeFalse())
			Expect(publisher.statuses()).To(Equal([]string{"opened", "closed"}))
			Consistently(func() int { return len(pool.Created()) }, 100*time.Millisecond).Should(Equal(1))

			token, ok, err := creds.ActiveToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(token).To(Equal("a1-token"))
		})

		It("reconnects on demand and restores the session", func() {
			build()
			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(func() int { return registry.Len() }).Should(Equal(3))

			reconnected, err := mgr.ReconnectIfStale(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(reconnected).To(BeFalse())

			pool.Last().Drop()
			reconnected, err = mgr.ReconnectIfStale(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(reconnected).To(BeTrue())

			Expect(pool.Created()).To(HaveLen(2))
			Eventually(func() int { return registry.Len() }).Should(Equal(3))
			for _, sub := range registry.Active() {
				Expect(sub.TransportID).To(Equal(pool.Last().ID()))
			}
			Expect(subscribeCount(pool.Last())).To(Equal(3))
			Expect(publisher.Of(events.EventAuthorized)).To(HaveLen(2))
		})

		It("reconnects when woken", func() {
			build()
			Expect(mgr.Start(ctx)).To(Succeed())
			Eventually(func() int { return len(publisher.Of(events.EventAuthorized)) }).Should(Equal(1))

			pool.Last().Drop()
			mgr.Wake()

			Eventually(func() int { return len(pool.Created()) }).Should(Equal(2))
			Eventually(mgr.Status).Should(Equal(connection.StatusOpened))
		})

		It("reconnects from the periodic probe", func() {
			config.ProbeInterval = 20 * time.Millisecond
			build()
			Expect(mgr.Start(ctx)).To(Succeed())
			Eventually(mgr.Status).Should(Equal(connection.StatusOpened))

			pool.Last().Drop()
			Eventually(func() int { return len(pool.Created()) }).Should(Equal(2))
		})

		It("retries with backoff when enabled", func() {
			config.Backoff = connection.BackoffConfig{
				Enabled:      true,
				InitialDelay: 5 * time.Millisecond,
				MaxDelay:     20 * time.Millisecond,
				MaxAttempts:  3,
			}
			build()
			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(mgr.Status).Should(Equal(connection.StatusOpened))

			pool.Last().Drop()
			Eventually(func() int { return len(pool.Created()) }).Should(Equal(2))
			Eventually(mgr.Status).Should(Equal(connection.StatusOpened))
		})

		It("ignores callbacks from a replaced transport", func() {
			build()
			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(func() int { return registry.Len() }).Should(Equal(3))
			old := pool.Last()

			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(func() int { return registry.Len() }).Should(Equal(3))

			_ = old.Push("balance", map[string]interface{}{
				"balance": map[string]interface{}{"balance": 1, "currency": "USD", "loginid": "CR123"},
			})
			Expect(publisher.Of(events.EventStreamUpdate)).To(BeEmpty())
			Expect(mgr.Status()).To(Equal(connection.StatusOpened))
		})
	})

	Describe("Close", func() {
		It("forgets subscriptions and closes the transport", func() {
			Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
			build()
			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(func() int { return registry.Len() }).Should(Equal(3))
			transport := pool.Last()

			Expect(mgr.Close()).To(Succeed())

			Expect(transport.CountOf("forget")).To(Equal(3))
			Expect(transport.GetState()).To(Equal(wsconn.StateStopped))
			Expect(registry.Len()).To(Equal(0))
			Expect(mgr.Status()).To(Equal(connection.StatusClosed))
			Expect(mgr.Close()).To(Succeed())
		})
	})

	Describe("push messages", func() {
		It("publishes stream updates and tracks the balance", func() {
			Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
			build()
			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(auth.IsAuthorized).Should(BeTrue())

			Expect(pool.Last().Push("balance", map[string]interface{}{
				"balance":      map[string]interface{}{"balance": 55.5, "currency": "USD", "loginid": "CR123"},
				"subscription": map[string]interface{}{"id": "b-1"},
			})).To(Succeed())

			updates := publisher.Of(events.EventStreamUpdate)
			Expect(updates).To(HaveLen(1))
			Expect(updates[0].Data.(events.StreamUpdatePayload).SubscriptionID).To(Equal("b-1"))
			Expect(auth.Snapshot().Balance.String()).To(Equal("55.5"))
			Expect(publisher.Of(events.EventBalanceUpdated)).To(HaveLen(1))
		})
	})

	Describe("SwitchAccount", func() {
		It("reconnects with the other account's credential", func() {
			Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
			Expect(creds.RecordAccount(ctx, "VRTC9", "token-vr")).To(Succeed())
			build()
			Expect(mgr.Open(ctx)).To(Succeed())
			Eventually(func() string { return auth.Snapshot().LoginID() }).Should(Equal("CR123"))

			Expect(mgr.SwitchAccount(ctx, "VRTC9")).To(Succeed())

			Expect(pool.Created()).To(HaveLen(2))
			Eventually(func() string { return auth.Snapshot().LoginID() }).Should(Equal("VRTC9"))
			Expect(pool.Created()[0].CountOf("forget")).To(Equal(3))
		})

		It("rejects unknown accounts without reconnecting", func() {
			build()
			Expect(mgr.Open(ctx)).To(Succeed())

			Expect(mgr.SwitchAccount(ctx, "MF1")).To(MatchError(session.ErrUnknownAccount))
			Expect(pool.Created()).To(HaveLen(1))
		})
	})

	Describe("server time", func() {
		It("samples the backend clock while authorized", func() {
			config.TimeSyncInterval = 20 * time.Millisecond
			Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
			build()
			Expect(mgr.Open(ctx)).To(Succeed())

			Eventually(func() int { return len(publisher.Of(events.EventServerTime)) }).Should(BeNumerically(">=", 1))
			sample := publisher.Of(events.EventServerTime)[0].Data.(events.ServerTimePayload)
			Expect(sample.Fallback).To(BeFalse())
			Expect(sample.ServerTime.Unix()).To(Equal(int64(1700000000)))
		})
	})

	It("refuses to open after Stop", func() {
		build()
		Expect(mgr.Stop(ctx)).To(Succeed())
		Expect(mgr.Open(ctx)).To(MatchError(connection.ErrStopped))
		Expect(mgr.Start(ctx)).To(MatchError(connection.ErrStopped))
	})

	It("stops cleanly while transports keep dropping and reopening", func() {
		Expect(creds.SetSessionToken(ctx, "a1-token")).To(Succeed())
		config.ProbeInterval = time.Millisecond
		config.TimeSyncInterval = time.Millisecond
		build()
		Expect(mgr.Start(ctx)).To(Succeed())

		churnDone := make(chan struct{})
		stopChurn := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(churnDone)
			for {
				select {
				case <-stopChurn:
					return
				default:
				}
				if t := pool.Last(); t != nil {
					t.Drop()
				}
				mgr.Wake()
				time.Sleep(time.Millisecond)
			}
		}()

		Eventually(func() int { return len(pool.Created()) }).Should(BeNumerically(">=", 3))

		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		Expect(mgr.Stop(stopCtx)).To(Succeed())
		close(stopChurn)
		Eventually(churnDone).Should(BeClosed())

		created := len(pool.Created())
		Consistently(func() int { return len(pool.Created()) }, 50*time.Millisecond).Should(Equal(created))
		Expect(mgr.Status()).NotTo(Equal(connection.StatusOpened))
		for _, t := range pool.Created() {
			Expect(t.GetState().IsClosed()).To(BeTrue())
		}
	})
})
