package connection_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	mockconn "github.com/yetasya/derivatives-bot/mocks/github.com/yetasya/derivatives-bot/pkg/websocket/connection"
	mockperf "github.com/yetasya/derivatives-bot/mocks/github.com/yetasya/derivatives-bot/pkg/websocket/performance"
	"github.com/yetasya/derivatives-bot/pkg/derivapi"
	"github.com/yetasya/derivatives-bot/pkg/logging"
	"github.com/yetasya/derivatives-bot/pkg/websocket/connection"
	"github.com/yetasya/derivatives-bot/pkg/websocket/performance"
	"github.com/yetasya/derivatives-bot/pkg/websocket/security"
)

var _ = Describe("ConnectionManager", func() {
	var (
		mgr         connection.ConnectionManager
		mockMetrics *mockperf.Metrics
		mockDialer  *mockconn.WebSocketDialer
		mockConn    *mockconn.WebSocketConn
		inbound     chan []byte
		written     chan []byte
		dropSocket  func()
		ctx         context.Context
		cancel      context.CancelFunc
		config      connection.Config
	)

	BeforeEach(func() {
		mockMetrics = mockperf.NewMetrics(GinkgoT())
		mockDialer = mockconn.NewWebSocketDialer(GinkgoT())
		mockConn = mockconn.NewWebSocketConn(GinkgoT())
		inbound = make(chan []byte, 16)
		written = make(chan []byte, 16)
		in, out := inbound, written
		var dropOnce sync.Once
		dropSocket = func() { dropOnce.Do(func() { close(in) }) }
		ctx, cancel = context.WithCancel(context.Background())

		mockMetrics.On("GetStats").Return(map[string]interface{}{}).Maybe()
		mockMetrics.On("IncrementConnectionError").Return().Maybe()
		mockMetrics.On("IncrementSent").Return().Maybe()
		mockMetrics.On("IncrementReceived").Return().Maybe()
		mockMetrics.On("IncrementDropped").Return().Maybe()
		mockMetrics.On("IncrementTimedOut").Return().Maybe()
		mockMetrics.On("RecordRoundTrip", mock.Anything).Return().Maybe()

		mockDialer.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
			Return(mockConn, (*http.Response)(nil), nil).Maybe()

		mockConn.On("SetReadDeadline", mock.Anything).Return(nil).Maybe()
		mockConn.On("SetWriteDeadline", mock.Anything).Return(nil).Maybe()
		mockConn.On("Close").Return(nil).Maybe()
		mockConn.On("ReadMessage").Return(func() (int, []byte, error) {
			msg, ok := <-in
			if !ok {
				return 0, nil, errors.New("connection reset by peer")
			}
			return websocket.TextMessage, msg, nil
		}).Maybe()
		mockConn.On("WriteMessage", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				data, _ := args.Get(1).([]byte)
				out <- data
			}).
			Return(nil).Maybe()

		config = connection.TestConfig("wss://test.example.com/websockets/v3")

		mgr = connection.NewConnectionManager(config, security.NewStaticHeaders("", ""), mockMetrics, logging.NewNoOpLogger(), mockDialer)
	})

	AfterEach(func() {
		cancel()
		if mgr != nil {
			_ = mgr.Disconnect()
		}
		// the mocked Close does not end the reader goroutine
		dropSocket()
	})

	// reply answers the next written request with payload, echoing its req_id
	reply := func(payload map[string]interface{}) {
		var data []byte
		Eventually(written).Should(Receive(&data))
		var req map[string]interface{}
		Expect(json.Unmarshal(data, &req)).To(Succeed())
		payload["req_id"] = req["req_id"]
		out, err := json.Marshal(payload)
		Expect(err).ToNot(HaveOccurred())
		inbound <- out
	}

	Describe("Send", func() {
		It("fails when not connected", func() {
			_, err := mgr.Send(ctx, derivapi.Time())
			Expect(err).To(MatchError(connection.ErrNotConnected))
		})

		It("fails after Disconnect", func() {
			Expect(mgr.Disconnect()).To(Succeed())
			Expect(mgr.GetState()).To(Equal(connection.StateStopped))

			_, err := mgr.Send(ctx, derivapi.Time())
			Expect(err).To(MatchError(connection.ErrNotConnected))
		})

		Context("when connected", func() {
			BeforeEach(func() {
				Expect(mgr.Connect(ctx)).To(Succeed())
			})

			It("correlates the response by req_id", func() {
				go reply(map[string]interface{}{"msg_type": "time", "time": 1700000000})

				env, err := mgr.Send(ctx, derivapi.Time())
				Expect(err).ToNot(HaveOccurred())
				Expect(env.MsgType).To(Equal("time"))

				var resp derivapi.TimeResponse
				Expect(env.Decode(&resp)).To(Succeed())
				Expect(resp.Time).To(Equal(int64(1700000000)))
			})

			It("stamps increasing req_ids", func() {
				go reply(map[string]interface{}{"msg_type": "time", "time": 1})
				_, err := mgr.Send(ctx, derivapi.Time())
				Expect(err).ToNot(HaveOccurred())

				go reply(map[string]interface{}{"msg_type": "time", "time": 2})
				env, err := mgr.Send(ctx, derivapi.Time())
				Expect(err).ToNot(HaveOccurred())
				Expect(env.ReqID).To(Equal(int64(2)))
			})

			It("gives up when the context deadline passes", func() {
				shortCtx, shortCancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer shortCancel()

				_, err := mgr.Send(shortCtx, derivapi.ActiveSymbols("brief"))
				Expect(err).To(MatchError(context.DeadlineExceeded))
			})

			It("hands push messages to the message callback", func() {
				var pushed atomic.Value
				mgr.SetCallbacks(nil, nil, func(env *derivapi.Envelope) error {
					pushed.Store(env.MsgType)
					return nil
				}, nil)

				inbound <- []byte(`{"msg_type":"balance","balance":{"balance":10,"currency":"USD"},"subscription":{"id":"abc"}}`)
				Eventually(func() interface{} { return pushed.Load() }).Should(Equal("balance"))
			})

			It("unblocks waiting requests when the socket drops", func() {
				var disconnected atomic.Bool
				mgr.SetCallbacks(nil, func() error {
					disconnected.Store(true)
					return nil
				}, nil, nil)

				errCh := make(chan error, 1)
				go func() {
					_, err := mgr.Send(ctx, derivapi.Authorize("token"))
					errCh <- err
				}()
				Eventually(written).Should(Receive())

				dropSocket()

				Eventually(errCh).Should(Receive(MatchError(connection.ErrConnectionClosed)))
				Eventually(disconnected.Load).Should(BeTrue())
				Expect(mgr.GetState()).To(Equal(connection.StateDisconnected))
				Expect(mgr.GetState().IsClosed()).To(BeTrue())
			})
		})
	})

	Describe("Connect", func() {
		It("runs the connect callback and reports connected", func() {
			called := false
			mgr.SetCallbacks(func() error { called = true; return nil }, nil, nil, nil)

			Expect(mgr.Connect(ctx)).To(Succeed())
			Expect(called).To(BeTrue())
			Expect(mgr.GetState()).To(Equal(connection.StateConnected))
			Expect(mgr.IsHealthy()).To(BeTrue())
			Expect(mgr.GetConnectionStats()).To(HaveKeyWithValue("connected", true))
		})

		It("rejects a second connect", func() {
			Expect(mgr.Connect(ctx)).To(Succeed())
			Expect(mgr.Connect(ctx)).To(MatchError(connection.ErrAlreadyConnected))
		})

		It("refuses plain ws when SSL is required", func() {
			config.URL = "ws://insecure.example.com"
			config.RequireSSL = true
			insecure := connection.NewConnectionManager(config, nil, mockMetrics, logging.NewNoOpLogger(), mockDialer)

			err := insecure.Connect(ctx)
			Expect(err).To(MatchError(ContainSubstring("insecure WebSocket scheme")))
			Expect(insecure.GetState()).To(Equal(connection.StateFailed))
		})

		It("reports dial failures", func() {
			failing := mockconn.NewWebSocketDialer(GinkgoT())
			failing.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, (*http.Response)(nil), errors.New("no route to host"))

			m := connection.NewConnectionManager(config, nil, mockMetrics, logging.NewNoOpLogger(), failing)
			Expect(m.Connect(ctx)).To(MatchError(ContainSubstring("no route to host")))
			Expect(m.GetState().IsClosed()).To(BeTrue())
		})
	})

	It("gives every transport its own id", func() {
		factory := connection.NewFactory(config, nil, mockMetrics, logging.NewNoOpLogger(), mockDialer)
		a, err := factory()
		Expect(err).ToNot(HaveOccurred())
		b, err := factory()
		Expect(err).ToNot(HaveOccurred())
		Expect(a.ID()).ToNot(Equal(b.ID()))
	})
})

var _ = Describe("ConnectionManager over a real socket", func() {
	var (
		server *httptest.Server
		pings  atomic.Int32
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		pings.Store(0)
		upgrader := websocket.Upgrader{}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.SetPingHandler(func(appData string) error {
				pings.Add(1)
				return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
			})
			// the server never sends data frames
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}))
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		server.Close()
	})

	It("keeps an idle socket open while the server answers pings", func() {
		config := connection.TestConfig("ws" + strings.TrimPrefix(server.URL, "http"))
		config.ReadTimeout = 600 * time.Millisecond
		config.EnableHealthMonitoring = true
		config.EnableHealthPings = true
		config.HealthCheckInterval = 100 * time.Millisecond
		config.HealthCheckTimeout = 300 * time.Millisecond
		Expect(config.Validate()).To(Succeed())

		var drops atomic.Int32
		mgr := connection.NewConnectionManager(config, nil, performance.NewMetrics(), logging.NewNoOpLogger(), connection.NewGorillaDialer(config))
		mgr.SetCallbacks(nil, func() error {
			drops.Add(1)
			return nil
		}, nil, nil)
		Expect(mgr.Connect(ctx)).To(Succeed())
		defer func() { _ = mgr.Disconnect() }()

		Consistently(mgr.GetState, 1500*time.Millisecond, 50*time.Millisecond).Should(Equal(connection.StateConnected))
		Expect(drops.Load()).To(BeZero())
		Expect(pings.Load()).To(BeNumerically(">=", 3))
		Expect(mgr.IsHealthy()).To(BeTrue())
	})

	It("rejects a ping interval that cannot beat the read deadline", func() {
		config := connection.TestConfig("wss://test.example.com")
		config.EnableHealthMonitoring = true
		config.EnableHealthPings = true
		config.ReadTimeout = time.Second
		config.HealthCheckInterval = time.Second

		Expect(config.Validate()).To(MatchError(ContainSubstring("shorter than read timeout")))
	})
})

var _ = Describe("EndpointURL", func() {
	It("adds the default path and query parameters", func() {
		u, err := connection.EndpointURL("ws.derivws.com", "1089", "en", "deriv")
		Expect(err).ToNot(HaveOccurred())
		Expect(u).To(Equal("wss://ws.derivws.com/websockets/v3?app_id=1089&brand=deriv&l=EN"))
	})

	It("requires an endpoint", func() {
		_, err := connection.EndpointURL("", "1", "", "")
		Expect(err).To(HaveOccurred())
	})
})
