package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the router for the REST routes only
		return true
	},
}

// EventSource is the subscribe side of the event bus
type EventSource interface {
	SubscribeAll(bufferSize int) <-chan events.Event
	Unsubscribe(ch <-chan events.Event)
}

// Handler streams core events to websocket clients
type Handler struct {
	bus     EventSource
	logger  *zap.Logger
	clients map[*Client]bool
	mu      sync.RWMutex

	feed     <-chan events.Event
	feedDone chan struct{}
}

// Client is one connected event consumer. An empty filter receives every
// event type.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	filter  map[events.EventType]bool
	handler *Handler
	logger  *zap.Logger
}

func NewHandler(bus EventSource, logger *zap.Logger) *Handler {
	return &Handler{
		bus:     bus,
		logger:  logger,
		clients: make(map[*Client]bool),
	}
}

// HandleConnection upgrades the request and starts streaming events
// GET /ws?types=Authorized,BalanceUpdated
func (h *Handler) HandleConnection(c *gin.Context) {
	filter, err := parseFilter(c.Query("types"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		filter:  filter,
		handler: h,
		logger:  h.logger,
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Info("Event stream client connected",
		zap.String("remote_addr", conn.RemoteAddr().String()))

	go client.writePump()
	go client.readPump()
}

type filterError string

func (e filterError) Error() string {
	return "unknown event type: " + string(e)
}

func parseFilter(raw string) (map[events.EventType]bool, error) {
	if raw == "" {
		return nil, nil
	}
	known := make(map[events.EventType]bool, len(events.AllEventTypes))
	for _, t := range events.AllEventTypes {
		known[t] = true
	}

	filter := make(map[events.EventType]bool)
	for _, name := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(name))
		if !known[t] {
			return nil, filterError(t)
		}
		filter[t] = true
	}
	return filter, nil
}

func (c *Client) wants(t events.EventType) bool {
	return len(c.filter) == 0 || c.filter[t]
}

// BroadcastEvent sends an event to every interested client
func (h *Handler) BroadcastEvent(event events.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(event.Type) {
			continue
		}
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send buffer full, closing connection")
			go h.unregisterClient(client)
		}
	}
}

// StartEventListener subscribes to the bus and fans events out
func (h *Handler) StartEventListener() {
	h.mu.Lock()
	if h.feed != nil {
		h.mu.Unlock()
		return
	}
	h.feed = h.bus.SubscribeAll(100)
	h.feedDone = make(chan struct{})
	feed, done := h.feed, h.feedDone
	h.mu.Unlock()

	go func() {
		defer close(done)
		for event := range feed {
			h.BroadcastEvent(event)
		}
	}()
}

// StopEventListener unsubscribes from the bus and disconnects every client
func (h *Handler) StopEventListener() {
	h.mu.Lock()
	feed, done := h.feed, h.feedDone
	h.feed = nil
	h.mu.Unlock()

	if feed != nil {
		h.bus.Unsubscribe(feed)
		<-done
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()
	for _, client := range clients {
		h.unregisterClient(client)
	}
}

func (h *Handler) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info("Event stream client disconnected")
	}
}

// GetClientCount returns the number of connected clients
func (h *Handler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames
	maxMessageSize = 512
)

// readPump drains the connection so pongs and close frames are processed
func (c *Client) readPump() {
	defer func() {
		c.handler.unregisterClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Event stream read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump writes one event per text frame and keeps the peer alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
