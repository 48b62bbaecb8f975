package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/subscription"
)

// ConnectionStatus reports on and nudges the connection manager
type ConnectionStatus interface {
	Stats() map[string]interface{}
	Wake()
}

// SubscriptionLister lists live subscriptions
type SubscriptionLister interface {
	Active() []subscription.Subscription
}

type ConnectionHandler struct {
	conn          ConnectionStatus
	subscriptions SubscriptionLister
	logger        *zap.Logger
}

func NewConnectionHandler(conn ConnectionStatus, subscriptions SubscriptionLister, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		conn:          conn,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// GetConnection returns the connection status and transport stats
// GET /api/v1/connection
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, h.conn.Stats())
}

// Reconnect asks the manager to check the transport, as a resume signal
// would
// POST /api/v1/connection/reconnect
func (h *ConnectionHandler) Reconnect(c *gin.Context) {
	h.conn.Wake()
	h.logger.Debug("Wake signal from status API")
	c.JSON(http.StatusAccepted, gin.H{"status": "checking"})
}

// ListSubscriptions returns the live stream subscriptions
// GET /api/v1/subscriptions
func (h *ConnectionHandler) ListSubscriptions(c *gin.Context) {
	subs := h.subscriptions.Active()
	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}
