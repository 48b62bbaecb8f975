package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/session"
)

// SessionReader is the read side of the auth session
type SessionReader interface {
	Snapshot() session.Session
	Logout(ctx context.Context) error
}

// Reconnector replaces the transport so the open sequence runs again
type Reconnector interface {
	Open(ctx context.Context) error
	SwitchAccount(ctx context.Context, loginID string) error
}

// TokenSink accepts a one-time token for the next open
type TokenSink interface {
	Set(token string)
}

type SessionHandler struct {
	session SessionReader
	conn    Reconnector
	tokens  TokenSink
	logger  *zap.Logger
}

func NewSessionHandler(s SessionReader, conn Reconnector, tokens TokenSink, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		session: s,
		conn:    conn,
		tokens:  tokens,
		logger:  logger,
	}
}

// GetSession returns the current session snapshot
// GET /api/v1/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// HandOffToken stores a one-time token and reconnects to exchange it
// POST /api/v1/session/token
func (h *SessionHandler) HandOffToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	h.tokens.Set(req.Token)
	if err := h.conn.Open(c.Request.Context()); err != nil {
		h.logger.Error("Failed to reconnect for token exchange", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "exchanging"})
}

type accountRequest struct {
	LoginID string `json:"loginid" binding:"required"`
}

// SwitchAccount reconnects with another stored account
// POST /api/v1/session/account
func (h *SessionHandler) SwitchAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loginid is required"})
		return
	}

	err := h.conn.SwitchAccount(c.Request.Context(), req.LoginID)
	switch {
	case errors.Is(err, session.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("Failed to switch account", zap.String("loginid", req.LoginID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "switching", "loginid": req.LoginID})
	}
}

// Logout clears stored credentials and reconnects anonymously
// POST /api/v1/session/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.session.Logout(ctx); err != nil {
		h.logger.Error("Logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.conn.Open(ctx); err != nil {
		h.logger.Warn("Reconnect after logout failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
