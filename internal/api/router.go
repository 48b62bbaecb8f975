package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/api/handlers"
	"github.com/yetasya/derivatives-bot/internal/api/websocket"
)

// SetupRouter sets up the API router
func SetupRouter(
	sessionHandler *handlers.SessionHandler,
	connectionHandler *handlers.ConnectionHandler,
	instrumentsHandler *handlers.InstrumentsHandler,
	wsHandler *websocket.Handler,
	logger *zap.Logger,
	corsAllowOrigin string,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	config := cors.Config{
		AllowOrigins:     []string{corsAllowOrigin},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: corsAllowOrigin != "*",
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(config))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "derivbot",
		})
	})

	router.GET("/ws", wsHandler.HandleConnection)

	v1 := router.Group("/api/v1")
	{
		sess := v1.Group("/session")
		{
			sess.GET("", sessionHandler.GetSession)
			sess.POST("/token", sessionHandler.HandOffToken)
			sess.POST("/account", sessionHandler.SwitchAccount)
			sess.POST("/logout", sessionHandler.Logout)
		}

		conn := v1.Group("/connection")
		{
			conn.GET("", connectionHandler.GetConnection)
			conn.POST("/reconnect", connectionHandler.Reconnect)
		}

		v1.GET("/subscriptions", connectionHandler.ListSubscriptions)

		instruments := v1.Group("/instruments")
		{
			instruments.GET("", instrumentsHandler.ListInstruments)
			instruments.GET("/:code", instrumentsHandler.GetInstrument)
		}
	}

	return router
}

// LoggerMiddleware creates a Gin middleware for logging
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				logger.Error("Request error", zap.String("error", e))
			}
		} else {
			logger.Debug("Request",
				zap.Int("status", c.Writer.Status()),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("query", query),
				zap.String("ip", c.ClientIP()),
				zap.Duration("latency", latency),
			)
		}
	}
}
