package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rentme/chatrelay/internal/auth"
	"github.com/rentme/chatrelay/internal/config"
	"github.com/rentme/chatrelay/internal/core"
	"github.com/rentme/chatrelay/internal/store"
)

// NewServer builds the HTTP server: REST API, websocket endpoint,
// health and metrics.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, logger)))

	apiHandlers := NewAPIHandlers(authService, logger)
	chatHandlers := NewChatHandlers(hub, st, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/me", chatHandlers.Me)
	protected.GET("/users/:id", chatHandlers.GetCounterpart)
	protected.GET("/conversations", chatHandlers.ListConversations)
	protected.POST("/conversations/:id/read", chatHandlers.MarkRead)
	protected.GET("/messages", chatHandlers.ListMessages)
	protected.POST("/messages", chatHandlers.CreateMessage)
	protected.PATCH("/messages/:id", chatHandlers.UpdateMessage)
	protected.DELETE("/messages/:id", chatHandlers.DeleteMessage)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
