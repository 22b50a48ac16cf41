package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/auth"
	"github.com/vovakirdan/citychat/internal/config"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/conversations"
	"github.com/vovakirdan/citychat/internal/service/dmrequests"
	"github.com/vovakirdan/citychat/internal/service/messaging"
	"github.com/vovakirdan/citychat/internal/store"
)

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Auth          *auth.Service
	Store         store.Store
	Hub           *relay.Hub
	Messages      *messaging.Service
	Conversations *conversations.Service
	DMRequests    *dmrequests.Service
}

// NewServer builds the HTTP server with REST and websocket routes.
func NewServer(deps Deps, cfg config.DevServer, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(deps, cfg.GlobalRoom, logger)))

	dev := NewDevHandlers(deps.Auth, logger)
	router.POST("/api/dev/token", dev.IssueToken)

	chat := NewChatHandlers(deps, cfg.GlobalRoom, logger)
	api := router.Group("/api/chat", AuthMiddleware(deps.Auth, logger))
	{
		api.GET("/conversations", chat.ListConversations)
		api.POST("/conversations", chat.CreateConversation)
		api.GET("/conversations/:id/messages", chat.ConversationMessages)
		api.POST("/conversations/:id/messages", chat.PostDirect)
		api.PUT("/conversations/:id/messages/:messageId", chat.EditMessage)
		api.DELETE("/conversations/:id/messages/:messageId", chat.DeleteMessage)

		api.GET("/global", chat.GlobalChannel)
		api.GET("/global/messages", chat.GlobalMessages)
		api.POST("/global/messages", chat.PostGlobal)
		api.PUT("/global/messages/:messageId", chat.EditMessage)
		api.DELETE("/global/messages/:messageId", chat.DeleteMessage)

		api.GET("/users/search", chat.SearchUsers)

		api.GET("/dm-requests", chat.ListDMRequests)
		api.POST("/dm-requests", chat.CreateDMRequest)
		api.POST("/dm-requests/:id/respond", chat.RespondDMRequest)

		api.POST("/rooms/:id/moderate", chat.Moderate)
		api.POST("/messages/:id/report", chat.Report)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
