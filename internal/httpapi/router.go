package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visageapp/visage/internal/chat"
	"github.com/visageapp/visage/internal/config"
	"github.com/visageapp/visage/internal/httpapi/handlers"
	"github.com/visageapp/visage/internal/realtime"
	"github.com/visageapp/visage/internal/storage"
	"github.com/visageapp/visage/internal/store/redisstore"
)

func NewRouter(cfg config.Config, svc *chat.Service, cache *redisstore.Store, uploader *storage.Uploader, gw *realtime.Gateway) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	h := handlers.NewHandler(cfg, svc, cache, uploader)

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.POST("/respond", h.Respond)
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:conversation_id/messages", h.ListMessages)
	api.DELETE("/conversations/:conversation_id", h.DeleteConversation)
	api.POST("/uploads", h.Upload)

	// websocket gateway: per-conversation change feed + shared presence
	r.GET("/ws", gin.WrapF(gw.HandleMessages))
	r.GET("/ws/presence", gin.WrapF(gw.HandlePresence))

	return r
}
