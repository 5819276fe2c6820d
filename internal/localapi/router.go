package localapi

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the loopback API router. The daemon binds it to a
// localhost address; there is no auth layer because the socket never
// leaves the machine.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	v1.GET("/status", h.Status)
	v1.GET("/search", h.Search)

	convs := v1.Group("/conversations")
	convs.GET("", h.ListConversations)
	convs.GET("/:id", h.GetConversation)
	convs.POST("/:id/open", h.OpenConversation)
	convs.POST("/:id/close", h.CloseConversation)
	convs.GET("/:id/messages", h.ListMessages)
	convs.POST("/:id/messages", h.SendMessage)
	convs.POST("/:id/seen", h.MarkSeen)
	convs.POST("/:id/typing", h.Typing)
	convs.POST("/:id/mute", h.Mute)
	convs.POST("/:id/unmute", h.Unmute)
	convs.POST("/:id/archive", h.Archive)
	convs.POST("/:id/unarchive", h.Unarchive)
	convs.POST("/:id/pin", h.Pin)
	convs.POST("/:id/unpin", h.Unpin)
	convs.DELETE("/:id", h.Delete)

	return router
}
