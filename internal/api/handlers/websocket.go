package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/websocket"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// RegisterRoutes maps HTTP methods to handler functions
func (h *WSHandler) RegisterRoutes(r *gin.RouterGroup) {
	wsRoutes := r.Group("/ws")
	{
		wsRoutes.GET("", h.HandleWebSocket)
	}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Establish a WebSocket connection for realtime bus tracking. Clients authenticate in-band with an `authenticate` event after the upgrade.
// @Tags websocket
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	websocket.ServeWS(h.hub, c.Writer, c.Request)
}
