package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/websocket"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/pkg/response"
)

type TrackingHandler struct {
	hub *websocket.Hub
}

func NewTrackingHandler(hub *websocket.Hub) *TrackingHandler {
	return &TrackingHandler{hub: hub}
}

// GetRooms godoc
// @Summary Room statistics
// @Description Operational snapshot of every active tracking room
// @Tags tracking
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /tracking/rooms [get]
func (h *TrackingHandler) GetRooms(c *gin.Context) {
	stats := h.hub.Registry().Stats()
	response.OK(c, gin.H{
		"rooms":     stats,
		"roomCount": len(stats),
		"timestamp": time.Now().UnixMilli(),
	})
}

// Health godoc
// @Summary Health check
// @Description Liveness probe with connection counts
// @Tags tracking
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /healthz [get]
func (h *TrackingHandler) Health(c *gin.Context) {
	response.OK(c, gin.H{
		"status":      "ok",
		"connections": h.hub.ClientCount(),
		"rooms":       h.hub.Registry().RoomCount(),
	})
}
