// Package http holds the plain HTTP handlers of the relay. The mutation
// protocol lives entirely on the WebSocket side; this surface is a liveness
// and occupancy probe.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"collaborative-diagram/internal/registry"
)

// HealthHandler reports relay liveness and room occupancy.
type HealthHandler struct {
	registry *registry.RoomRegistry
}

// NewHealthHandler creates the handler.
func NewHealthHandler(reg *registry.RoomRegistry) *HealthHandler {
	if reg == nil {
		panic("RoomRegistry cannot be nil for HealthHandler")
	}
	return &HealthHandler{registry: reg}
}

// Health returns {status, timestamp, activeRooms, totalUsers}.
func (h *HealthHandler) Health(c *gin.Context) {
	rooms, users := h.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "OK",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"activeRooms": rooms,
		"totalUsers":  users,
	})
}
