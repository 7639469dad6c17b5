// Package websocket upgrades HTTP requests and hands the resulting
// connections to the hub. Room membership is negotiated in-band via the
// join-room frame, so the route itself carries no room id.
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-diagram/internal/hub"
)

// Handler upgrades connections and registers them with the hub.
type Handler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	log      *logrus.Entry
}

// NewHandler creates the upgrade handler.
func NewHandler(h *hub.Hub) *Handler {
	if h == nil {
		panic("Hub cannot be nil for websocket Handler")
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Participants are anonymous; origin filtering is left to the
			// deployment's CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub: h,
		log: logrus.WithField("component", "ws_handler"),
	}
}

// HandleConnection upgrades the request and starts the connection pumps. The
// connection stays Unjoined until its join-room frame arrives.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn)
	if !h.hub.Register(client) {
		h.log.WithField("conn_id", client.ID()).Error("Hub queue full, dropping new connection")
		client.CloseConn()
		return
	}
	client.Run()
	h.log.WithField("conn_id", client.ID()).Info("Connection upgraded and registered")
}
