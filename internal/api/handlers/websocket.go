package handlers

import (
	"net/http"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/api/middleware"
	"github.com/dom/code-arena/internal/arena"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced at the edge.
	},
}

type WebSocketHandler struct {
	hub *arena.Hub
	log zerolog.Logger
}

func NewWebSocketHandler(hub *arena.Hub, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		log: log.With().Str("component", "ws").Logger(),
	}
}

func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Token identity is optional: guests join with payload-supplied names
	// and get generated ids.
	userID, _ := middleware.GetUserID(r.Context())
	displayName, _ := middleware.GetDisplayName(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := arena.NewClient(h.hub, conn, userID, displayName)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
