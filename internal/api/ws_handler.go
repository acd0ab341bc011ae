package api

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lumicrm/mailsync/internal/notify"
)

// WebSocketHandler attaches CRM clients to the notification hub so new-mail
// events reach open views without polling.
type WebSocketHandler struct {
	hub   *notify.Hub
	token string
}

func NewWebSocketHandler(hub *notify.Hub, token string) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, token: token}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The service sits behind the CRM's reverse proxy in a trusted
		// network; the shared secret is the actual gate.
		return true
	},
}

// Handle upgrades the connection and registers it for one account's events.
// The token travels as a query parameter because browsers cannot set headers
// on WebSocket connections.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Sync-Token")
	}
	if h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID := r.URL.Query().Get("account")
	if accountID == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: upgrade failed: %v", err)
		return
	}

	client := h.hub.Register(accountID, conn)
	defer h.hub.Unregister(accountID, client)

	// Hold the connection open; the hub writes, the client only ever
	// closes. Any read error means the peer went away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
