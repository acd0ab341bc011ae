package notify

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Hub fans ingestion events out to the CRM clients watching an account.
// It supports multiple connections per account (several open dashboards).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // accountID -> set of clients
	maxPerAcct int
}

// NewHub creates a Hub with a per-account connection limit.
func NewHub(maxPerAccount int) *Hub {
	if maxPerAccount <= 0 {
		maxPerAccount = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerAcct: maxPerAccount,
	}
}

// Register adds a WebSocket connection for the given account.
// If the per-account limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(accountID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	acctClients, ok := h.clients[accountID]
	if !ok {
		acctClients = make(map[*Client]struct{})
		h.clients[accountID] = acctClients
	}

	if len(acctClients) >= h.maxPerAcct {
		log.Printf("notify: account %s exceeded max connections (%d), closing new connection", accountID, h.maxPerAcct)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this account"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	acctClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given account and closes the connection.
func (h *Hub) Unregister(accountID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	acctClients, ok := h.clients[accountID]
	if !ok {
		_ = client.conn.Close()
		return
	}

	delete(acctClients, client)

	if len(acctClients) == 0 {
		delete(h.clients, accountID)
	}

	_ = client.conn.Close()
}

// NewMessage implements Notifier: broadcasts the event to every client
// watching the account.
func (h *Hub) NewMessage(event Event) {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Event
	}{Type: "new_message", Event: event})
	if err != nil {
		log.Printf("notify: failed to marshal event: %v", err)
		return
	}
	h.Send(event.AccountID, payload)
}

// Send broadcasts a message to all active clients for the account.
func (h *Hub) Send(accountID string, msg []byte) {
	// Snapshot the client set under the lock; the map itself may be
	// mutated by Register/Unregister while we write.
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[accountID]))
	for client := range h.clients[accountID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("notify: failed to write message for account %s: %v", accountID, err)
			// Best-effort cleanup: unregister this client.
			go h.Unregister(accountID, client)
		}
	}
}

// ActiveConnections returns the number of active connections for an account.
func (h *Hub) ActiveConnections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[accountID])
}
