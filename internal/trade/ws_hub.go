// Package trade: WebSocket hub for ledger and quote push messages.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papertrade/ledger-engine/internal/auth"
	"github.com/papertrade/ledger-engine/internal/metrics"
)

// Message types.
const (
	MsgLedgerUpdated = "ledger_updated"
	MsgQuotesUpdated = "quotes_updated"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type    string   `json:"type"`
	Owner   string   `json:"owner,omitempty"`
	Action  string   `json:"action,omitempty"` // submitted or revoked
	TradeID string   `json:"trade_id,omitempty"`
	Symbol  string   `json:"symbol,omitempty"`
	Cash    string   `json:"cash,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

type wsClient struct {
	owner string
	conn  *websocket.Conn
	send  chan []byte
}

type envelope struct {
	owner string // "" for every client
	data  []byte
}

// WSHub manages WebSocket connections. Ledger updates go to the owning
// user's connections only; quote updates go to everyone. Each connection
// has one writer goroutine, so the hub never writes to a socket itself.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan envelope
	register   chan *wsClient
	unregister chan *wsClient
	count      chan chan int
	done       chan struct{} // closed when Run returns
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop until ctx is done. Must be called
// in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "owner", c.owner, "total", len(h.clients))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}

		case env := <-h.broadcast:
			for c := range h.clients {
				if env.owner != "" && c.owner != env.owner {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					// Slow consumer.
					h.drop(c)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

func (h *WSHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	h.enqueue("", msg)
}

// SendTo sends a message to owner's connections.
func (h *WSHub) SendTo(owner string, msg WSMessage) {
	h.enqueue(owner, msg)
}

func (h *WSHub) enqueue(owner string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- envelope{owner: owner, data: data}:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

// ClientCount returns the number of registered clients, or 0 once the hub
// has stopped.
func (h *WSHub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The
// route must sit behind auth.Middleware.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFrom(r.Context())
	if owner == "" {
		writeError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{owner: owner, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// writePump is the only goroutine writing to c.conn. It exits when the hub
// closes c.send.
func (c *wsClient) writePump() {
	// Ping ticker to keep connection alive through proxies.
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
