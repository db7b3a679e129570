// Package live pushes table refresh events to open dashboards over websockets.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/reconcile"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Same-origin browsers, or non-browser clients that send no Origin
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Event is one message sent to clients.
type Event struct {
	Type        string    `json:"type"`
	TableID     string    `json:"table_id,omitempty"`
	Rows        int       `json:"rows"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
	Error       string    `json:"error,omitempty"`
}

// EventTableRefreshed is sent after a new table is installed.
const EventTableRefreshed = "table_refreshed"

// TableEvent describes a cache snapshot.
func TableEvent(snap reconcile.Snapshot) Event {
	ev := Event{
		Type:        EventTableRefreshed,
		RefreshedAt: snap.RefreshedAt,
		Stale:       snap.Stale,
	}
	if snap.Table != nil {
		ev.TableID = snap.Table.ID
		ev.Rows = snap.Table.Len()
		ev.Fingerprint = fmt.Sprintf("%016x", snap.Table.Fingerprint())
	}
	if snap.Err != nil {
		ev.Error = snap.Err.Error()
	}
	return ev
}

// client serializes writes; a websocket connection allows one writer at a time.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return c.conn.WriteMessage(messageType, data)
}

// Hub manages websocket connections
type Hub struct {
	// Registered clients
	clients map[*client]bool

	register   chan *client
	unregister chan *client

	// Broadcast channel for encoded events
	broadcast chan []byte

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new websocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.WithField("clients", count).Debug("WebSocket client connected")
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.WithField("clients", count).Debug("WebSocket client disconnected")
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*client
			for c := range h.clients {
				if err := c.write(websocket.TextMessage, message); err != nil {
					log.WithError(err).Debug("WebSocket write failed")
					failed = append(failed, c)
				}
			}
			h.mu.RUnlock()

			// Unregister outside the lock; the channel is drained by this loop,
			// so remove directly instead of sending to it.
			if len(failed) > 0 {
				h.mu.Lock()
				for _, c := range failed {
					delete(h.clients, c)
					c.conn.Close()
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast queues an event for every client. It never blocks: when the
// queue is full the event is dropped.
func (h *Hub) Broadcast(ev Event) error {
	message, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		log.Warn("Broadcast channel full, dropping event")
	}
	return nil
}

// Notify is a cache listener that broadcasts each refresh.
func (h *Hub) Notify(snap reconcile.Snapshot) {
	if err := h.Broadcast(TableEvent(snap)); err != nil {
		log.WithError(err).Warn("Failed to broadcast refresh")
	}
}

// HasClients returns true if there are any connected clients
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the connection alive until the
// client goes away. Clients only listen; inbound messages are discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	select {
	case <-h.done:
		conn.Close()
		return
	default:
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Ping sender keeps idle connections open through proxies
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		select {
		case h.unregister <- c:
		default:
			// hub stopped or backed up; a dead client is dropped on its next failed write
			conn.Close()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Debug("WebSocket closed")
			}
			return
		}
	}
}
