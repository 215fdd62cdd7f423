package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/sync/notify"
	"github.com/kimhsiao/journalsync/internal/uuid"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin only admits browsers on the loopback interface. Non-browser
// clients send no Origin header.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Owner     string      `json:"owner,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type outbound struct {
	eventType string
	owner     string
	payload   []byte
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id    string
	owner string // empty receives every owner
	conn  *websocket.Conn
	send  chan []byte
	hub   *WSHub

	mu            sync.Mutex
	subscriptions map[string]bool // empty receives every type
}

func (c *WSClient) wants(m outbound) bool {
	if c.owner != "" && m.owner != "" && c.owner != m.owner {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[m.eventType]
}

// WSHub maintains active client connections and fans notifier events out to them.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan outbound
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan outbound, wsSendBuffer),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("websocket client connected", map[string]interface{}{"client": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("websocket client disconnected", map[string]interface{}{"client": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message.payload:
				default:
					// Slow consumer; drop it rather than stall every other client.
					delete(h.clients, id)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close disconnects every client and stops the hub.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach forwards every event published on n to the hub.
func (h *WSHub) Attach(n *notify.Notifier) *notify.Subscription {
	return n.Subscribe(h.Publish)
}

// Publish encodes e and queues it for broadcast. It never blocks the caller.
func (h *WSHub) Publish(e notify.Event) {
	owner := ownerOf(e)
	payload, err := json.Marshal(WSEnvelope{
		Type:      e.EventType(),
		Owner:     owner,
		Data:      e,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logging.Warn("failed to encode websocket event", map[string]interface{}{"error": err.Error()})
		return
	}

	select {
	case h.broadcast <- outbound{eventType: e.EventType(), owner: owner, payload: payload}:
	case <-h.done:
	default:
		logging.Warn("websocket broadcast queue full, dropping event", map[string]interface{}{"type": e.EventType()})
	}
}

func ownerOf(e notify.Event) string {
	switch ev := e.(type) {
	case notify.SyncStarted:
		return ev.Owner
	case notify.SyncProgress:
		return ev.Owner
	case notify.SyncCompleted:
		return ev.Owner
	case notify.OperationDropped:
		return ev.Owner
	case notify.SyncAborted:
		return ev.Owner
	}
	return ""
}

// clientMessage is what clients may send.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Debug("invalid websocket message", map[string]interface{}{"client": c.id})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()

		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a direct response. Replies are dropped when the buffer is full.
func (c *WSClient) reply(v map[string]interface{}) {
	v["timestamp"] = time.Now().Unix()
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c.id]; !live {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// HandleWebSocket handles GET /ws. ?owner= restricts the stream to one owner.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.New(),
			owner:         r.URL.Query().Get("owner"),
			conn:          conn,
			send:          make(chan []byte, wsSendBuffer),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
