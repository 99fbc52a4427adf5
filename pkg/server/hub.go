package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cancelobject/pkg/log"
	"cancelobject/pkg/metrics"
	"cancelobject/pkg/plugin"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 64 * 1024
)

// Hub fans plugin messages out to every connected websocket client. It
// implements notify.Sink.
type Hub struct {
	upgrader websocket.Upgrader
	log      *log.Logger
	gauge    *metrics.Gauge // connected clients, optional

	mu      sync.RWMutex
	clients map[int64]*wsClient
	nextID  atomic.Int64
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.GetLogger("hub")
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logger,
		clients: make(map[int64]*wsClient),
	}
}

// SendPluginMessage broadcasts data on behalf of the plugin identifier.
// Clients whose queue is full miss the message.
func (h *Hub) SendPluginMessage(identifier string, data map[string]any) {
	h.Broadcast(map[string]any{
		"plugin": map[string]any{
			"plugin": identifier,
			"data":   data,
		},
	})
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.Send(msg)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:     h.nextID.Add(1),
		conn:   conn,
		hub:    h,
		sendCh: make(chan any, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	if h.gauge != nil {
		h.gauge.Inc(nil)
	}
	h.mu.Unlock()

	h.log.WithField("client", c.id).Debug("websocket client connected")
	c.Send(map[string]any{"connected": map[string]any{"plugins": []string{plugin.Identifier}}})

	go c.writePump()
	c.readPump()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		if h.gauge != nil {
			h.gauge.Dec(nil)
		}
	}
	h.mu.Unlock()
	h.log.WithField("client", c.id).Debug("websocket client disconnected")
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[int64]*wsClient)
	if h.gauge != nil {
		h.gauge.Add(nil, -float64(len(clients)))
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// wsClient is one websocket connection.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	hub    *Hub
	sendCh chan any
	done   chan struct{}
	once   sync.Once
}

// Send queues msg without blocking; it is dropped when the queue is full.
func (c *wsClient) Send(msg any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- msg:
	default:
		c.hub.log.WithField("client", c.id).Warn("dropping message, client queue full")
	}
}

func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump drains incoming frames so control messages are processed.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).WithField("client", c.id).Debug("websocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.log.WithError(err).WithField("client", c.id).Debug("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
