package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collection-tracker/internal/model"
	"collection-tracker/internal/service"
)

const writeWait = 5 * time.Second

// Hub pushes every new map view to the connected browser maps. Each client has
// its own writer goroutine and a one-view buffer, so a slow browser only ever
// misses intermediate views and never holds up Publish.
type Hub struct {
	logger   *logrus.Logger
	style    MarkerStyle
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *model.MapView
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logrus.Logger, style MarkerStyle) *Hub {
	return &Hub{
		logger: logger,
		style:  style,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Publish(state service.TrackState) {
	view := BuildView(state, h.style)
	data, err := json.Marshal(view)
	if err != nil {
		h.logger.WithError(err).Error("marshal map view")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &view
	for c := range h.clients {
		c.offer(data)
	}
}

// offer replaces a view the writer has not picked up yet.
func (c *client) offer(data []byte) {
	for {
		select {
		case c.send <- data:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (h *Hub) Last() (model.MapView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return model.MapView{}, false
	}
	return *h.last, true
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("ws upgrade error")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 1)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	// a new map centers right away on the latest view
	if h.last != nil {
		if data, err := json.Marshal(h.last); err == nil {
			c.offer(data)
		}
	}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.drop(c)
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

func (h *Hub) writePump(c *client) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.WithError(err).Debug("dropping map client")
			h.remove(c)
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
