// Package tracking pushes live order status and courier location updates to
// websocket subscribers.
package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 32
)

const (
	MessageStatus   = "status"
	MessageLocation = "location"
)

type Message struct {
	Type      string    `json:"type"`
	OrderID   uuid.UUID `json:"order_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	orderID uuid.UUID
	conn    *websocket.Conn
	send    chan Message
	hub     *Hub
}

// Hub fans messages out to the subscribers of each order. Subscribers that
// cannot keep up are dropped.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan Message
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.FromContext(context.Background(), logger).With("component", "tracking"),
	}
}

// Run owns the subscriber sets until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for orderID, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
				delete(h.rooms, orderID)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			room := h.rooms[c.orderID]
			if room == nil {
				room = make(map[*client]struct{})
				h.rooms[c.orderID] = room
			}
			room[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("tracker connected", "order_id", c.orderID, "subscribers", len(room))

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[msg.OrderID] {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("dropping slow tracker", "order_id", msg.OrderID)
					h.removeLocked(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	room, ok := h.rooms[c.orderID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.orderID)
	}
}

// Publish queues a message for the order's subscribers. It never blocks; a
// full broadcast buffer drops the message.
func (h *Hub) Publish(orderID uuid.UUID, kind string, data any) {
	msg := Message{Type: kind, OrderID: orderID, Data: data, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "order_id", orderID, "type", kind)
	}
}

// Subscribers returns how many trackers watch the order.
func (h *Hub) Subscribers(orderID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[orderID])
}

// Serve upgrades the request and subscribes it to orderID. Callers check
// access before calling it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) {
	logger := logging.FromContext(r.Context(), h.logger)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade tracking connection", "error", err)
		return
	}

	c := &client{orderID: orderID, conn: conn, send: make(chan Message, sendBuffer), hub: h}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	observability.MeterFromContext(r.Context()).Count(observability.MetricTrackingConnection, 1)

	go c.writePump()
	go c.readPump(logger)
}

// readPump only keeps the connection alive; trackers send nothing.
func (c *client) readPump(logger *slog.Logger) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("tracking connection error", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
