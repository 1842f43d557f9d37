package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"exchange_go/internal/domain"
	"exchange_go/internal/infra"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	maxMsgSize   = 4096
)

// Message is the wire envelope pushed to clients.
type Message struct {
	Type   string `json:"type"` // "depth", "trade", "order"
	Symbol string `json:"symbol,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// subscribeRequest is the only message clients send.
type subscribeRequest struct {
	Action  string   `json:"action"` // "subscribe", "unsubscribe"
	Symbols []string `json:"symbols"`
	UserID  int64    `json:"user_id"`
}

// Hub fans trading events out to websocket clients. It implements
// domain.Notifier; every publish is non-blocking and a client whose send
// queue stays full is dropped rather than allowed to stall the rest.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *infra.Metrics
	queue    int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	symbols map[string]bool
	userID  int64
}

// NewHub creates an empty hub.
func NewHub(metrics *infra.Metrics, sendQueueSize int) *Hub {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth and origin policy live in the surrounding platform.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: metrics,
		queue:   sendQueueSize,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and runs the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, h.queue),
		done:    make(chan struct{}),
		symbols: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncrementConnections()
	slog.Debug("push client connected", slog.String("remote", conn.RemoteAddr().String()))

	go c.writePump(func() { h.drop(c) })
	go c.readPump(func() { h.drop(c) })
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !present {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
	c.conn.Close()
	h.metrics.DecrementConnections()
}

// OnDepthChanged tells symbol subscribers the book changed.
func (h *Hub) OnDepthChanged(symbol string) {
	h.publish(Message{Type: "depth", Symbol: symbol}, func(c *client) bool {
		return c.subscribed(symbol)
	})
}

// OnTrade pushes a completed fill to symbol subscribers.
func (h *Hub) OnTrade(fill *domain.Fill) {
	h.publish(Message{Type: "trade", Symbol: fill.Symbol, Data: fill}, func(c *client) bool {
		return c.subscribed(fill.Symbol)
	})
}

// OnOrderUpdate pushes an order state change to that user's connections only.
func (h *Hub) OnOrderUpdate(userID int64, order *domain.Order) {
	h.publish(Message{Type: "order", Symbol: order.Symbol, Data: order}, func(c *client) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.userID == userID
	})
}

func (h *Hub) publish(msg Message, match func(*client) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("push marshal failed", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("dropping slow push client", slog.String("remote", c.conn.RemoteAddr().String()))
		h.drop(c)
	}
}

// Run blocks until the context ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
	slog.Info("push hub stopped")
}

func (c *client) subscribed(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbols[symbol]
}

func (c *client) readPump(onExit func()) {
	defer onExit()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Debug("ignoring malformed client message", slog.Any("error", err))
			continue
		}

		c.mu.Lock()
		switch req.Action {
		case "subscribe":
			for _, s := range req.Symbols {
				c.symbols[s] = true
			}
			if req.UserID != 0 {
				c.userID = req.UserID
			}
		case "unsubscribe":
			for _, s := range req.Symbols {
				delete(c.symbols, s)
			}
		}
		c.mu.Unlock()
	}
}

func (c *client) writePump(onExit func()) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		onExit()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
