// Package ws pushes engine events to browser and bot clients over
// WebSocket. Clients pick the entity and user topics they want; every frame
// is {"topic": ..., "event": {type, entityId, status, timestamp, payload}}.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
	// maxTopics bounds the subscriptions of one connection.
	maxTopics = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// topicPrefixes are the subscribable topic families; "*" is not offered to
// clients.
var topicPrefixes = []string{"swap:", "dca:", "order:", "alert:", "user:"}

func validTopic(t string) bool {
	for _, p := range topicPrefixes {
		if strings.HasPrefix(t, p) && len(t) > len(p) {
			return true
		}
	}
	return false
}

// control is a client request: {"action":"subscribe","topics":["swap:abc"]}.
type control struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// reply acknowledges a control message or greets a new connection.
type reply struct {
	Type    string   `json:"type"`
	Topics  []string `json:"topics,omitempty"`
	Error   string   `json:"error,omitempty"`
	Clients int      `json:"clients,omitempty"`
}

type frame struct {
	Topic domain.Topic    `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// Hub tracks connections and routes each delivery to the connections
// subscribed to its topic.
type Hub struct {
	feed   <-chan events.Delivery
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
	done  bool
}

// NewHub creates a hub fed by feed: a publisher subscription in processes
// that run the scheduler, the bus feed in server-only processes.
func NewHub(feed <-chan events.Delivery, logger *slog.Logger) *Hub {
	return &Hub{
		feed:   feed,
		conns:  make(map[*conn]struct{}),
		logger: logger.With(slog.String("component", "ws_hub")),
	}
}

// Run routes deliveries until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	feed := h.feed
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-feed:
			if !ok {
				h.logger.Warn("event feed closed")
				feed = nil
				continue
			}
			h.route(d)
		}
	}
}

func (h *Hub) route(d events.Delivery) {
	msg, err := json.Marshal(frame{Topic: d.Topic, Event: d.Data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.wants(d.Topic) && !c.enqueue(msg) {
			h.logger.Warn("slow client, event dropped",
				slog.String("topic", string(d.Topic)),
				slog.String("remote", c.remote),
			)
		}
	}
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	for c := range h.conns {
		delete(h.conns, c)
		close(c.send)
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// HandleWS upgrades the request. Initial topics may be given as a comma
// separated "topics" query parameter.
// GET /ws?topics=user:42,swap:abc
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &conn{
		hub:    h,
		ws:     ws,
		remote: r.RemoteAddr,
		send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
	if q := r.URL.Query().Get("topics"); q != "" {
		c.subscribe(strings.Split(q, ","))
	}
	if !h.add(c) {
		_ = ws.Close()
		return
	}
	c.reply(reply{Type: "hello", Topics: c.list(), Clients: h.count()})
	h.logger.Debug("client connected", slog.String("remote", c.remote), slog.Int("clients", h.count()))

	go c.writeLoop()
	go c.readLoop()
}

// conn is one WebSocket client.
type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	remote string
	send   chan []byte

	mu     sync.RWMutex
	topics map[string]struct{}
}

func (c *conn) wants(t domain.Topic) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.topics {
		if t.Match(p) {
			return true
		}
	}
	return false
}

// enqueue reports false when the client's buffer is full.
func (c *conn) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) reply(r reply) {
	if b, err := json.Marshal(r); err == nil {
		c.enqueue(b)
	}
}

// subscribe adds valid topics and returns the rejected ones.
func (c *conn) subscribe(topics []string) (rejected []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if !validTopic(t) || (len(c.topics) >= maxTopics && !c.has(t)) {
			rejected = append(rejected, t)
			continue
		}
		c.topics[t] = struct{}{}
	}
	return rejected
}

func (c *conn) has(t string) bool {
	_, ok := c.topics[t]
	return ok
}

func (c *conn) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, strings.TrimSpace(t))
	}
}

func (c *conn) list() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *conn) readLoop() {
	defer func() {
		c.hub.remove(c)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("client read failed", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(reply{Type: "error", Error: "malformed control message"})
			continue
		}
		switch msg.Action {
		case "subscribe":
			if rejected := c.subscribe(msg.Topics); len(rejected) > 0 {
				c.reply(reply{Type: "error", Error: "topics rejected", Topics: rejected})
			}
			c.reply(reply{Type: "subscribed", Topics: c.list()})
		case "unsubscribe":
			c.unsubscribe(msg.Topics)
			c.reply(reply{Type: "subscribed", Topics: c.list()})
		default:
			c.reply(reply{Type: "error", Error: "unknown action " + msg.Action})
		}
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
