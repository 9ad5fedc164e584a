package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub maintains active WebSocket connections and fans messages out to
// channel subscribers. Sends never block: a client whose buffer is full
// misses the message.
type Hub struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex // guards clients and the closing of send buffers
	clients map[*Client]bool

	unregister chan *Client
	done       chan struct{} // closed when Run returns
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves disconnects until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		close(h.done)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Infow("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToChannel queues data for every subscriber of channel.
func (h *Hub) BroadcastToChannel(channel string, data any) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				h.logger.Debugw("ws_broadcast_dropped", "client", client.id, "channel", channel)
			}
		}
	}
}

// HasSubscribers reports whether any client listens on channel
func (h *Hub) HasSubscribers(channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.IsSubscribed(channel) {
			return true
		}
	}
	return false
}

// join registers c. It fails once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[c] = true
	h.logger.Infow("ws_client_connected", "client", c.id, "total", len(h.clients))
	return true
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// knownChannels are the channels a client may subscribe to.
var knownChannels = map[string]bool{
	ChannelOrders: true,
	ChannelTrades: true,
	ChannelBook:   true,
}

// Client is one WebSocket connection and its channel subscriptions.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// snapshot renders the current top of book for new book subscribers.
	snapshot func() BookUpdate

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds the known channels among channels and returns the ones it
// refused.
func (c *Client) Subscribe(channels ...string) (accepted, rejected []string) {
	c.subsMu.Lock()
	for _, ch := range channels {
		if !knownChannels[ch] {
			rejected = append(rejected, ch)
			continue
		}
		c.subscriptions[ch] = true
		accepted = append(accepted, ch)
	}
	c.subsMu.Unlock()
	c.hub.logger.Debugw("ws_subscribe", "client", c.id, "channels", accepted, "rejected", rejected)
	return accepted, rejected
}

func (c *Client) Unsubscribe(channels ...string) []string {
	c.subsMu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.subsMu.Unlock()
	c.hub.logger.Debugw("ws_unsubscribe", "client", c.id, "channels", channels)
	return channels
}

// reply queues a message for this client only. It drops the message when
// the client's buffer is full, like a broadcast does.
func (c *Client) reply(msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Warnw("ws_marshal_failed", "client", c.id, "type", msg.Type, "err", err)
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
		c.hub.logger.Debugw("ws_reply_dropped", "client", c.id, "type", msg.Type)
	}
}

// handle applies one request and acknowledges it. A book subscription is
// answered with the current top of book so the client need not wait for the
// next change.
func (c *Client) handle(req WSSubscribeRequest) {
	switch req.Op {
	case WSOpSubscribe:
		accepted, rejected := c.Subscribe(req.Channels...)
		c.reply(WSMessage{Type: WSTypeAck, Data: WSAck{Op: req.Op, Channels: accepted, Rejected: rejected}})
		if slices.Contains(accepted, ChannelBook) && c.snapshot != nil {
			c.reply(WSMessage{Type: ChannelBook, Data: c.snapshot()})
		}
	case WSOpUnsubscribe:
		c.reply(WSMessage{Type: WSTypeAck, Data: WSAck{Op: req.Op, Channels: c.Unsubscribe(req.Channels...)}})
	default:
		c.hub.logger.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
		c.reply(WSMessage{Type: WSTypeError, Data: ErrorResponse{Error: "unknown op", Message: req.Op}})
	}
}

// readPump applies subscription requests until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req WSSubscribeRequest
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Debugw("ws_invalid_message", "client", c.id, "err", err)
			c.reply(WSMessage{Type: WSTypeError, Data: ErrorResponse{Error: "invalid message", Message: err.Error()}})
			continue
		}
		c.handle(req)
	}
}

// writePump drains the send buffer into the connection, batching queued
// messages into one newline separated frame, and keeps the peer alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeFrame(message); err != nil {
				c.hub.logger.Debugw("ws_write_failed", "client", c.id, "err", err)
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

func (c *Client) writeFrame(first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for n := len(c.send); n > 0; n-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.send)
	}
	return w.Close()
}

// handleWebSocket upgrades the request and registers the client with the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		snapshot:      s.bookUpdate,
		subscriptions: make(map[string]bool),
	}

	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
