package api

import (
	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/storage"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Types
// ==============================

// SubmitResponse is returned by order submission, cancellation and raw actions
type SubmitResponse struct {
	Status  string            `json:"status"` // "accepted", "cancelled", "noop"
	OrderID string            `json:"orderId,omitempty"`
	Events  []orderbook.Event `json:"events"`
}

// OrderInfo is an order as seen by the book and the journal
type OrderInfo struct {
	Order   *order.Order        `json:"order"`
	Status  storage.OrderStatus `json:"status,omitempty"`
	Resting bool                `json:"resting"`
	Updated int64               `json:"updated,omitempty"` // Unix milliseconds
}

// BookOrders lists one side's resting orders, best first
type BookOrders struct {
	Side   order.Side     `json:"side"`
	Orders []*order.Order `json:"orders"`
}

// BookDepth is one side aggregated into price levels, best first.
// A limit of 0 returns every level.
type BookDepth struct {
	Side   order.Side        `json:"side"`
	Levels []orderbook.Level `json:"levels"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

const (
	ChannelOrders = "orders"
	ChannelTrades = "trades"
	ChannelBook   = "book"
)

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string `json:"type"` // event name, or "book" for top-of-book updates
	Data any    `json:"data"`
}

const (
	WSOpSubscribe   = "subscribe"
	WSOpUnsubscribe = "unsubscribe"

	WSTypeAck   = "ack"
	WSTypeError = "error"
)

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "trades", "book"]
}

// WSAck answers a subscription request. Rejected lists unknown channels.
type WSAck struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Rejected []string `json:"rejected,omitempty"`
}

// BookUpdate is broadcast after every submit that changed the book
type BookUpdate struct {
	Top       orderbook.Top `json:"top"`
	Timestamp int64         `json:"timestamp"`
}
