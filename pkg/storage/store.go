// Package storage keeps an audit journal of what the book did: every trade
// in execution order and the latest state of every order it has seen. The
// journal is never replayed into a book.
package storage

import (
	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/trade"
)

type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
)

// OrderRecord is the last known state of an order.
type OrderRecord struct {
	Order   *order.Order `json:"order"`
	Status  OrderStatus  `json:"status"`
	Updated int64        `json:"updated"` // unix millis
}

// Store persists trades and order records.
// Load methods return nil without error when nothing is stored.
type Store interface {
	SaveTrade(t *trade.Trade) error
	// LoadRecentTrades returns at most limit trades, newest first.
	LoadRecentTrades(limit int) ([]*trade.Trade, error)
	SaveOrder(rec OrderRecord) error
	LoadOrder(id string) (*OrderRecord, error)
	Close() error
}

var (
	_ Store = (*PebbleStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
