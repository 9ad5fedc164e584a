package storage

import (
	"sync"

	"github.com/uhyunpark/limitbook/pkg/app/core/trade"
)

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu     sync.Mutex
	trades []*trade.Trade
	orders map[string]OrderRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]OrderRecord)}
}

func (s *MemoryStore) SaveTrade(t *trade.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *MemoryStore) LoadRecentTrades(limit int) ([]*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trade.Trade
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.trades[i])
	}
	return out, nil
}

func (s *MemoryStore) SaveOrder(rec OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[rec.Order.ID()] = rec
	return nil
}

func (s *MemoryStore) LoadOrder(id string) (*OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Close() error { return nil }
