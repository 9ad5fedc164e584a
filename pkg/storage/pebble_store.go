package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/limitbook/pkg/app/core/trade"
	"github.com/uhyunpark/limitbook/pkg/ident"
)

type PebbleStore struct {
	db  *pebble.DB
	seq *ident.Sequencer
}

// NewPebbleStore opens (or creates) the journal at path and resumes the
// trade sequence after the last stored trade.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	last, err := lastTradeSeq(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PebbleStore{db: db, seq: ident.NewSequencer(last)}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func lastTradeSeq(db *pebble.DB) (uint64, error) {
	prefix := tradePrefix()
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, nil
	}
	return tradeSeq(iter.Key())
}

// SaveTrade appends a trade to the journal
func (s *PebbleStore) SaveTrade(t *trade.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	key := tradeKey(s.seq.Next(), t.ID())
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}

	return nil
}

// LoadRecentTrades loads the most recent N trades, newest first
func (s *PebbleStore) LoadRecentTrades(limit int) ([]*trade.Trade, error) {
	prefix := tradePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []*trade.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t trade.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, &t)
	}

	return trades, nil
}

// SaveOrder overwrites the record of an order
func (s *PebbleStore) SaveOrder(rec OrderRecord) error {
	if rec.Order == nil {
		return errors.New("order record without order")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	if err := s.db.Set(orderKey(rec.Order.ID()), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	return nil
}

// LoadOrder returns nil if the order was never journaled
func (s *PebbleStore) LoadOrder(id string) (*OrderRecord, error) {
	data, closer, err := s.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var rec OrderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}

	return &rec, nil
}
