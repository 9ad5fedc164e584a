package storage

import (
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/util"
)

// Journal is the book listener that records announcements in a Store.
// Write failures are logged and never reach the book.
type Journal struct {
	store  Store
	logger *zap.SugaredLogger
	clock  util.Clock
}

func NewJournal(store Store, logger *zap.SugaredLogger) *Journal {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Journal{store: store, logger: logger, clock: util.RealClock{}}
}

func (j *Journal) Store() Store { return j.store }

func (j *Journal) Announce(e orderbook.Event) {
	if e.Type == orderbook.TradeExecuted {
		if err := j.store.SaveTrade(e.Trade); err != nil {
			j.logger.Errorw("journal_write_failed", "event", e.Type.String(), "trade", e.Trade.ID(), "err", err)
		}
		return
	}
	if e.Order == nil {
		return
	}

	var status OrderStatus
	switch e.Type {
	case orderbook.OrderFilled:
		status = StatusFilled
	case orderbook.OrderPartiallyFilled:
		status = StatusPartiallyFilled
	case orderbook.OrderCancel:
		status = StatusCancelled
	case orderbook.OrderPosted:
		status = StatusOpen
		// An incoming order that traded before resting is announced
		// partially filled first; posting keeps that status.
		if prev, err := j.store.LoadOrder(e.Order.ID()); err == nil && prev != nil && prev.Status == StatusPartiallyFilled {
			status = StatusPartiallyFilled
		}
	default:
		return
	}

	rec := OrderRecord{Order: e.Order, Status: status, Updated: j.clock.Now().UnixMilli()}
	if err := j.store.SaveOrder(rec); err != nil {
		j.logger.Errorw("journal_write_failed", "event", e.Type.String(), "order", e.Order.ID(), "err", err)
	}
}

var _ orderbook.Listener = (*Journal)(nil)
