// Package orderbook is the matching engine: one BUY tree, one SELL tree and
// an index of resting orders, mutated one submit at a time.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/params"
	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/ordertree"
	"github.com/uhyunpark/limitbook/pkg/app/core/trade"
	"github.com/uhyunpark/limitbook/pkg/ident"
)

var (
	ErrLockTimeout        = errors.New("order book lock wait timed out")
	ErrUnrecognizedAction = errors.New("unrecognized action")
	ErrDuplicateOrder     = errors.New("order already in book")
	ErrLevelUnsupported   = errors.New("only top of book (level 0) is supported")
)

// Level is one price level of a book side. Peek and Top report the best one.
type Level struct {
	Price  string     `json:"price"`
	Volume string     `json:"volume"`
	Side   order.Side `json:"side"`
}

// Top is both sides' Level.
type Top struct {
	Buy  Level `json:"BUY"`
	Sell Level `json:"SELL"`
}

type Option func(*Book)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(ob *Book) { ob.logger = l }
}

func WithListener(l Listener) Option {
	return func(ob *Book) { ob.listener = l }
}

// WithSequencer replaces the source of acceptance sequence numbers.
func WithSequencer(s *ident.Sequencer) Option {
	return func(ob *Book) { ob.seq = s }
}

// Book serializes every post and cancel through one lock with a
// bounded wait. Reads take a read lock and never wait for a whole submit,
// only for the tree mutation in progress.
type Book struct {
	cfg      params.Book
	logger   *zap.SugaredLogger
	listener Listener
	seq      *ident.Sequencer

	lock *submitLock

	mu     sync.RWMutex // guards the fields below
	bids   *ordertree.Tree[*order.Order]
	asks   *ordertree.Tree[*order.Order]
	orders map[string]*order.Order
}

func New(cfg params.Book, opts ...Option) *Book {
	ob := &Book{
		cfg:      cfg,
		logger:   zap.NewNop().Sugar(),
		listener: nopListener{},
		seq:      ident.NewSequencer(0),
		lock:     newSubmitLock(cfg.MaxLockWait),
		bids:     ordertree.New(order.CompareBids),
		asks:     ordertree.New(order.Compare),
		orders:   make(map[string]*order.Order, cfg.MaxOrdersPerSide),
	}
	for _, opt := range opts {
		opt(ob)
	}
	return ob
}

// Config returns the parameters the book was built with.
func (ob *Book) Config() params.Book { return ob.cfg }

// OrderOptions returns the order options matching the book's precision.
func (ob *Book) OrderOptions() []order.Option {
	return []order.Option{order.WithDecimals(order.Decimals(ob.cfg.Order))}
}

// Post submits a new order and returns the announcements it caused.
func (ob *Book) Post(ctx context.Context, o *order.Order) ([]Event, error) {
	return ob.Submit(ctx, PostAction{Order: o})
}

// Cancel removes a resting order. An unknown id is a no-op that returns no
// events and no error.
func (ob *Book) Cancel(ctx context.Context, id string) ([]Event, error) {
	return ob.Submit(ctx, CancelAction{ID: id})
}

// Submit acquires the book, applies the action, announces the outcome to
// the listener and returns the same events. When the lock cannot be taken
// in time it returns ErrLockTimeout and the book is unchanged.
func (ob *Book) Submit(ctx context.Context, a Action) ([]Event, error) {
	var handle func() (*outcome, error)
	switch a := a.(type) {
	case PostAction:
		handle = func() (*outcome, error) { return ob.handlePost(a.Order) }
	case CancelAction:
		handle = func() (*outcome, error) { return ob.handleCancel(a.ID), nil }
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnrecognizedAction, a)
	}

	release, err := ob.lock.acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ob.logger.Warnw("book_lock_timeout", "wait", ob.cfg.MaxLockWait, "err", err)
		return nil, ErrLockTimeout
	}
	defer release()

	out, err := handle()
	if err != nil {
		return nil, err
	}
	events := out.events()
	for _, e := range events {
		ob.listener.Announce(e)
	}
	return events, nil
}

func (ob *Book) handlePost(o *order.Order) (*outcome, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil order", order.ErrInvalidOrder)
	}
	if !o.HasVolume() {
		return nil, fmt.Errorf("%w: order %s has no volume", order.ErrInvalidOrder, o.ID())
	}
	if !o.Price().IsPositive() {
		return nil, fmt.Errorf("%w: order %s price must be positive", order.ErrInvalidOrder, o.ID())
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, ok := ob.orders[o.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID())
	}
	o.SetSeq(ob.seq.Next())

	out := &outcome{}
	if o.Side() == order.Buy {
		ob.match(o, ob.asks, ob.asks.Min, out)
	} else {
		ob.match(o, ob.bids, ob.bids.Max, out)
	}

	switch {
	case !o.HasVolume():
		out.filled = append(out.filled, o)
	default:
		if len(out.trades) > 0 {
			out.partiallyFilled = append(out.partiallyFilled, o)
		}
		if !ob.sideTree(o.Side()).Insert(o) {
			// Unreachable while ids are unique; the index check above
			// already rejected resting duplicates.
			ob.logger.Errorw("book_invariant_violation", "reason", "duplicate tree insert", "order", o.ID())
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID())
		}
		ob.orders[o.ID()] = o
		out.posted = append(out.posted, o)
	}

	ob.logger.Debugw("order_posted",
		"order", o.ID(),
		"side", o.Side(),
		"trades", len(out.trades),
		"filled", len(out.filled),
		"resting", o.HasVolume())
	return out, nil
}

// match clashes incoming against the best opposite order until incoming is
// exhausted, the book no longer crosses or the opposite side is empty.
func (ob *Book) match(
	incoming *order.Order,
	opposite *ordertree.Tree[*order.Order],
	best func() (*order.Order, bool),
	out *outcome,
) {
	for incoming.HasVolume() {
		maker, ok := best()
		if !ok || !maker.CanClash(incoming) {
			return
		}
		t, ok := maker.ClashWith(incoming, trade.Decimals(ob.cfg.Trade))
		if !ok {
			return
		}
		out.trades = append(out.trades, t)

		if maker.HasVolume() {
			// A maker left with volume means incoming is exhausted.
			out.partiallyFilled = append(out.partiallyFilled, maker)
			return
		}
		opposite.Remove(maker)
		delete(ob.orders, maker.ID())
		out.filled = append(out.filled, maker)
	}
}

func (ob *Book) handleCancel(id string) *outcome {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.orders[id]
	if !ok {
		return &outcome{}
	}
	if !ob.sideTree(o.Side()).Remove(o) {
		ob.logger.Errorw("book_invariant_violation", "reason", "indexed order missing from tree", "order", id)
	}
	delete(ob.orders, id)

	ob.logger.Debugw("order_cancelled", "order", id, "side", o.Side())
	return &outcome{cancelled: []*order.Order{o}}
}

func (ob *Book) sideTree(s order.Side) *ordertree.Tree[*order.Order] {
	if s == order.Buy {
		return ob.bids
	}
	return ob.asks
}

// best returns the top order of a side: highest bid or lowest ask.
// Callers hold mu.
func (ob *Book) best(s order.Side) (*order.Order, bool) {
	if s == order.Buy {
		return ob.bids.Max()
	}
	return ob.asks.Min()
}

// Peek returns the top of one side, or the zero sentinel when the side is
// empty. Only level 0 is defined.
func (ob *Book) Peek(side order.Side, level int) (Level, error) {
	if level != 0 {
		return Level{}, ErrLevelUnsupported
	}
	if side != order.Buy && side != order.Sell {
		return Level{}, fmt.Errorf("%w: unknown side %q", order.ErrInvalidOrder, side)
	}

	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.peekLocked(side)
}

// Top peeks both sides from the same state.
func (ob *Book) Top() Top {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	buy, _ := ob.peekLocked(order.Buy)
	sell, _ := ob.peekLocked(order.Sell)
	return Top{Buy: buy, Sell: sell}
}

func (ob *Book) peekLocked(side order.Side) (Level, error) {
	if o, ok := ob.best(side); ok {
		return Level{Price: o.PriceString(), Volume: o.VolumeString(), Side: o.Side()}, nil
	}
	null, err := order.NewNull(side, ob.OrderOptions()...)
	if err != nil {
		return Level{}, err
	}
	return Level{Price: null.PriceString(), Volume: null.VolumeString(), Side: null.Side()}, nil
}

// Depth aggregates one side into price levels, best first, rendered at the
// display precision. Orders whose prices render the same share a level.
// A limit of zero or less returns every level.
func (ob *Book) Depth(side order.Side, limit int) []Level {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	dec := ob.cfg.Display
	var (
		levels []Level
		volume decimal.Decimal
		price  string
	)
	flush := func() {
		levels = append(levels, Level{Price: price, Volume: volume.StringFixed(dec.Volume), Side: side})
	}
	for _, o := range ob.sideTree(side).Walk(side == order.Buy) {
		p := o.Price().StringFixed(dec.Price)
		if p == price {
			volume = volume.Add(o.Volume())
			continue
		}
		if price != "" {
			flush()
			if limit > 0 && len(levels) == limit {
				return levels
			}
		}
		price, volume = p, o.Volume()
	}
	if price != "" {
		flush()
	}
	return levels
}

// Get returns a copy of a resting order.
func (ob *Book) Get(id string) (*order.Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	o, ok := ob.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Len returns the number of resting orders on one side.
func (ob *Book) Len(side order.Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.sideTree(side).Len()
}

// Orders returns copies of one side's resting orders, best first.
func (ob *Book) Orders(side order.Side) []*order.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	// Bids are best at the maximum, asks at the minimum.
	resting := ob.sideTree(side).Walk(side == order.Buy)
	out := make([]*order.Order, len(resting))
	for i, o := range resting {
		out[i] = o.Clone()
	}
	return out
}
