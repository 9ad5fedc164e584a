// Package order defines the limit order entity, its ordering inside a book
// side and the clash (matching) of two orders.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/limitbook/pkg/app/core/trade"
	"github.com/uhyunpark/limitbook/pkg/ident"
	"github.com/uhyunpark/limitbook/pkg/util"
)

var ErrInvalidOrder = errors.New("invalid order")

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts any casing and surrounding whitespace.
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToUpper(strings.TrimSpace(s))); side {
	case Buy, Sell:
		return side, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Decimals controls fixed-point rendering at serialization boundaries.
type Decimals struct {
	Price  int32
	Volume int32
}

var DefaultDecimals = Decimals{Price: 8, Volume: 8}

type Params struct {
	ID     string // generated when empty
	Side   string
	Price  decimal.Decimal
	Volume decimal.Decimal
	Owner  string
	Meta   map[string]any
	Open   time.Time // creation instant; derived from ID or clock when zero
}

type Option func(*config)

type config struct {
	clock    util.Clock
	ids      ident.Generator
	decimals Decimals
}

func WithClock(c util.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

func WithGenerator(g ident.Generator) Option {
	return func(cfg *config) { cfg.ids = g }
}

func WithDecimals(d Decimals) Option {
	return func(cfg *config) { cfg.decimals = d }
}

// Order is a limit order. Its volume only ever decreases, through fills.
type Order struct {
	id       string
	side     Side
	price    decimal.Decimal
	volume   decimal.Decimal
	owner    string
	meta     map[string]any
	openTime time.Time
	dec      Decimals

	// seq is stamped by the book when the order is accepted. It orders
	// orders resting at the same price.
	seq uint64
}

func New(p Params, opts ...Option) (*Order, error) {
	cfg := config{clock: util.RealClock{}, ids: ident.UUID{}, decimals: DefaultDecimals}
	for _, opt := range opts {
		opt(&cfg)
	}

	side, err := ParseSide(p.Side)
	if err != nil {
		return nil, err
	}
	if p.Price.IsNegative() {
		return nil, fmt.Errorf("%w: negative price %s", ErrInvalidOrder, p.Price)
	}
	if p.Volume.IsNegative() {
		return nil, fmt.Errorf("%w: negative volume %s", ErrInvalidOrder, p.Volume)
	}

	o := &Order{
		id:     p.ID,
		side:   side,
		price:  p.Price,
		volume: p.Volume,
		owner:  p.Owner,
		meta:   p.Meta,
		dec:    cfg.decimals,
	}
	if o.id == "" {
		o.id = cfg.ids.NewID()
	}
	if o.meta == nil {
		o.meta = map[string]any{}
	}

	switch {
	case !p.Open.IsZero():
		o.openTime = p.Open
	default:
		if t, ok := ident.TimeOf(o.id); ok {
			o.openTime = t
		} else {
			o.openTime = cfg.clock.Now()
		}
	}
	return o, nil
}

// NewNull returns the zero price, zero volume sentinel used to report an
// empty book side.
func NewNull(side Side, opts ...Option) (*Order, error) {
	if side == "" {
		return nil, fmt.Errorf("%w: no side provided for the null order", ErrInvalidOrder)
	}
	return New(Params{Side: string(side), Price: decimal.Zero, Volume: decimal.Zero}, opts...)
}

func (o *Order) ID() string              { return o.id }
func (o *Order) Side() Side              { return o.side }
func (o *Order) Price() decimal.Decimal  { return o.price }
func (o *Order) Volume() decimal.Decimal { return o.volume }
func (o *Order) Owner() string           { return o.owner }
func (o *Order) Meta() map[string]any    { return o.meta }
func (o *Order) OpenTime() time.Time     { return o.openTime }
func (o *Order) Decimals() Decimals      { return o.dec }

// Seq returns the acceptance sequence stamped by the book, 0 if none.
func (o *Order) Seq() uint64 { return o.seq }

// SetSeq stamps the acceptance sequence. Only the owning book calls it, and
// only before the order is inserted into a tree.
func (o *Order) SetSeq(seq uint64) { o.seq = seq }

func (o *Order) SameRef(other *Order) bool { return o.id == other.id }

func (o *Order) HasVolume() bool { return o.volume.IsPositive() }

func (o *Order) PriceString() string  { return o.price.StringFixed(o.dec.Price) }
func (o *Order) VolumeString() string { return o.volume.StringFixed(o.dec.Volume) }
func (o *Order) CostString() string   { return o.volume.Mul(o.price).StringFixed(o.dec.Price) }

func (o *Order) SamePrice(other *Order) bool     { return o.price.Equal(other.price) }
func (o *Order) IsHigherThan(other *Order) bool  { return o.price.GreaterThan(other.price) }
func (o *Order) IsLowerThan(other *Order) bool   { return o.price.LessThan(other.price) }
func (o *Order) IsLargerThan(other *Order) bool  { return o.volume.GreaterThan(other.volume) }
func (o *Order) IsSmallerThan(other *Order) bool { return o.volume.LessThan(other.volume) }
func (o *Order) IsOlderThan(other *Order) bool   { return o.openTime.Before(other.openTime) }
func (o *Order) IsYoungerThan(other *Order) bool { return o.openTime.After(other.openTime) }

// Compare is the default ordering inside a book side:
//
//	 0 same identity
//	+1 strictly higher price
//	-1 strictly lower price
//
// At equal price the order accepted first compares -1 against a later one,
// so an in-order walk lists same-price orders in acceptance order.
func (o *Order) Compare(other *Order) int {
	if o.SameRef(other) {
		return 0
	}
	if c := o.price.Cmp(other.price); c != 0 {
		return c
	}
	if o.seq > other.seq {
		return 1
	}
	return -1
}

// CompareBid orders the BUY side. It differs from Compare only at equal
// price, where the earlier order sorts last so that the tree maximum is the
// oldest order at the best bid.
func (o *Order) CompareBid(other *Order) int {
	if o.SameRef(other) {
		return 0
	}
	if c := o.price.Cmp(other.price); c != 0 {
		return c
	}
	if o.seq < other.seq {
		return 1
	}
	return -1
}

// Compare and CompareBids adapt the methods to ordertree comparators.
func Compare(a, b *Order) int     { return a.Compare(b) }
func CompareBids(a, b *Order) int { return a.CompareBid(b) }

// CanClash reports whether o, resting, can trade with other: the sides
// differ and the prices cross.
func (o *Order) CanClash(other *Order) bool {
	if o.side == other.side {
		return false
	}
	if other.side == Buy {
		return other.price.GreaterThanOrEqual(o.price)
	}
	return o.price.GreaterThanOrEqual(other.price)
}

// Clash executes o, the resting order, against incoming. The traded volume
// is the smaller of both volumes and the price is always o's price. Both
// orders lose the traded volume. It returns false when nothing can trade.
// The trade renders with trade.DefaultDecimals.
func (o *Order) Clash(incoming *Order) (*trade.Trade, bool) {
	return o.ClashWith(incoming, trade.DefaultDecimals)
}

// ClashWith is Clash with the trade's rendering precision set by the caller.
func (o *Order) ClashWith(incoming *Order, dec trade.Decimals) (*trade.Trade, bool) {
	if !o.CanClash(incoming) {
		return nil, false
	}
	volume := decimal.Min(o.volume, incoming.volume)

	buy, sell := o.id, incoming.id
	if o.side == Sell {
		buy, sell = incoming.id, o.id
	}
	t, err := trade.New(trade.Params{
		Volume:   volume,
		Price:    decimal.NewNullDecimal(o.price),
		Buy:      buy,
		Sell:     sell,
		Decimals: &dec,
	})
	if err != nil {
		// zero volume or zero price: nothing to execute
		return nil, false
	}

	o.fill(volume)
	incoming.fill(volume)
	return t, true
}

// fill removes v from the remaining volume; it refuses to go negative.
func (o *Order) fill(v decimal.Decimal) bool {
	if o.volume.LessThan(v) {
		return false
	}
	o.volume = o.volume.Sub(v)
	return true
}

// Clone returns a detached copy, safe to hand to listeners while the
// original keeps resting in the book.
func (o *Order) Clone() *Order {
	cp := *o
	cp.meta = maps.Clone(o.meta)
	return &cp
}

func (o *Order) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", o.id, o.side, o.PriceString(), o.VolumeString())
}

type orderJSON struct {
	ID     string         `json:"id"`
	Side   Side           `json:"side"`
	Price  string         `json:"price"`
	Volume string         `json:"volume"`
	Owner  string         `json:"owner,omitempty"`
	Meta   map[string]any `json:"meta"`
	Open   int64          `json:"open"`
}

func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:     o.id,
		Side:   o.side,
		Price:  o.PriceString(),
		Volume: o.VolumeString(),
		Owner:  o.owner,
		Meta:   o.meta,
		Open:   o.openTime.UnixMilli(),
	})
}

// DecodeParams reads the serialized order form. Price and volume may be
// decimal strings or JSON numbers.
func DecodeParams(b []byte) (Params, error) {
	var raw struct {
		ID     string          `json:"id"`
		Side   string          `json:"side"`
		Price  decimal.Decimal `json:"price"`
		Volume decimal.Decimal `json:"volume"`
		Owner  string          `json:"owner"`
		Meta   map[string]any  `json:"meta"`
		Open   int64           `json:"open"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	p := Params{
		ID:     raw.ID,
		Side:   raw.Side,
		Price:  raw.Price,
		Volume: raw.Volume,
		Owner:  raw.Owner,
		Meta:   raw.Meta,
	}
	if raw.Open != 0 {
		p.Open = time.UnixMilli(raw.Open)
	}
	return p, nil
}

func (o *Order) UnmarshalJSON(b []byte) error {
	p, err := DecodeParams(b)
	if err != nil {
		return err
	}
	parsed, err := New(p)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}
