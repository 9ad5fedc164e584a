// Package trade holds the immutable record of one execution.
package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/limitbook/pkg/ident"
)

var (
	// ErrPriceOrCost is returned unless exactly one of price and cost is given.
	ErrPriceOrCost  = errors.New("trade needs exactly one of price or cost")
	ErrInvalidTrade = errors.New("invalid trade")
)

// divisionDigits is the precision used when price is derived from cost.
const divisionDigits = 16

// Decimals controls fixed-point rendering.
type Decimals struct {
	Price  int32
	Volume int32
}

var DefaultDecimals = Decimals{Price: 8, Volume: 8}

// Params describes a trade to build. Exactly one of Price and Cost must be
// valid; the other one is derived.
type Params struct {
	ID     string
	Volume decimal.Decimal
	Price  decimal.NullDecimal
	Cost   decimal.NullDecimal
	Buy    string
	Sell   string
	Meta   map[string]any

	Decimals *Decimals
}

// Trade is immutable once built. Cost always equals Price × Volume.
type Trade struct {
	id     string
	volume decimal.Decimal
	price  decimal.Decimal
	cost   decimal.Decimal
	buy    string
	sell   string
	meta   map[string]any
	dec    Decimals
}

func New(p Params) (*Trade, error) {
	if p.Price.Valid == p.Cost.Valid {
		return nil, ErrPriceOrCost
	}
	if !p.Volume.IsPositive() {
		return nil, fmt.Errorf("%w: volume %s must be positive", ErrInvalidTrade, p.Volume)
	}

	t := &Trade{
		id:     p.ID,
		volume: p.Volume,
		buy:    p.Buy,
		sell:   p.Sell,
		meta:   p.Meta,
		dec:    DefaultDecimals,
	}
	if t.id == "" {
		t.id = ident.NewID()
	}
	if t.meta == nil {
		t.meta = map[string]any{}
	}
	if p.Decimals != nil {
		t.dec = *p.Decimals
	}

	if p.Price.Valid {
		if !p.Price.Decimal.IsPositive() {
			return nil, fmt.Errorf("%w: price %s must be positive", ErrInvalidTrade, p.Price.Decimal)
		}
		t.price = p.Price.Decimal
	} else {
		if !p.Cost.Decimal.IsPositive() {
			return nil, fmt.Errorf("%w: cost %s must be positive", ErrInvalidTrade, p.Cost.Decimal)
		}
		t.price = p.Cost.Decimal.DivRound(p.Volume, divisionDigits)
	}
	// Recomputed in both branches so the invariant holds exactly even when
	// cost/volume does not terminate.
	t.cost = t.price.Mul(t.volume)
	return t, nil
}

// WithPrice is shorthand for building a trade from its price.
func WithPrice(id string, volume, price decimal.Decimal, buy, sell string) (*Trade, error) {
	return New(Params{
		ID:     id,
		Volume: volume,
		Price:  decimal.NewNullDecimal(price),
		Buy:    buy,
		Sell:   sell,
	})
}

func (t *Trade) ID() string              { return t.id }
func (t *Trade) Volume() decimal.Decimal { return t.volume }
func (t *Trade) Price() decimal.Decimal  { return t.price }
func (t *Trade) Cost() decimal.Decimal   { return t.cost }
func (t *Trade) Buy() string             { return t.buy }
func (t *Trade) Sell() string            { return t.sell }
func (t *Trade) Meta() map[string]any    { return t.meta }
func (t *Trade) PriceString() string     { return t.price.StringFixed(t.dec.Price) }
func (t *Trade) VolumeString() string    { return t.volume.StringFixed(t.dec.Volume) }
func (t *Trade) CostString() string      { return t.cost.StringFixed(t.dec.Price) }

type tradeJSON struct {
	ID     string         `json:"id"`
	Volume string         `json:"volume"`
	Price  string         `json:"price"`
	Cost   string         `json:"cost"`
	Buy    string         `json:"buy"`
	Sell   string         `json:"sell"`
	Meta   map[string]any `json:"meta"`
}

func (t *Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(tradeJSON{
		ID:     t.id,
		Volume: t.VolumeString(),
		Price:  t.PriceString(),
		Cost:   t.CostString(),
		Buy:    t.buy,
		Sell:   t.sell,
		Meta:   t.meta,
	})
}

// UnmarshalJSON rebuilds a trade from its serialized form. Price and volume
// are authoritative; cost is derived again from them. The rendering
// precision is read back from the fixed-point strings.
func (t *Trade) UnmarshalJSON(b []byte) error {
	var raw tradeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	volume, err := decimal.NewFromString(raw.Volume)
	if err != nil {
		return fmt.Errorf("%w: volume: %v", ErrInvalidTrade, err)
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return fmt.Errorf("%w: price: %v", ErrInvalidTrade, err)
	}
	dec := Decimals{Price: fractionDigits(raw.Price), Volume: fractionDigits(raw.Volume)}
	parsed, err := New(Params{
		ID:       raw.ID,
		Volume:   volume,
		Price:    decimal.NewNullDecimal(price),
		Buy:      raw.Buy,
		Sell:     raw.Sell,
		Meta:     raw.Meta,
		Decimals: &dec,
	})
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// fractionDigits counts the digits after the decimal point of s.
func fractionDigits(s string) int32 {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return int32(len(s) - i - 1)
}

func (t *Trade) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s,%s", t.id, t.PriceString(), t.VolumeString(), t.CostString(), t.buy, t.sell)
}
