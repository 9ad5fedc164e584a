package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/limitbook/pkg/app/core/trade"
	"github.com/uhyunpark/limitbook/pkg/ident"
	"github.com/uhyunpark/limitbook/pkg/util"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mustOrder(t *testing.T, id, side, price, volume string) *Order {
	t.Helper()
	o, err := New(Params{
		ID:     id,
		Side:   side,
		Price:  decimal.RequireFromString(price),
		Volume: decimal.RequireFromString(volume),
	}, WithClock(util.FixedClock{T: t0}))
	require.NoError(t, err)
	return o
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"unknown side", Params{Side: "HOLD", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)}},
		{"empty side", Params{Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)}},
		{"negative price", Params{Side: "BUY", Price: decimal.NewFromInt(-1), Volume: decimal.NewFromInt(1)}},
		{"negative volume", Params{Side: "SELL", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.params)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestNewNormalizesSide(t *testing.T) {
	o, err := New(Params{Side: " buy ", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, Buy, o.Side())
	assert.Equal(t, Sell, o.Side().Opposite())
	assert.NotNil(t, o.Meta())
}

func TestOpenTime(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		open := t0.Add(-time.Hour)
		o, err := New(Params{Side: "BUY", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1), Open: open},
			WithClock(util.FixedClock{T: t0}))
		require.NoError(t, err)
		assert.True(t, o.OpenTime().Equal(open))
	})

	t.Run("from uuid v1", func(t *testing.T) {
		before := time.Now().Add(-time.Second)
		o, err := New(Params{Side: "BUY", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)},
			WithClock(util.FixedClock{T: t0}))
		require.NoError(t, err)
		embedded, ok := ident.TimeOf(o.ID())
		require.True(t, ok)
		assert.True(t, o.OpenTime().Equal(embedded))
		assert.True(t, o.OpenTime().After(before))
	})

	t.Run("from clock", func(t *testing.T) {
		o, err := New(Params{Side: "BUY", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)},
			WithClock(util.FixedClock{T: t0}), WithGenerator(ident.NewSequencer(0)))
		require.NoError(t, err)
		assert.Equal(t, "1", o.ID())
		assert.True(t, o.OpenTime().Equal(t0))
	})
}

func TestNewNull(t *testing.T) {
	o, err := NewNull(Sell)
	require.NoError(t, err)
	assert.Equal(t, "0.00000000", o.PriceString())
	assert.Equal(t, "0.00000000", o.VolumeString())
	assert.Equal(t, Sell, o.Side())
	assert.False(t, o.HasVolume())

	_, err = NewNull("")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestCompare(t *testing.T) {
	a := mustOrder(t, "a", "SELL", "100", "1")
	b := mustOrder(t, "b", "SELL", "101", "1")
	c := mustOrder(t, "c", "SELL", "100", "1")
	a.SetSeq(1)
	b.SetSeq(2)
	c.SetSeq(3)

	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, 0, a.Compare(a.Clone()), "identity is the id")
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, -1, a.Compare(b))

	// equal price: acceptance order
	assert.Equal(t, -1, a.Compare(c))
	assert.Equal(t, 1, c.Compare(a))

	// bids reverse only the equal-price rule
	assert.Equal(t, 1, b.CompareBid(a))
	assert.Equal(t, 1, a.CompareBid(c))
	assert.Equal(t, -1, c.CompareBid(a))
	assert.Equal(t, 0, CompareBids(a, a))
	assert.Equal(t, -1, Compare(a, c))
}

func TestHelpers(t *testing.T) {
	small := mustOrder(t, "s", "BUY", "10", "1")
	big := mustOrder(t, "b", "BUY", "20", "2")

	assert.True(t, big.IsHigherThan(small))
	assert.True(t, small.IsLowerThan(big))
	assert.True(t, big.IsLargerThan(small))
	assert.True(t, small.IsSmallerThan(big))
	assert.False(t, small.SamePrice(big))
	assert.True(t, small.SamePrice(small.Clone()))

	older, err := New(Params{Side: "BUY", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1), Open: t0})
	require.NoError(t, err)
	younger, err := New(Params{Side: "BUY", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1), Open: t0.Add(time.Millisecond)})
	require.NoError(t, err)
	assert.True(t, older.IsOlderThan(younger))
	assert.True(t, younger.IsYoungerThan(older))

	assert.Equal(t, "b|BUY|20.00000000|2.00000000", big.String())
	assert.Equal(t, "40.00000000", big.CostString())
}

func TestCanClash(t *testing.T) {
	tests := []struct {
		name    string
		resting *Order
		other   *Order
		want    bool
	}{
		{"buy crosses sell", mustOrder(t, "s", "SELL", "100", "1"), mustOrder(t, "b", "BUY", "101", "1"), true},
		{"buy touches sell", mustOrder(t, "s", "SELL", "100", "1"), mustOrder(t, "b", "BUY", "100", "1"), true},
		{"buy below sell", mustOrder(t, "s", "SELL", "100", "1"), mustOrder(t, "b", "BUY", "99", "1"), false},
		{"sell crosses buy", mustOrder(t, "b", "BUY", "100", "1"), mustOrder(t, "s", "SELL", "99", "1"), true},
		{"sell above buy", mustOrder(t, "b", "BUY", "100", "1"), mustOrder(t, "s", "SELL", "101", "1"), false},
		{"same side", mustOrder(t, "b1", "BUY", "100", "1"), mustOrder(t, "b2", "BUY", "100", "1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resting.CanClash(tt.other))
		})
	}
}

func TestClash(t *testing.T) {
	t.Run("incoming buy smaller than resting sell", func(t *testing.T) {
		resting := mustOrder(t, "s1", "SELL", "100", "10")
		incoming := mustOrder(t, "b1", "BUY", "105", "4")

		tr, ok := resting.Clash(incoming)
		require.True(t, ok)
		assert.Equal(t, "4.00000000", tr.VolumeString())
		assert.Equal(t, "100.00000000", tr.PriceString(), "resting price wins")
		assert.Equal(t, "400.00000000", tr.CostString())
		assert.Equal(t, "b1", tr.Buy())
		assert.Equal(t, "s1", tr.Sell())

		assert.Equal(t, "6.00000000", resting.VolumeString())
		assert.False(t, incoming.HasVolume())
	})

	t.Run("incoming sell larger than resting buy", func(t *testing.T) {
		resting := mustOrder(t, "b1", "BUY", "100", "2")
		incoming := mustOrder(t, "s1", "SELL", "95", "3")

		tr, ok := resting.Clash(incoming)
		require.True(t, ok)
		assert.True(t, tr.Volume().Equal(decimal.NewFromInt(2)))
		assert.True(t, tr.Price().Equal(decimal.NewFromInt(100)))
		assert.Equal(t, "b1", tr.Buy())
		assert.Equal(t, "s1", tr.Sell())
		assert.False(t, resting.HasVolume())
		assert.Equal(t, "1.00000000", incoming.VolumeString())
	})

	t.Run("no cross leaves both untouched", func(t *testing.T) {
		resting := mustOrder(t, "s1", "SELL", "100", "1")
		incoming := mustOrder(t, "b1", "BUY", "99", "1")

		_, ok := resting.Clash(incoming)
		assert.False(t, ok)
		assert.Equal(t, "1.00000000", resting.VolumeString())
		assert.Equal(t, "1.00000000", incoming.VolumeString())
	})

	t.Run("exhausted order does not trade", func(t *testing.T) {
		resting := mustOrder(t, "s1", "SELL", "100", "0")
		incoming := mustOrder(t, "b1", "BUY", "100", "1")

		_, ok := resting.Clash(incoming)
		assert.False(t, ok)
		assert.Equal(t, "1.00000000", incoming.VolumeString())
	})
	t.Run("trade precision follows the caller", func(t *testing.T) {
		resting := mustOrder(t, "s1", "SELL", "1.5", "2")
		incoming := mustOrder(t, "b1", "BUY", "1.5", "2")

		tr, ok := resting.ClashWith(incoming, trade.Decimals{Price: 2, Volume: 3})
		require.True(t, ok)
		assert.Equal(t, "1.50", tr.PriceString())
		assert.Equal(t, "2.000", tr.VolumeString())
		assert.Equal(t, "3.00", tr.CostString())
	})
}

func TestCloneIsDetached(t *testing.T) {
	o := mustOrder(t, "x", "SELL", "100", "10")
	o.Meta()["k"] = "v"
	cp := o.Clone()

	o.fill(decimal.NewFromInt(3))
	o.Meta()["k"] = "changed"

	assert.Equal(t, "10.00000000", cp.VolumeString())
	assert.Equal(t, "v", cp.Meta()["k"])
}

func TestFillRefusesOverdraw(t *testing.T) {
	o := mustOrder(t, "x", "SELL", "100", "1")
	assert.False(t, o.fill(decimal.NewFromInt(2)))
	assert.Equal(t, "1.00000000", o.VolumeString())
	assert.True(t, o.fill(decimal.NewFromInt(1)))
	assert.False(t, o.HasVolume())
}

func TestJSON(t *testing.T) {
	o, err := New(Params{
		ID:     "abc",
		Side:   "BUY",
		Price:  decimal.RequireFromString("100.5"),
		Volume: decimal.RequireFromString("2"),
		Meta:   map[string]any{"tag": "x"},
		Open:   time.UnixMilli(1700000000123),
	})
	require.NoError(t, err)

	b, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "abc",
		"side": "BUY",
		"price": "100.50000000",
		"volume": "2.00000000",
		"meta": {"tag": "x"},
		"open": 1700000000123
	}`, string(b))

	var back Order
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, o.ID(), back.ID())
	assert.Equal(t, o.Side(), back.Side())
	assert.True(t, o.Price().Equal(back.Price()))
	assert.True(t, o.Volume().Equal(back.Volume()))
	assert.True(t, o.OpenTime().Equal(back.OpenTime()))
	assert.Equal(t, "x", back.Meta()["tag"])
}

func TestDecodeParamsAcceptsNumbers(t *testing.T) {
	p, err := DecodeParams([]byte(`{"side":"sell","price":99.25,"volume":"0.5","owner":"0xabc"}`))
	require.NoError(t, err)
	assert.Equal(t, "sell", p.Side)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("99.25")))
	assert.True(t, p.Volume.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "0xabc", p.Owner)
	assert.True(t, p.Open.IsZero())

	_, err = DecodeParams([]byte(`{"price":"not a number"}`))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
