package feeder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/limitbook/params"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

func TestGeneratorOrders(t *testing.T) {
	mid := decimal.NewFromInt(50000)
	g := NewGenerator(5, mid, 50, 1)
	low := mid.Mul(decimal.RequireFromString("0.995"))
	high := mid.Mul(decimal.RequireFromString("1.005"))

	for i := 0; i < 500; i++ {
		a, err := g.GenerateOrder()
		require.NoError(t, err)
		p, ok := a.(orderbook.PostAction)
		require.True(t, ok)

		o := p.Order
		assert.True(t, o.Price().GreaterThanOrEqual(low), "price %s", o.Price())
		assert.True(t, o.Price().LessThanOrEqual(high), "price %s", o.Price())
		assert.True(t, o.HasVolume())
		assert.True(t, o.Volume().LessThanOrEqual(decimal.NewFromInt(1)))
		assert.True(t, common.IsHexAddress(o.Owner()))
		assert.Equal(t, "feeder", o.Meta()["source"])
	}
	assert.Equal(t, 500, g.GetStats(time.Second).TotalPosts)
}

func TestGeneratorCancelsRecentOrders(t *testing.T) {
	g := NewGenerator(1, decimal.NewFromInt(100), 10, 2)
	_, ok := g.GenerateCancel()
	assert.False(t, ok, "nothing to cancel yet")

	generated := map[string]bool{}
	for i := 0; i < 150; i++ {
		a, err := g.GenerateOrder()
		require.NoError(t, err)
		generated[a.(orderbook.PostAction).Order.ID()] = true
	}
	assert.Len(t, g.recent, recentWindow)

	for i := 0; i < 50; i++ {
		a, ok := g.GenerateCancel()
		require.True(t, ok)
		c := a.(orderbook.CancelAction)
		assert.True(t, generated[c.ID])
	}
}

func TestGenerateBatchMix(t *testing.T) {
	g := NewGenerator(3, decimal.NewFromInt(100), 10, 3)
	batch, err := g.GenerateBatch(1000)
	require.NoError(t, err)
	require.Len(t, batch, 1000)

	var posts, cancels int
	for _, a := range batch {
		switch a.(type) {
		case orderbook.PostAction:
			posts++
		case orderbook.CancelAction:
			cancels++
		}
	}
	assert.Greater(t, posts, 800)
	assert.Greater(t, cancels, 0)
}

type countingBook struct {
	mu      sync.Mutex
	book    *orderbook.Book
	actions int
}

func (c *countingBook) Submit(ctx context.Context, a orderbook.Action) ([]orderbook.Event, error) {
	c.mu.Lock()
	c.actions++
	c.mu.Unlock()
	return c.book.Submit(ctx, a)
}

func (c *countingBook) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions
}

func TestRunFeedsBook(t *testing.T) {
	book := orderbook.New(params.DefaultBook())
	cb := &countingBook{book: book}

	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.Seed = 4
	cancel := Start(context.Background(), cb, cfg, nil, book.OrderOptions()...)
	defer cancel()

	require.Eventually(t, func() bool { return cb.count() >= 100 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	// a generated book never rests crossed orders
	top := book.Top()
	bid := decimal.RequireFromString(top.Buy.Price)
	ask := decimal.RequireFromString(top.Sell.Price)
	if bid.IsPositive() && ask.IsPositive() {
		assert.True(t, bid.LessThan(ask), "bid %s ask %s", bid, ask)
	}
}

func TestConfigForMode(t *testing.T) {
	assert.Equal(t, 100, ConfigForMode("high").BatchSize)
	assert.Equal(t, 10, ConfigForMode("default").BatchSize)
	assert.Equal(t, 10, ConfigForMode("unknown").BatchSize)
}
