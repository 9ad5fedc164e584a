package feeder

import (
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/ident"
)

// recentWindow is how many generated ids a cancel may target.
const recentWindow = 100

// Generator creates random post and cancel actions around a mid price
type Generator struct {
	owners    []string // simulated trader addresses
	mid       decimal.Decimal
	spreadBps int64
	opts      []order.Option
	ids       ident.Generator
	rng       *rand.Rand

	recent  []string // ring of recently generated order ids
	next    int
	posts   int
	cancels int
}

// NewGenerator creates a generator with numOwners simulated traders. Prices
// fall within ±spreadBps basis points of mid.
func NewGenerator(numOwners int, mid decimal.Decimal, spreadBps int64, seed int64, opts ...order.Option) *Generator {
	rng := rand.New(rand.NewSource(seed))
	owners := make([]string, max(numOwners, 1))
	for i := range owners {
		var b [common.AddressLength]byte
		rng.Read(b[:])
		owners[i] = common.BytesToAddress(b[:]).Hex()
	}

	return &Generator{
		owners:    owners,
		mid:       mid,
		spreadBps: max(spreadBps, 1),
		opts:      opts,
		ids:       ident.UUID{},
		rng:       rng,
		recent:    make([]string, 0, recentWindow),
	}
}

// GenerateOrder creates a random post action
func (g *Generator) GenerateOrder() (orderbook.Action, error) {
	side := order.Buy
	if g.rng.Intn(2) == 1 {
		side = order.Sell
	}

	// mid × (1 + offset/10000), offset in [-spreadBps, +spreadBps], two decimals
	offset := g.rng.Int63n(2*g.spreadBps+1) - g.spreadBps
	price := g.mid.Mul(decimal.New(10000+offset, -4)).Round(2)
	if !price.IsPositive() {
		price = decimal.New(1, -2)
	}
	// 0.001 to 1.000
	volume := decimal.New(g.rng.Int63n(1000)+1, -3)

	o, err := order.New(order.Params{
		ID:     g.ids.NewID(),
		Side:   string(side),
		Price:  price,
		Volume: volume,
		Owner:  g.owners[g.rng.Intn(len(g.owners))],
		Meta:   map[string]any{"source": "feeder"},
	}, g.opts...)
	if err != nil {
		return nil, err
	}

	g.remember(o.ID())
	g.posts++
	return orderbook.PostAction{Order: o}, nil
}

// GenerateCancel targets one of the last generated orders. The order may
// already be gone, in which case the book treats the cancel as a no-op.
func (g *Generator) GenerateCancel() (orderbook.Action, bool) {
	if len(g.recent) == 0 {
		return nil, false
	}
	g.cancels++
	return orderbook.CancelAction{ID: g.recent[g.rng.Intn(len(g.recent))]}, true
}

// GenerateMix creates a random action (90% posts, 10% cancels)
func (g *Generator) GenerateMix() (orderbook.Action, error) {
	if g.rng.Intn(100) >= 90 {
		if a, ok := g.GenerateCancel(); ok {
			return a, nil
		}
	}
	return g.GenerateOrder()
}

// GenerateBatch creates count random actions
func (g *Generator) GenerateBatch(count int) ([]orderbook.Action, error) {
	batch := make([]orderbook.Action, 0, count)
	for i := 0; i < count; i++ {
		a, err := g.GenerateMix()
		if err != nil {
			return batch, err
		}
		batch = append(batch, a)
	}
	return batch, nil
}

func (g *Generator) remember(id string) {
	if len(g.recent) < recentWindow {
		g.recent = append(g.recent, id)
		return
	}
	g.recent[g.next] = id
	g.next = (g.next + 1) % recentWindow
}

// Stats for load testing analysis
type Stats struct {
	TotalPosts    int
	TotalCancels  int
	PostsPerSec   float64
	CancelsPerSec float64
}

// GetStats returns current generation statistics
func (g *Generator) GetStats(elapsed time.Duration) Stats {
	seconds := elapsed.Seconds()
	if seconds == 0 {
		seconds = 1
	}

	return Stats{
		TotalPosts:    g.posts,
		TotalCancels:  g.cancels,
		PostsPerSec:   float64(g.posts) / seconds,
		CancelsPerSec: float64(g.cancels) / seconds,
	}
}
