// Package feeder drives a book with synthetic order flow for demos and
// load tests.
package feeder

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

// Submitter is the part of the book the feeder drives.
type Submitter interface {
	Submit(ctx context.Context, a orderbook.Action) ([]orderbook.Event, error)
}

// Config controls action generation rate
type Config struct {
	BatchSize  int           // Number of actions to generate per batch
	Interval   time.Duration // How often to generate batches
	NumOwners  int           // Number of simulated traders
	MidPrice   decimal.Decimal
	SpreadBps  int64
	Seed       int64
	StatsEvery time.Duration
}

// DefaultConfig returns reasonable defaults for demos (100 actions/sec)
func DefaultConfig() Config {
	return Config{
		BatchSize:  10,
		Interval:   100 * time.Millisecond,
		NumOwners:  50,
		MidPrice:   decimal.NewFromInt(50000),
		SpreadBps:  50,
		Seed:       time.Now().UnixNano(),
		StatsEvery: 10 * time.Second,
	}
}

// HighLoadConfig returns config for stress testing (10k actions/sec)
func HighLoadConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.Interval = 10 * time.Millisecond
	cfg.NumOwners = 500
	return cfg
}

// ConfigForMode maps FEEDER_MODE values to presets; unknown modes get the default.
func ConfigForMode(mode string) Config {
	if mode == "high" {
		return HighLoadConfig()
	}
	return DefaultConfig()
}

// Start runs the feeder in a background goroutine until ctx is done or the
// returned cancel function is called.
func Start(ctx context.Context, book Submitter, cfg Config, logger *zap.SugaredLogger, opts ...order.Option) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)
	go Run(feedCtx, book, cfg, logger, opts...)
	return cancel
}

// Run feeds the book until ctx is done.
func Run(ctx context.Context, book Submitter, cfg Config, logger *zap.SugaredLogger, opts ...order.Option) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = 10 * time.Second
	}
	gen := NewGenerator(cfg.NumOwners, cfg.MidPrice, cfg.SpreadBps, cfg.Seed, opts...)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(cfg.StatsEvery)
	defer statsTicker.Stop()

	startTime := time.Now()
	var submitted, trades, rejected int

	logger.Infow("feeder_started",
		"batch", cfg.BatchSize,
		"interval", cfg.Interval,
		"owners", cfg.NumOwners,
		"mid", cfg.MidPrice.String())

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			logger.Infow("feeder_stopped",
				"submitted", submitted,
				"trades", trades,
				"rejected", rejected,
				"elapsed", elapsed.Round(time.Second))
			return

		case <-statsTicker.C:
			stats := gen.GetStats(time.Since(startTime))
			logger.Infow("feeder_stats",
				"posts", stats.TotalPosts,
				"cancels", stats.TotalCancels,
				"posts_per_sec", stats.PostsPerSec,
				"trades", trades,
				"rejected", rejected)

		case <-ticker.C:
			batch, err := gen.GenerateBatch(cfg.BatchSize)
			if err != nil {
				logger.Errorw("feeder_generate_failed", "err", err)
			}
			for _, a := range batch {
				events, err := book.Submit(ctx, a)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						break
					}
					rejected++
					continue
				}
				submitted++
				for _, e := range events {
					if e.Type == orderbook.TradeExecuted {
						trades++
					}
				}
			}
		}
	}
}
