package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/limitbook/params"
	"github.com/uhyunpark/limitbook/pkg/api"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/app/feeder"
	"github.com/uhyunpark/limitbook/pkg/broadcast"
	"github.com/uhyunpark/limitbook/pkg/metrics"
	"github.com/uhyunpark/limitbook/pkg/storage"
	"github.com/uhyunpark/limitbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, closeLog, err := util.NewLoggerWithFile(cfg.Node.LogFile, util.ParseLevel(cfg.Node.LogLevel))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Journal ----
	var store storage.Store
	if cfg.Node.DataDir != "" {
		ps, err := storage.NewPebbleStore(cfg.Node.DataDir + "/journal")
		if err != nil {
			sugar.Fatalw("journal_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}
	defer store.Close()

	listeners := orderbook.Listeners{storage.NewJournal(store, sugar.Named("journal"))}

	if cfg.Node.EventLog != "" {
		wal, err := storage.NewFileWAL(cfg.Node.EventLog, sugar.Named("event_log"))
		if err != nil {
			sugar.Fatalw("event_log_open_failed", "path", cfg.Node.EventLog, "err", err)
		}
		defer wal.Close()
		listeners = append(listeners, wal)
	}

	collector := metrics.NewCollector()
	listeners = append(listeners, collector)

	g, gctx := errgroup.WithContext(ctx)

	// ---- Kafka (optional) ----
	if len(cfg.Node.KafkaBrokers) > 0 {
		pub := broadcast.NewPublisher(
			broadcast.NewKafkaWriter(cfg.Node.KafkaBrokers, cfg.Node.KafkaTopic),
			broadcast.WithLogger(sugar.Named("kafka")),
		)
		defer pub.Close()
		listeners = append(listeners, pub)
		g.Go(func() error {
			return ignoreCanceled(pub.Run(gctx))
		})
		sugar.Infow("kafka_enabled", "brokers", cfg.Node.KafkaBrokers, "topic", cfg.Node.KafkaTopic)
	}

	// ---- Book ----
	// The API server is a listener too, so the book is built against a
	// forwarding slot filled once the server exists.
	var apiServer *api.Server
	book := orderbook.New(cfg.Book,
		orderbook.WithLogger(sugar.Named("book")),
		orderbook.WithListener(append(listeners, orderbook.ListenerFunc(func(e orderbook.Event) {
			apiServer.Announce(e)
		}))),
	)

	apiServer = api.NewServer(book,
		api.WithStore(store),
		api.WithMetrics(collector),
		api.WithLogger(sugar.Named("api")),
	)

	g.Go(func() error {
		err := apiServer.Start(gctx, cfg.Node.APIAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// ---- Order Feeder (optional) ----
	// Enable with: ENABLE_FEEDER=true FEEDER_MODE=default|high
	if cfg.Node.EnableFeeder {
		fcfg := feeder.ConfigForMode(cfg.Node.FeederMode)
		sugar.Infow("feeder_enabled", "mode", cfg.Node.FeederMode, "batch", fcfg.BatchSize, "interval", fcfg.Interval)
		g.Go(func() error {
			feeder.Run(gctx, book, fcfg, sugar.Named("feeder"), book.OrderOptions()...)
			return nil
		})
	} else {
		sugar.Info("feeder_disabled")
	}

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"data_dir", cfg.Node.DataDir,
		"max_lock_wait_ms", cfg.Book.MaxLockWait.Milliseconds(),
		"max_orders_per_side", cfg.Book.MaxOrdersPerSide)

	if err := g.Wait(); err != nil {
		sugar.Errorw("node_stopped", "err", err)
		return
	}
	sugar.Info("node_stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
