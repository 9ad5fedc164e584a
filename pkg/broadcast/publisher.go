// Package broadcast forwards book announcements to Kafka.
package broadcast

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

const (
	defaultQueueSize = 4096
	defaultBatchSize = 100
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer keyed by event subject, so
// every event about one order lands on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

type Option func(*Publisher)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Publisher) { p.logger = l }
}

func WithQueueSize(n int) Option {
	return func(p *Publisher) { p.queueSize = n }
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) { p.batchSize = n }
}

// Publisher is a book Listener. Announce only enqueues; Run does the I/O.
// When the queue is full the event is dropped and counted.
type Publisher struct {
	writer    MessageWriter
	logger    *zap.SugaredLogger
	queueSize int
	batchSize int

	queue   chan kafka.Message
	dropped atomic.Uint64
}

func NewPublisher(w MessageWriter, opts ...Option) *Publisher {
	p := &Publisher{
		writer:    w,
		logger:    zap.NewNop().Sugar(),
		queueSize: defaultQueueSize,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan kafka.Message, p.queueSize)
	return p
}

// Encode turns an event into its Kafka message.
func Encode(e orderbook.Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(e.Key()),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(e.Type.String())}},
	}, nil
}

func (p *Publisher) Announce(e orderbook.Event) {
	msg, err := Encode(e)
	if err != nil {
		p.logger.Errorw("kafka_encode_failed", "event", e.Type.String(), "key", e.Key(), "err", err)
		return
	}
	select {
	case p.queue <- msg:
	default:
		if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
			p.logger.Warnw("kafka_queue_full", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Run writes queued messages in batches until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	batch := make([]kafka.Message, 0, p.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-p.queue:
			batch = append(batch[:0], m)
		drain:
			for len(batch) < p.batchSize {
				select {
				case m := <-p.queue:
					batch = append(batch, m)
				default:
					break drain
				}
			}
			if err := p.writer.WriteMessages(ctx, batch...); err != nil {
				p.logger.Warnw("kafka_publish_failed", "messages", len(batch), "err", err)
			}
		}
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ orderbook.Listener = (*Publisher)(nil)
