// Package metrics exposes Prometheus metrics for one order book.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
)

const namespace = "limitbook"

// Collector counts announcements as a book Listener and records submit
// outcomes reported by callers. It owns its registry.
type Collector struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	tradedVolume   prometheus.Counter
	tradedCost     prometheus.Counter
	submitErrors   *prometheus.CounterVec
	submitDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "book",
				Name:      "events_total",
				Help:      "Announcements emitted by the book",
			},
			[]string{"type"},
		),
		tradedVolume: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "book",
				Name:      "traded_volume_total",
				Help:      "Sum of executed trade volume",
			},
		),
		tradedCost: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "book",
				Name:      "traded_cost_total",
				Help:      "Sum of executed trade cost",
			},
		),
		submitErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "book",
				Name:      "submit_errors_total",
				Help:      "Rejected submits by reason",
			},
			[]string{"reason"},
		),
		submitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "book",
				Name:      "submit_duration_seconds",
				Help:      "Time spent in Submit including the lock wait",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
			},
		),
	}
}

func (c *Collector) Announce(e orderbook.Event) {
	c.events.WithLabelValues(e.Type.String()).Inc()
	if e.Type == orderbook.TradeExecuted && e.Trade != nil {
		c.tradedVolume.Add(e.Trade.Volume().InexactFloat64())
		c.tradedCost.Add(e.Trade.Cost().InexactFloat64())
	}
}

// ObserveSubmit records one Submit call that started at start and returned err.
func (c *Collector) ObserveSubmit(start time.Time, err error) {
	c.submitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.submitErrors.WithLabelValues(Reason(err)).Inc()
	}
}

// Reason maps a submit error to a low-cardinality label.
func Reason(err error) string {
	switch {
	case errors.Is(err, orderbook.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, orderbook.ErrDuplicateOrder):
		return "duplicate_order"
	case errors.Is(err, orderbook.ErrUnrecognizedAction):
		return "unrecognized_action"
	case errors.Is(err, order.ErrInvalidOrder):
		return "invalid_order"
	default:
		return "other"
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var _ orderbook.Listener = (*Collector)(nil)
