package orderbook

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/trade"
)

type EventType int

const (
	OrderFilled EventType = iota
	OrderPartiallyFilled
	OrderPosted
	OrderCancel
	TradeExecuted
)

var eventNames = [...]string{
	OrderFilled:          "order-filled",
	OrderPartiallyFilled: "order-partially-filled",
	OrderPosted:          "order-posted",
	OrderCancel:          "order-cancel",
	TradeExecuted:        "trade-executed",
}

func (t EventType) String() string {
	if int(t) < 0 || int(t) >= len(eventNames) {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventNames[t]
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	for i, name := range eventNames {
		if name == s {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Event is one announcement. Order is set for order events and Trade for
// TradeExecuted. Orders are detached copies taken when the event was built.
type Event struct {
	Type  EventType
	Order *order.Order
	Trade *trade.Trade
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  EventType    `json:"type"`
		Order *order.Order `json:"order,omitempty"`
		Trade *trade.Trade `json:"trade,omitempty"`
	}{e.Type, e.Order, e.Trade})
}

// Key identifies the subject of the event.
func (e Event) Key() string {
	if e.Trade != nil {
		return e.Trade.ID()
	}
	if e.Order != nil {
		return e.Order.ID()
	}
	return ""
}

// Listener receives announcements. Announce is called while the book still
// holds its submit lock, so implementations must not submit to the same
// book and should hand slow work off to another goroutine.
type Listener interface {
	Announce(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) Announce(e Event) { f(e) }

// Listeners fans one announcement out to several listeners in order.
type Listeners []Listener

func (ls Listeners) Announce(e Event) {
	for _, l := range ls {
		l.Announce(e)
	}
}

type nopListener struct{}

func (nopListener) Announce(Event) {}

// outcome collects what one submit did, in announcement buckets.
type outcome struct {
	filled          []*order.Order
	partiallyFilled []*order.Order
	posted          []*order.Order
	cancelled       []*order.Order
	trades          []*trade.Trade
}

// events flattens the outcome in announcement order: filled, partially
// filled, posted, cancelled, trades.
func (o *outcome) events() []Event {
	n := len(o.filled) + len(o.partiallyFilled) + len(o.posted) + len(o.cancelled) + len(o.trades)
	out := make([]Event, 0, n)
	for _, x := range o.filled {
		out = append(out, Event{Type: OrderFilled, Order: x.Clone()})
	}
	for _, x := range o.partiallyFilled {
		out = append(out, Event{Type: OrderPartiallyFilled, Order: x.Clone()})
	}
	for _, x := range o.posted {
		out = append(out, Event{Type: OrderPosted, Order: x.Clone()})
	}
	for _, x := range o.cancelled {
		out = append(out, Event{Type: OrderCancel, Order: x.Clone()})
	}
	for _, t := range o.trades {
		out = append(out, Event{Type: TradeExecuted, Trade: t})
	}
	return out
}
