package orderbook

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/limitbook/pkg/app/core/order"
)

// Action is a submit request: PostAction or CancelAction.
type Action interface {
	isAction()
}

type PostAction struct {
	Order *order.Order
}

type CancelAction struct {
	ID string
}

func (PostAction) isAction()   {}
func (CancelAction) isAction() {}

// DecodeAction parses a raw JSON envelope:
//
//	{"type": "post", "order": {...}}
//	{"type": "cancel", "id": "..."}
//
// Any other type is rejected with ErrUnrecognizedAction.
func DecodeAction(b []byte, opts ...order.Option) (Action, error) {
	var env struct {
		Type  string          `json:"type"`
		Order json.RawMessage `json:"order"`
		ID    string          `json:"id"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedAction, err)
	}

	switch env.Type {
	case "post":
		if len(env.Order) == 0 {
			return nil, fmt.Errorf("%w: post without order", order.ErrInvalidOrder)
		}
		p, err := order.DecodeParams(env.Order)
		if err != nil {
			return nil, err
		}
		o, err := order.New(p, opts...)
		if err != nil {
			return nil, err
		}
		return PostAction{Order: o}, nil
	case "cancel":
		if env.ID == "" {
			return nil, fmt.Errorf("%w: cancel without id", ErrUnrecognizedAction)
		}
		return CancelAction{ID: env.ID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedAction, env.Type)
	}
}
