package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope carries one payload to an observer.
type Envelope struct {
	Seq     int64           `json:"seq"`
	Type    Kind            `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Seal wraps a payload with its sequence number and simulation time.
func Seal(seq int64, at time.Time, p Payload) (Envelope, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("seal %s: %w", p.Kind(), err)
	}
	return Envelope{Seq: seq, Type: p.Kind(), At: at.UTC(), Payload: body}, nil
}

// Open decodes the payload according to the envelope type.
func (e Envelope) Open() (Payload, error) {
	var p Payload
	switch e.Type {
	case KindWelcomeSnapshot:
		p = &WelcomeSnapshot{}
	case KindOrderCreated:
		p = &OrderCreated{}
	case KindOrderStatusChanged:
		p = &OrderStatusChanged{}
	case KindCustomerArrived:
		p = &CustomerArrived{}
	case KindCustomerStateChanged:
		p = &CustomerStateChanged{}
	case KindCustomerDeparted:
		p = &CustomerDeparted{}
	case KindCustomerRemoved:
		p = &CustomerRemoved{}
	default:
		return nil, fmt.Errorf("unknown message type %q", e.Type)
	}
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("open %s (seq %d): %w", e.Type, e.Seq, err)
	}
	return deref(p), nil
}

// deref returns payload values rather than pointers so callers can switch
// on concrete types.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *WelcomeSnapshot:
		return *v
	case *OrderCreated:
		return *v
	case *OrderStatusChanged:
		return *v
	case *CustomerArrived:
		return *v
	case *CustomerStateChanged:
		return *v
	case *CustomerDeparted:
		return *v
	case *CustomerRemoved:
		return *v
	}
	return p
}
