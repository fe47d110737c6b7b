package wire

import (
	"github.com/roach88/cafesync/internal/fault"
)

// IntentKind names an action a participant asks the authority to perform.
type IntentKind string

const (
	IntentTakeOrder      IntentKind = "take_order"
	IntentSubmitOrder    IntentKind = "submit_order"
	IntentStartPreparing IntentKind = "start_preparing"
	IntentCompleteOrder  IntentKind = "complete_order"
	IntentCancelOrder    IntentKind = "cancel_order"
	IntentReachedSeat    IntentKind = "reached_seat"
	IntentReachedExit    IntentKind = "reached_exit"
)

// IntentKinds lists every intent the authority understands.
func IntentKinds() []IntentKind {
	return []IntentKind{
		IntentTakeOrder, IntentSubmitOrder, IntentStartPreparing,
		IntentCompleteOrder, IntentCancelOrder, IntentReachedSeat, IntentReachedExit,
	}
}

// IntentLine is one requested line of a submitted order.
type IntentLine struct {
	MenuItemID     int      `json:"menuItemId"`
	Quantity       int      `json:"quantity"`
	Customizations []string `json:"customizations,omitempty"`
}

// Intent is a request from a participant.
type Intent struct {
	Kind        IntentKind   `json:"kind"`
	RequesterID string       `json:"requesterId"`
	SessionID   string       `json:"sessionId,omitempty"`
	OrderID     int64        `json:"orderId,omitempty"`
	LineItems   []IntentLine `json:"lineItems,omitempty"`
}

// Check performs the schema checks that need no simulation state.
func (i Intent) Check() error {
	if i.RequesterID == "" {
		return fault.Validation("intent has no requester identity")
	}

	switch i.Kind {
	case IntentTakeOrder, IntentReachedSeat, IntentReachedExit:
		if i.SessionID == "" {
			return fault.Validation("%s requires sessionId", i.Kind)
		}
	case IntentStartPreparing, IntentCompleteOrder, IntentCancelOrder:
		if i.OrderID <= 0 {
			return fault.Validation("%s requires a positive orderId", i.Kind)
		}
	case IntentSubmitOrder:
		if i.SessionID == "" {
			return fault.Validation("%s requires sessionId", i.Kind)
		}
		if len(i.LineItems) == 0 {
			return fault.Validation("%s requires at least one line item", i.Kind)
		}
		for _, l := range i.LineItems {
			if l.Quantity <= 0 {
				return fault.Validation("quantity for item %d must be positive, got %d", l.MenuItemID, l.Quantity)
			}
		}
	default:
		return fault.Validation("unknown intent kind %q", i.Kind)
	}
	return nil
}

// IntentResult answers an intent.
type IntentResult struct {
	Accepted bool       `json:"accepted"`
	Code     fault.Code `json:"code,omitempty"`
	Message  string     `json:"message,omitempty"`
	OrderID  int64      `json:"orderId,omitempty"`

	// Seq is the sequence number of the last delta the intent produced.
	Seq int64 `json:"seq,omitempty"`
}

// Accept builds a successful result.
func Accept(orderID, seq int64) IntentResult {
	return IntentResult{Accepted: true, OrderID: orderID, Seq: seq}
}

// Reject builds a result from an error.
func Reject(err error) IntentResult {
	code := fault.CodeOf(err)
	if code == "" {
		code = fault.CodeValidation
	}
	return IntentResult{Code: code, Message: err.Error()}
}
