package wire

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/order"
)

// Kind names a message type.
type Kind string

const (
	KindWelcomeSnapshot      Kind = "WelcomeSnapshot"
	KindOrderCreated         Kind = "OrderCreated"
	KindOrderStatusChanged   Kind = "OrderStatusChanged"
	KindCustomerArrived      Kind = "CustomerArrived"
	KindCustomerStateChanged Kind = "CustomerStateChanged"
	KindCustomerDeparted     Kind = "CustomerDeparted"
	KindCustomerRemoved      Kind = "CustomerRemoved"
)

// Payload is the body of an envelope.
type Payload interface {
	Kind() Kind
}

// OrderView is an order as observers see it.
type OrderView struct {
	OrderID    int64            `json:"orderId"`
	SessionID  string           `json:"sessionId"`
	TakenBy    string           `json:"takenBy,omitempty"`
	Status     order.Status     `json:"status"`
	LineItems  []order.LineItem `json:"lineItems"`
	Total      decimal.Decimal  `json:"total"`
	CreatedAt  time.Time        `json:"createdAt"`
	DeadlineAt time.Time        `json:"deadlineAt"`
}

// CustomerView is a customer as observers see it.
type CustomerView struct {
	SessionID   string          `json:"sessionId"`
	DisplayName string          `json:"displayName"`
	State       customer.State  `json:"state"`
	Patience    float64         `json:"patience"`
	SeatID      string          `json:"seatId,omitempty"`
	OrderID     int64           `json:"orderId,omitempty"`
	Angry       bool            `json:"angry,omitempty"`
	Reason      customer.Reason `json:"reason,omitempty"`
}

// ViewOrder converts an order to its observer view.
func ViewOrder(o *order.Order) OrderView {
	lines := make([]order.LineItem, len(o.Items))
	copy(lines, o.Items)
	return OrderView{
		OrderID:    o.ID,
		SessionID:  o.OwnerSessionID,
		TakenBy:    o.TakenBy,
		Status:     o.Status,
		LineItems:  lines,
		Total:      o.Total(),
		CreatedAt:  o.CreatedAt,
		DeadlineAt: o.DeadlineAt,
	}
}

// ViewCustomer converts a session to its observer view.
func ViewCustomer(s *customer.Session) CustomerView {
	v := CustomerView{
		SessionID:   s.ID,
		DisplayName: s.DisplayName,
		State:       s.State(),
		Patience:    s.Patience(),
		SeatID:      s.SeatID(),
		Angry:       s.Angry(),
		Reason:      s.Reason(),
	}
	if o := s.Order(); o != nil {
		v.OrderID = o.ID
	}
	return v
}

// WelcomeSnapshot is the full state a new observer starts from.
type WelcomeSnapshot struct {
	ActiveOrders    []OrderView    `json:"activeOrders"`
	ActiveCustomers []CustomerView `json:"activeCustomers"`
}

// OrderCreated announces a new order attached to a customer.
type OrderCreated struct {
	OrderID   int64            `json:"orderId"`
	SessionID string           `json:"sessionId"`
	LineItems []order.LineItem `json:"lineItems"`
	Total     decimal.Decimal  `json:"total"`
}

// OrderStatusChanged announces an order status transition.
type OrderStatusChanged struct {
	OrderID   int64        `json:"orderId"`
	SessionID string       `json:"sessionId"`
	NewStatus order.Status `json:"newStatus"`
	TakenBy   string       `json:"takenBy,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// CustomerArrived announces a new customer.
type CustomerArrived struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

// CustomerStateChanged announces a customer state transition.
type CustomerStateChanged struct {
	SessionID string         `json:"sessionId"`
	NewState  customer.State `json:"newState"`
	SeatID    string         `json:"seatId,omitempty"`
}

// CustomerDeparted announces that a customer started leaving.
type CustomerDeparted struct {
	SessionID string          `json:"sessionId"`
	Angry     bool            `json:"angry"`
	Reason    customer.Reason `json:"reason"`
}

// CustomerRemoved announces that a departed customer is gone for good.
type CustomerRemoved struct {
	SessionID string `json:"sessionId"`
}

func (WelcomeSnapshot) Kind() Kind      { return KindWelcomeSnapshot }
func (OrderCreated) Kind() Kind         { return KindOrderCreated }
func (OrderStatusChanged) Kind() Kind   { return KindOrderStatusChanged }
func (CustomerArrived) Kind() Kind      { return KindCustomerArrived }
func (CustomerStateChanged) Kind() Kind { return KindCustomerStateChanged }
func (CustomerDeparted) Kind() Kind     { return KindCustomerDeparted }
func (CustomerRemoved) Kind() Kind      { return KindCustomerRemoved }
