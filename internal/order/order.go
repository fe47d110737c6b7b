// Package order defines the order value object and its status machine.
//
// Every mutation of an order's lines recomputes its total before
// returning, so Total never goes stale.
package order

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/menu"
)

// LineItem is one menu item in an order with its quantity.
type LineItem struct {
	MenuItemID     int             `json:"menuItemId"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Customizations []string        `json:"customizations,omitempty"`
}

// Subtotal is UnitPrice × Quantity.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is a customer's request for menu items.
type Order struct {
	ID             int64
	OwnerSessionID string
	TakenBy        string
	Items          []LineItem
	Status         Status
	Reason         string
	CreatedAt      time.Time
	AcceptedAt     time.Time
	DeadlineAt     time.Time

	total decimal.Decimal
}

// New creates an empty pending order.
func New(id int64, ownerSessionID string, createdAt time.Time) *Order {
	return &Order{
		ID:             id,
		OwnerSessionID: ownerSessionID,
		Status:         StatusPending,
		CreatedAt:      createdAt,
		total:          decimal.Zero,
	}
}

// Restore rebuilds an order from decoded parts and recomputes its total.
func Restore(id int64, ownerSessionID string, status Status, items []LineItem) *Order {
	o := New(id, ownerSessionID, time.Time{})
	o.Status = status
	o.Items = make([]LineItem, len(items))
	for i, l := range items {
		l.Customizations = normalizeCustomizations(l.Customizations)
		o.Items[i] = l
	}
	o.recalculate()
	return o
}

func (o *Order) idString() string {
	return strconv.FormatInt(o.ID, 10)
}

// Total returns Σ(UnitPrice × Quantity).
func (o *Order) Total() decimal.Decimal {
	return o.total
}

// ItemCount returns the total quantity across lines.
func (o *Order) ItemCount() int {
	n := 0
	for _, l := range o.Items {
		n += l.Quantity
	}
	return n
}

// IsEmpty reports whether the order has no lines.
func (o *Order) IsEmpty() bool {
	return len(o.Items) == 0
}

// Line returns the line for a menu item.
func (o *Order) Line(menuItemID int) (LineItem, bool) {
	if i := o.indexOf(menuItemID); i >= 0 {
		return o.Items[i], true
	}
	return LineItem{}, false
}

// AddItem adds qty of item, merging into an existing line for the same
// item. The unit price is captured from item now.
func (o *Order) AddItem(item menu.Item, qty int) error {
	if err := o.editable(); err != nil {
		return err
	}
	if qty <= 0 {
		return fault.Validation("quantity must be positive, got %d", qty)
	}

	if i := o.indexOf(item.ID); i >= 0 {
		o.Items[i].Quantity += qty
	} else {
		o.Items = append(o.Items, LineItem{
			MenuItemID: item.ID,
			Name:       item.Name,
			Quantity:   qty,
			UnitPrice:  item.Price,
		})
	}
	o.recalculate()
	return nil
}

// RemoveItem decrements a line by qty and drops it when it reaches zero.
func (o *Order) RemoveItem(menuItemID, qty int) error {
	if err := o.editable(); err != nil {
		return err
	}
	if qty <= 0 {
		return fault.Validation("quantity must be positive, got %d", qty)
	}

	i := o.indexOf(menuItemID)
	if i < 0 {
		return fault.NotFound("order_line", strconv.Itoa(menuItemID))
	}

	o.Items[i].Quantity -= qty
	if o.Items[i].Quantity <= 0 {
		o.Items = slices.Delete(o.Items, i, i+1)
	}
	o.recalculate()
	return nil
}

// AddCustomization records a customization on a line. Duplicates are ignored.
func (o *Order) AddCustomization(menuItemID int, customization string) error {
	if err := o.editable(); err != nil {
		return err
	}
	customization = strings.TrimSpace(customization)
	if customization == "" {
		return fault.Validation("customization must not be empty")
	}

	i := o.indexOf(menuItemID)
	if i < 0 {
		return fault.NotFound("order_line", strconv.Itoa(menuItemID))
	}
	o.Items[i].Customizations = normalizeCustomizations(append(o.Items[i].Customizations, customization))
	return nil
}

// Transition moves the order along its status machine.
func (o *Order) Transition(to Status) error {
	if !o.Status.CanTransition(to) {
		return fault.InvalidState("order", o.idString(), "cannot move from %s to %s", o.Status, to)
	}
	o.Status = to
	return nil
}

// Cancel moves a non-terminal order to Cancelled. It reports false when the
// order was already terminal.
func (o *Order) Cancel(reason string) bool {
	if o.Status.IsTerminal() {
		return false
	}
	o.Status = StatusCancelled
	o.Reason = reason
	return true
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = make([]LineItem, len(o.Items))
	for i, l := range o.Items {
		l.Customizations = slices.Clone(l.Customizations)
		c.Items[i] = l
	}
	return &c
}

// Summary renders the order as a short multi-line receipt.
func (o *Order) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d (%s)\n", o.ID, o.Status)
	for _, l := range o.Items {
		fmt.Fprintf(&b, "  %dx %s - $%s", l.Quantity, l.Name, l.Subtotal().StringFixed(2))
		if len(l.Customizations) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(l.Customizations, ", "))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Total: $%s", o.total.StringFixed(2))
	return b.String()
}

// editable rejects line edits once the kitchen has accepted the order.
func (o *Order) editable() error {
	if o.Status != StatusPending {
		return fault.InvalidState("order", o.idString(), "lines are fixed once %s", o.Status)
	}
	return nil
}

func (o *Order) indexOf(menuItemID int) int {
	for i, l := range o.Items {
		if l.MenuItemID == menuItemID {
			return i
		}
	}
	return -1
}

func (o *Order) recalculate() {
	total := decimal.Zero
	for _, l := range o.Items {
		total = total.Add(l.Subtotal())
	}
	o.total = total
}

func normalizeCustomizations(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
