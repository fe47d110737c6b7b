package wire

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/order"
)

// DomainSnapshot separates snapshot digests from any other hash.
const DomainSnapshot = "cafesync/snapshot/v1"

// digestOrder holds the order fields an observer can reconstruct from
// deltas alone.
type digestOrder struct {
	OrderID   int64            `json:"orderId"`
	SessionID string           `json:"sessionId"`
	Status    order.Status     `json:"status"`
	LineItems []order.LineItem `json:"lineItems"`
	Total     string           `json:"total"`
}

// digestCustomer leaves out patience, which observers are not sent.
type digestCustomer struct {
	SessionID   string          `json:"sessionId"`
	DisplayName string          `json:"displayName"`
	State       customer.State  `json:"state"`
	SeatID      string          `json:"seatId"`
	OrderID     int64           `json:"orderId"`
	Angry       bool            `json:"angry"`
	Reason      customer.Reason `json:"reason"`
}

// Digest returns a hex SHA-256 over the replicated part of a snapshot.
// Orders and customers are sorted first, so input order does not matter.
func Digest(s WelcomeSnapshot) (string, error) {
	orders := make([]digestOrder, len(s.ActiveOrders))
	for i, o := range s.ActiveOrders {
		lines := make([]order.LineItem, len(o.LineItems))
		copy(lines, o.LineItems)
		orders[i] = digestOrder{
			OrderID:   o.OrderID,
			SessionID: o.SessionID,
			Status:    o.Status,
			LineItems: lines,
			Total:     o.Total.StringFixed(2),
		}
	}
	slices.SortFunc(orders, func(a, b digestOrder) int {
		return cmp.Compare(a.OrderID, b.OrderID)
	})

	customers := make([]digestCustomer, len(s.ActiveCustomers))
	for i, c := range s.ActiveCustomers {
		customers[i] = digestCustomer{
			SessionID:   c.SessionID,
			DisplayName: c.DisplayName,
			State:       c.State,
			SeatID:      c.SeatID,
			OrderID:     c.OrderID,
			Angry:       c.Angry,
			Reason:      c.Reason,
		}
	}
	slices.SortFunc(customers, func(a, b digestCustomer) int {
		return strings.Compare(a.SessionID, b.SessionID)
	})

	canonical, err := Canonical(map[string]any{
		"orders":    orders,
		"customers": customers,
	})
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
