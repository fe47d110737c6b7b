package wire

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cafesync/internal/order"
)

// EncodeOrder serializes an order for transfer.
func EncodeOrder(o *order.Order) ([]byte, error) {
	return json.Marshal(ViewOrder(o))
}

// DecodeOrder rebuilds an order, recomputing its total from the lines. A
// transmitted total that disagrees with the lines is an error.
func DecodeOrder(data []byte) (*order.Order, error) {
	var v OrderView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	o := order.Restore(v.OrderID, v.SessionID, v.Status, v.LineItems)
	o.TakenBy = v.TakenBy
	o.CreatedAt = v.CreatedAt
	o.DeadlineAt = v.DeadlineAt

	if !o.Total().Equal(v.Total) {
		return nil, fmt.Errorf("decode order %d: total %s does not match lines (%s)", v.OrderID, v.Total, o.Total())
	}
	return o, nil
}
