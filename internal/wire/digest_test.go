package wire

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/order"
)

func TestCanonical_SortsKeysAndSkipsHTMLEscaping(t *testing.T) {
	out, err := Canonical(map[string]any{
		"b": 1,
		"a": []any{"<x>", true, nil},
		"c": map[string]any{"z": "é", "y": 2.5},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["<x>",true,null],"b":1,"c":{"y":2.5,"z":"é"}}`, string(out))
}

func TestCanonical_NormalizesToNFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := Canonical(map[string]any{"name": decomposed})
	require.NoError(t, err)
	b, err := Canonical(map[string]any{"name": composed})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompareUTF16_DiffersFromByteOrder(t *testing.T) {
	// U+FF61 is one UTF-16 unit; U+1F600 is a surrogate pair starting 0xD83D.
	assert.Positive(t, compareUTF16("｡", "\U0001F600"))
	assert.Negative(t, compareUTF16("a", "b"))
}

func snapshotFixture() WelcomeSnapshot {
	return WelcomeSnapshot{
		ActiveOrders: []OrderView{
			{OrderID: 1001, SessionID: "c-2", Status: order.StatusPending, LineItems: []order.LineItem{{MenuItemID: 1, Name: "Espresso", Quantity: 1, UnitPrice: decimal.RequireFromString("2.50")}}, Total: decimal.RequireFromString("2.50")},
			{OrderID: 1000, SessionID: "c-1", Status: order.StatusInProgress, LineItems: []order.LineItem{{MenuItemID: 3, Name: "Latte", Quantity: 2, UnitPrice: decimal.RequireFromString("4.5")}}, Total: decimal.RequireFromString("9")},
		},
		ActiveCustomers: []CustomerView{
			{SessionID: "c-2", DisplayName: "Sam #222", State: customer.StateWaitingToOrder, Patience: 81, SeatID: "seat-2", OrderID: 1001},
			{SessionID: "c-1", DisplayName: "Alex #111", State: customer.StateWaitingForFood, Patience: 64, SeatID: "seat-1", OrderID: 1000},
		},
	}
}

func TestDigest_IndependentOfOrderingAndPatience(t *testing.T) {
	a := snapshotFixture()
	b := snapshotFixture()
	b.ActiveOrders[0], b.ActiveOrders[1] = b.ActiveOrders[1], b.ActiveOrders[0]
	b.ActiveCustomers[0], b.ActiveCustomers[1] = b.ActiveCustomers[1], b.ActiveCustomers[0]
	b.ActiveCustomers[0].Patience = 3

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
}

func TestDigest_ScaleOfPricesDoesNotMatter(t *testing.T) {
	a := snapshotFixture()
	b := snapshotFixture()
	b.ActiveOrders[0].LineItems[0].UnitPrice = decimal.RequireFromString("2.5")
	b.ActiveOrders[1].Total = decimal.RequireFromString("9.00")

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDigest_ChangesWithState(t *testing.T) {
	a := snapshotFixture()
	b := snapshotFixture()
	b.ActiveCustomers[1].State = customer.StateEating

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestDigest_EmptySnapshot(t *testing.T) {
	d, err := Digest(WelcomeSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, hashWithDomain(DomainSnapshot, []byte(`{"customers":[],"orders":[]}`)), d)
}
