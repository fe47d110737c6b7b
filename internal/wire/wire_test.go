package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/order"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func sampleOrder(t *testing.T) *order.Order {
	t.Helper()
	o := order.New(1000, "c-1", t0)
	require.NoError(t, o.AddItem(menu.Item{ID: 1, Name: "Espresso", Price: decimal.RequireFromString("2.50"), Category: menu.CategoryCoffee, PrepTime: 30 * time.Second}, 2))
	require.NoError(t, o.AddItem(menu.Item{ID: 3, Name: "Latte", Price: decimal.RequireFromString("4.50"), Category: menu.CategoryCoffee, PrepTime: 45 * time.Second}, 1))
	require.NoError(t, o.AddCustomization(3, "oat milk"))
	return o
}

func TestOrderRoundTrip_PreservesTotalAndLines(t *testing.T) {
	o := sampleOrder(t)
	require.NoError(t, o.Transition(order.StatusConfirmed))
	o.TakenBy = "barista-1"
	o.DeadlineAt = t0.Add(105 * time.Second)

	data, err := EncodeOrder(o)
	require.NoError(t, err)

	got, err := DecodeOrder(data)
	require.NoError(t, err)

	assert.True(t, got.Total().Equal(o.Total()))
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.OwnerSessionID, got.OwnerSessionID)
	assert.Equal(t, o.TakenBy, got.TakenBy)
	assert.Equal(t, o.Status, got.Status)
	assert.True(t, o.DeadlineAt.Equal(got.DeadlineAt))
	require.Len(t, got.Items, len(o.Items))
	for i := range o.Items {
		assert.Equal(t, o.Items[i].MenuItemID, got.Items[i].MenuItemID)
		assert.Equal(t, o.Items[i].Quantity, got.Items[i].Quantity)
		assert.True(t, o.Items[i].UnitPrice.Equal(got.Items[i].UnitPrice))
		assert.Equal(t, o.Items[i].Customizations, got.Items[i].Customizations)
	}
}

func TestDecodeOrder_RejectsTamperedTotal(t *testing.T) {
	data, err := EncodeOrder(sampleOrder(t))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["total"] = "1.00"
	tampered, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = DecodeOrder(tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestEnvelope_SealOpen(t *testing.T) {
	payloads := []Payload{
		OrderCreated{OrderID: 1000, SessionID: "c-1", LineItems: sampleOrder(t).Items, Total: decimal.RequireFromString("9.50")},
		OrderStatusChanged{OrderID: 1000, SessionID: "c-1", NewStatus: order.StatusConfirmed, TakenBy: "p-1"},
		CustomerArrived{SessionID: "c-1", DisplayName: "Alex #101"},
		CustomerStateChanged{SessionID: "c-1", NewState: customer.StateMovingToSeat, SeatID: "seat-1"},
		CustomerDeparted{SessionID: "c-1", Angry: true, Reason: customer.ReasonImpatient},
		CustomerRemoved{SessionID: "c-1"},
		WelcomeSnapshot{ActiveOrders: []OrderView{}, ActiveCustomers: []CustomerView{}},
	}

	for i, p := range payloads {
		env, err := Seal(int64(i+1), t0, p)
		require.NoError(t, err)
		assert.Equal(t, p.Kind(), env.Type)

		data, err := json.Marshal(env)
		require.NoError(t, err)
		var decoded Envelope
		require.NoError(t, json.Unmarshal(data, &decoded))

		got, err := decoded.Open()
		require.NoError(t, err)
		assert.Equal(t, p.Kind(), got.Kind())
		assert.Equal(t, int64(i+1), decoded.Seq)
	}
}

func TestEnvelope_OpenUnknownType(t *testing.T) {
	_, err := Envelope{Type: "Mystery", Payload: json.RawMessage(`{}`)}.Open()
	assert.Error(t, err)
}

func TestEnvelope_Golden(t *testing.T) {
	o := sampleOrder(t)
	var stream []Envelope
	for i, p := range []Payload{
		CustomerArrived{SessionID: "c-1", DisplayName: "Alex #101"},
		OrderCreated{OrderID: o.ID, SessionID: o.OwnerSessionID, LineItems: o.Items, Total: o.Total()},
		OrderStatusChanged{OrderID: o.ID, SessionID: "c-1", NewStatus: order.StatusConfirmed, TakenBy: "barista-1"},
		CustomerDeparted{SessionID: "c-1", Angry: true, Reason: customer.ReasonOrderFailed},
	} {
		env, err := Seal(int64(i+1), t0.Add(time.Duration(i)*time.Second), p)
		require.NoError(t, err)
		stream = append(stream, env)
	}

	data, err := json.MarshalIndent(stream, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "delta_stream", data)
}

func TestIntent_Check(t *testing.T) {
	tests := []struct {
		name   string
		intent Intent
		ok     bool
	}{
		{"take order", Intent{Kind: IntentTakeOrder, RequesterID: "p", SessionID: "c-1"}, true},
		{"missing requester", Intent{Kind: IntentTakeOrder, SessionID: "c-1"}, false},
		{"take order without session", Intent{Kind: IntentTakeOrder, RequesterID: "p"}, false},
		{"start preparing", Intent{Kind: IntentStartPreparing, RequesterID: "p", OrderID: 1000}, true},
		{"complete without order", Intent{Kind: IntentCompleteOrder, RequesterID: "p"}, false},
		{"submit", Intent{Kind: IntentSubmitOrder, RequesterID: "p", SessionID: "c-1", LineItems: []IntentLine{{MenuItemID: 1, Quantity: 2}}}, true},
		{"submit empty", Intent{Kind: IntentSubmitOrder, RequesterID: "p", SessionID: "c-1"}, false},
		{"submit zero quantity", Intent{Kind: IntentSubmitOrder, RequesterID: "p", SessionID: "c-1", LineItems: []IntentLine{{MenuItemID: 1}}}, false},
		{"unknown kind", Intent{Kind: "juggle", RequesterID: "p"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.intent.Check()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, fault.IsValidation(err))
		})
	}
}

func TestReject_CarriesCode(t *testing.T) {
	r := Reject(fault.InvalidState("session", "c-1", "not ready"))
	assert.False(t, r.Accepted)
	assert.Equal(t, fault.CodeInvalidState, r.Code)

	assert.Equal(t, IntentResult{Accepted: true, OrderID: 1000, Seq: 7}, Accept(1000, 7))
}
