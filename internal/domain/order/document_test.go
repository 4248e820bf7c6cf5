package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_MarshalJSON(t *testing.T) {
	n := 42
	o := Order{
		ID:          "o-1",
		Items:       []LineItem{{ItemID: "latte", Quantity: 2}},
		Subtotal:    decimal.RequireFromString("9"),
		Tax:         decimal.RequireFromString("0.74"),
		Total:       decimal.RequireFromString("9.74"),
		Status:      StatusPending,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CashierID:   "c-1",
		OrderNumber: &n,
		PaymentType: PaymentCash,
	}

	b, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "o-1",
		"items": [{"itemId": "latte", "quantity": 2}],
		"subtotal": 9.00,
		"tax": 0.74,
		"total": 9.74,
		"status": "Pending",
		"timestamp": "2026-03-01T12:00:00Z",
		"cashierId": "c-1",
		"orderNumber": 42,
		"paymentType": "Cash"
	}`, string(b))
}

func TestOrder_UnmarshalJSON(t *testing.T) {
	var o Order
	err := json.Unmarshal([]byte(`{
		"id": "o-2",
		"items": [{"itemId": "avo", "quantity": 1, "note": "x"}],
		"total": "8.99",
		"status": "Held",
		"timestamp": "2026-03-01T12:00:00Z",
		"updatedAt": "2026-03-01T12:05:00Z",
		"cashierId": "c-2",
		"stationId": "grill",
		"priority": "Rush",
		"extra": {"nested": [1, 2]}
	}`), &o)
	require.NoError(t, err)

	assert.Equal(t, "o-2", o.ID)
	assert.Equal(t, []LineItem{{ItemID: "avo", Quantity: 1}}, o.Items)
	assert.Equal(t, "8.99", o.Total.StringFixed(2))
	assert.Equal(t, StatusHeld, o.Status)
	assert.Equal(t, PriorityRush, o.Priority)
	assert.Equal(t, "grill", o.StationID)
	assert.Nil(t, o.OrderNumber)
	assert.Equal(t, 5*time.Minute, o.UpdatedAt.Sub(o.CreatedAt))
}

func TestOrder_UnmarshalJSON_Invalid(t *testing.T) {
	var o Order
	require.Error(t, json.Unmarshal([]byte(`{"timestamp": "yesterday"}`), &o))
	require.Error(t, json.Unmarshal([]byte(`{"total": true}`), &o))
}
