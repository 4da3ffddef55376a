package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		unit    string
		wantErr bool
	}{
		{in: "50 kg", want: "50", unit: "kg"},
		{in: "2.5 l", want: "2.5", unit: "l"},
		{in: "12", want: "12"},
		{in: " -3 kg ", want: "-3", unit: "kg"},
		{in: "", wantErr: true},
		{in: "ten kg", wantErr: true},
		{in: "1 kg extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := ParseQuantity(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(q.Magnitude))
			assert.Equal(t, tt.unit, q.Unit)
		})
	}
}

func TestQuantityJSON(t *testing.T) {
	item := InventoryItem{Name: "flour", Quantity: Quantity{Magnitude: decimal.NewFromFloat(47.5), Unit: "kg"}}
	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"quantity":"47.5 kg"`)

	var back InventoryItem
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "47.5 kg", back.Quantity.String())
}

func TestOrderStatus(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPreparing.Terminal())
	assert.True(t, StatusAccepted.Valid())
	assert.False(t, OrderStatus("ready").Valid())
}

func TestPriceMarshalsNumbers(t *testing.T) {
	data, err := json.Marshal(Price{Subtotal: decimal.NewFromInt(20), Tax: decimal.RequireFromString("1.3")})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"subtotal":20`)
	assert.Contains(t, string(data), `"tax":1.3`)
	assert.Contains(t, string(data), `"points":0`)

	var back Price
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, decimal.RequireFromString("1.3").Equal(back.Tax))
}

func TestLineItemMarshalsNestedNumbers(t *testing.T) {
	li := LineItem{
		Item:     "margherita",
		Quantity: 2,
		Price:    decimal.RequireFromString("9.5"),
		Customers: []GuestAllocation{{
			CustomerID: "u1",
			Quantity:   2,
			Addons:     []Addon{{ID: "cheese", Quantity: 1, Price: decimal.NewFromInt(1)}},
			TotalPrice: decimal.NewFromInt(20),
		}},
		TotalPrice: ItemTotals{ItemPrice: decimal.NewFromInt(19), AddonPrice: decimal.NewFromInt(1), Total: decimal.NewFromInt(20)},
	}
	data, err := json.Marshal(li)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"item": "margherita",
		"quantity": 2,
		"price": 9.5,
		"estimatedTime": 0,
		"customer": [{"customerId": "u1", "quantity": 2, "addon": [{"id": "cheese", "quantity": 1, "price": 1}], "totalPrice": 20}],
		"totalPrice": {"itemPrice": 19, "addonPrice": 1, "total": 20}
	}`, string(data))
}

func TestDecimalSettingIsLeftAlone(t *testing.T) {
	assert.False(t, decimal.MarshalJSONWithoutQuotes)

	data, err := json.Marshal(decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Equal(t, `"20"`, string(data))
}

func TestNewDeletedEvent(t *testing.T) {
	ev := NewDeletedEvent(&Order{ID: "o-1", Restaurant: "r-1"})
	assert.Equal(t, EventOrderDeleted, ev.Type)
	assert.JSONEq(t, `{"_id":"o-1"}`, string(ev.Payload))
}
