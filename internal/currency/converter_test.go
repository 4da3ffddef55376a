package currency

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/config"
	"restaurant-orders/internal/models"
)

func newConverter(t *testing.T) *Converter {
	t.Helper()
	c, err := NewConverter(config.CurrencyConfig{Base: "USD", Rates: map[string]string{"eur": "0.5", "INR": "83.1"}})
	require.NoError(t, err)
	return c
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:    "o-1",
		Items: []models.LineItem{{
			Item: "m1", Quantity: 2, Price: decimal.NewFromInt(10), EstimatedTime: 15,
			Customers: []models.GuestAllocation{{CustomerID: "u1", Quantity: 2, TotalPrice: decimal.NewFromInt(20)}},
			TotalPrice: models.ItemTotals{ItemPrice: decimal.NewFromInt(20), AddonPrice: decimal.Zero, Total: decimal.NewFromInt(20)},
		}},
		Price: models.Price{
			Subtotal: decimal.NewFromInt(20),
			Tax:      decimal.NewFromInt(1),
			Tip:      decimal.NewFromInt(3),
			Total:    decimal.NewFromInt(24),
			Points:   24,
		},
		EstimatedTime: 30,
	}
}

func TestConvert_MonetaryFieldsOnly(t *testing.T) {
	c := newConverter(t)
	o := sampleOrder()

	out, err := c.Convert(o, "EUR")
	require.NoError(t, err)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))

	price := doc["price"].(map[string]interface{})
	assert.Equal(t, 10.0, price["subtotal"])
	assert.Equal(t, 0.5, price["tax"])
	assert.Equal(t, 1.5, price["tip"])
	assert.Equal(t, 12.0, price["total"])
	assert.Equal(t, 24.0, price["points"])
	assert.Equal(t, 30.0, doc["estimatedTime"])

	item := doc["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 5.0, item["price"])
	assert.Equal(t, 2.0, item["quantity"])
	assert.Equal(t, 10.0, item["totalPrice"].(map[string]interface{})["total"])
	guest := item["customer"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 10.0, guest["totalPrice"])

	// the stored value is untouched
	assert.True(t, decimal.NewFromInt(24).Equal(o.Price.Total))
}

func TestConvert_Rounding(t *testing.T) {
	c := newConverter(t)
	out, err := c.Convert(map[string]interface{}{"total": 1.234}, "INR")
	require.NoError(t, err)
	assert.Equal(t, json.Number("102.55"), out.(map[string]interface{})["total"])
}

func TestConvert_BaseAndUnknown(t *testing.T) {
	c := newConverter(t)
	o := sampleOrder()

	same, err := c.Convert(o, "usd")
	require.NoError(t, err)
	assert.Same(t, o, same)

	_, err = c.Convert(o, "JPY")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, []string{"USD", "EUR", "INR"}, c.Currencies())
}

func TestNewConverter_RejectsBadRates(t *testing.T) {
	_, err := NewConverter(config.CurrencyConfig{Base: "USD", Rates: map[string]string{"EUR": "abc"}})
	assert.Error(t, err)
	_, err = NewConverter(config.CurrencyConfig{Base: "USD", Rates: map[string]string{"EUR": "0"}})
	assert.Error(t, err)
}
