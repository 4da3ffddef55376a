package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money and quantities travel as JSON numbers. Each type marshals its
// decimal fields itself so the package-wide decimal setting stays untouched.

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func (a Addon) MarshalJSON() ([]byte, error) {
	type plain Addon
	return json.Marshal(struct {
		plain
		Price json.Number `json:"price"`
	}{plain(a), number(a.Price)})
}

func (g GuestAllocation) MarshalJSON() ([]byte, error) {
	type plain GuestAllocation
	return json.Marshal(struct {
		plain
		TotalPrice json.Number `json:"totalPrice"`
	}{plain(g), number(g.TotalPrice)})
}

func (t ItemTotals) MarshalJSON() ([]byte, error) {
	type plain ItemTotals
	return json.Marshal(struct {
		plain
		ItemPrice  json.Number `json:"itemPrice"`
		AddonPrice json.Number `json:"addonPrice"`
		Total      json.Number `json:"total"`
	}{plain(t), number(t.ItemPrice), number(t.AddonPrice), number(t.Total)})
}

func (li LineItem) MarshalJSON() ([]byte, error) {
	type plain LineItem
	return json.Marshal(struct {
		plain
		Price json.Number `json:"price"`
	}{plain(li), number(li.Price)})
}

func (p Price) MarshalJSON() ([]byte, error) {
	type plain Price
	return json.Marshal(struct {
		plain
		Subtotal json.Number `json:"subtotal"`
		Addon    json.Number `json:"addon"`
		Tax      json.Number `json:"tax"`
		Tip      json.Number `json:"tip"`
		Total    json.Number `json:"total"`
	}{plain(p), number(p.Subtotal), number(p.Addon), number(p.Tax), number(p.Tip), number(p.Total)})
}

func (i Ingredient) MarshalJSON() ([]byte, error) {
	type plain Ingredient
	return json.Marshal(struct {
		plain
		Quantity       json.Number `json:"quantity"`
		WastagePercent json.Number `json:"wastagePercent"`
	}{plain(i), number(i.Quantity), number(i.WastagePercent)})
}

func (t Tax) MarshalJSON() ([]byte, error) {
	type plain Tax
	return json.Marshal(struct {
		plain
		Rate json.Number `json:"rate"`
	}{plain(t), number(t.Rate)})
}

func (d Deduction) MarshalJSON() ([]byte, error) {
	type plain Deduction
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain(d), number(d.Amount)})
}
