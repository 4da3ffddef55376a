package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Restaurant is the subset of restaurant data the order engine reads.
type Restaurant struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner"`
}

// Ingredient is one entry of a menu item's recipe. Item matches an
// InventoryItem name within the same restaurant.
type Ingredient struct {
	Item           string          `json:"item"`
	Quantity       decimal.Decimal `json:"quantity"`
	WastagePercent decimal.Decimal `json:"wastagePercent"`
}

type MenuItem struct {
	ID            string       `json:"_id"`
	Restaurant    string       `json:"restaurant"`
	Name          string       `json:"name"`
	NonVeg        bool         `json:"nonVeg"`
	EstimatedTime int          `json:"estimatedTime"`
	Ingredients   []Ingredient `json:"ingredient"`
}

// ComboEntry is one menu item inside a combo.
type ComboEntry struct {
	MenuItem string `json:"item"`
	Quantity int    `json:"quantity"`
}

type Combo struct {
	ID         string       `json:"_id"`
	Restaurant string       `json:"restaurant"`
	Name       string       `json:"name"`
	Items      []ComboEntry `json:"items"`
}

type Tax struct {
	Restaurant string          `json:"restaurant"`
	Rate       decimal.Decimal `json:"rate"`
}

// Quantity is a stock magnitude with its unit, written as "50 kg".
type Quantity struct {
	Magnitude decimal.Decimal
	Unit      string
}

// ParseQuantity parses "50 kg", "2.5 l" or a bare "12".
func ParseQuantity(s string) (Quantity, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return Quantity{}, fmt.Errorf("invalid quantity %q", s)
	}
	mag, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	q := Quantity{Magnitude: mag}
	if len(fields) == 2 {
		q.Unit = fields[1]
	}
	return q, nil
}

func (q Quantity) String() string {
	if q.Unit == "" {
		return q.Magnitude.String()
	}
	return q.Magnitude.String() + " " + q.Unit
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseQuantity(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

type InventoryItem struct {
	ID         string   `json:"_id"`
	Name       string   `json:"name"`
	Restaurant string   `json:"restaurant"`
	Quantity   Quantity `json:"quantity"`
}

// Deduction is the amount of one ingredient consumed by an order.
type Deduction struct {
	Ingredient string          `json:"ingredient"`
	Amount     decimal.Decimal `json:"amount"`
}

// StockLevel is an inventory row after a deduction.
type StockLevel struct {
	Ingredient string   `json:"ingredient"`
	Quantity   Quantity `json:"quantity"`
}

type Invoice struct {
	ID         string    `json:"_id"`
	Customer   string    `json:"customer,omitempty"`
	Restaurant string    `json:"restaurant"`
	Order      string    `json:"order"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LoyaltyAward is the points credited to one guest.
type LoyaltyAward struct {
	UserID string `json:"userId"`
	Points int64  `json:"points"`
}
