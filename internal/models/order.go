package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusPreparing OrderStatus = "preparing"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPreparing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// OrderType represents the type of an order
type OrderType string

const (
	DineIn   OrderType = "dine-in"
	Pickup   OrderType = "pickup"
	Delivery OrderType = "delivery"
)

type OrderFrom string

const (
	FromCustomer   OrderFrom = "customer"
	FromRestaurant OrderFrom = "restaurant"
)

type PaymentType string

const (
	PaymentSingle PaymentType = "single"
	PaymentSplit  PaymentType = "split"
)

type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCash   PaymentMethod = "cash"
)

type Category string

const (
	Vegetarian    Category = "vegetarian"
	NonVegetarian Category = "non-vegetarian"
)

// Addon is a paid modifier on one guest's portion of a line item.
type Addon struct {
	ID       string          `json:"id" validate:"required"`
	Quantity int             `json:"quantity" validate:"min=1"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
}

// GuestAllocation is one guest's share of a line item.
type GuestAllocation struct {
	CustomerID string          `json:"customerId" validate:"required"`
	Quantity   int             `json:"quantity" validate:"min=1"`
	Addons     []Addon         `json:"addon,omitempty" validate:"dive"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// ItemTotals holds the computed totals of a line item.
type ItemTotals struct {
	ItemPrice  decimal.Decimal `json:"itemPrice"`
	AddonPrice decimal.Decimal `json:"addonPrice"`
	Total      decimal.Decimal `json:"total"`
}

// LineItem is a menu item or combo in an order. Price is the unit price
// captured when the order was placed.
type LineItem struct {
	Item          string            `json:"item,omitempty" validate:"required_without=Combo,excluded_with=Combo"`
	Combo         string            `json:"combo,omitempty"`
	Quantity      int               `json:"quantity" validate:"min=1"`
	Price         decimal.Decimal   `json:"price" validate:"gte=0"`
	EstimatedTime int               `json:"estimatedTime" validate:"gte=0"`
	Customers     []GuestAllocation `json:"customer,omitempty" validate:"dive"`
	TotalPrice    ItemTotals        `json:"totalPrice"`
}

// Price is the computed money breakdown of an order.
type Price struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Addon    decimal.Decimal `json:"addon"`
	Tax      decimal.Decimal `json:"tax"`
	Tip      decimal.Decimal `json:"tip"`
	Total    decimal.Decimal `json:"total"`
	Points   int64           `json:"points"`
}

type PreparationTime struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ReOrder links an order to the order it repeats.
type ReOrder struct {
	OrderID string `json:"orderId"`
	Count   int    `json:"count"`
}

// Order represents a restaurant order
type Order struct {
	ID              string          `json:"_id"`
	Number          string          `json:"orderNumber"`
	Customer        string          `json:"customer,omitempty"`
	Staff           string          `json:"staff,omitempty"`
	Guests          []string        `json:"guests"`
	Restaurant      string          `json:"restaurant"`
	Category        Category        `json:"category"`
	OrderType       OrderType       `json:"orderType"`
	OrderFrom       OrderFrom       `json:"orderFrom"`
	PaymentType     PaymentType     `json:"paymentType"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Items           []LineItem      `json:"items"`
	Price           Price           `json:"price"`
	EstimatedTime   int             `json:"estimatedTime"`
	OrderStatus     OrderStatus     `json:"orderStatus"`
	Status          bool            `json:"status"`
	PreparationTime PreparationTime `json:"preparationTime"`
	WaitingList     int             `json:"waitingList"`
	Table           []string        `json:"table,omitempty"`
	ReOrder         *ReOrder        `json:"reOrder,omitempty"`
	DeliveryTime    time.Time       `json:"deliveryTime"`
	Visitors        int             `json:"visitors,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
	Coupon          string          `json:"coupon,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// HasGuest reports whether userID participates in the order.
func (o *Order) HasGuest(userID string) bool {
	for _, g := range o.Guests {
		if g == userID {
			return true
		}
	}
	return false
}

// Actor returns the user who placed the order.
func (o *Order) Actor() string {
	if o.Customer != "" {
		return o.Customer
	}
	return o.Staff
}

// OrderRequest is the body of create and update order calls.
type OrderRequest struct {
	Customer      string          `json:"customer" validate:"required_without=Staff"`
	Staff         string          `json:"staff"`
	Restaurant    string          `json:"restaurant" validate:"required"`
	OrderType     OrderType       `json:"orderType" validate:"required,oneof=dine-in pickup delivery"`
	PaymentType   PaymentType     `json:"paymentType" validate:"required,oneof=single split"`
	PaymentMethod PaymentMethod   `json:"paymentMethod" validate:"required,oneof=online cash"`
	Table         []string        `json:"table" validate:"required_if=OrderType dine-in,dive,required"`
	Guests        []string        `json:"guests" validate:"dive,required"`
	Items         []LineItem      `json:"items" validate:"required,min=1,max=50,dive"`
	DeliveryTime  time.Time       `json:"deliveryTime" validate:"required"`
	Tip           decimal.Decimal `json:"tip" validate:"gte=0"`
	Visitors      int             `json:"visitors" validate:"gte=0"`
	Instructions  string          `json:"instructions" validate:"max=500"`
	Coupon        string          `json:"coupon" validate:"max=64"`
	ReOrder       string          `json:"reOrder"`
	Version       *int            `json:"version,omitempty"`
}

// StatusUpdateRequest is the optional body of a status change.
type StatusUpdateRequest struct {
	ChangedBy string `json:"changedBy"`
	Notes     string `json:"notes" validate:"max=500"`
	Version   *int   `json:"version,omitempty"`
}

// OrderResponse wraps an order for create/update replies.
type OrderResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	Order             *Order `json:"order"`
	EstimatedWaitTime int    `json:"estimatedWaitTime"`
}

// StatusHistory is an entry in the order status log
type StatusHistory struct {
	Status    OrderStatus `json:"status"`
	ChangedBy string      `json:"changedBy"`
	ChangedAt time.Time   `json:"changedAt"`
	Notes     *string     `json:"notes,omitempty"`
}

// StatusChange describes what a status update did to an order row.
type StatusChange struct {
	From              OrderStatus
	To                OrderStatus
	Changed           bool
	ChangedBy         string
	Note              string
	EnqueueCompletion bool
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Guests = append([]string(nil), o.Guests...)
	c.Table = append([]string(nil), o.Table...)
	if o.Items != nil {
		c.Items = make([]LineItem, len(o.Items))
		for i, item := range o.Items {
			ci := item
			if item.Customers != nil {
				ci.Customers = make([]GuestAllocation, len(item.Customers))
				for j, g := range item.Customers {
					cg := g
					cg.Addons = append([]Addon(nil), g.Addons...)
					ci.Customers[j] = cg
				}
			}
			c.Items[i] = ci
		}
	}
	if o.ReOrder != nil {
		r := *o.ReOrder
		c.ReOrder = &r
	}
	if o.PreparationTime.Start != nil {
		t := *o.PreparationTime.Start
		c.PreparationTime.Start = &t
	}
	if o.PreparationTime.End != nil {
		t := *o.PreparationTime.End
		c.PreparationTime.End = &t
	}
	return &c
}
