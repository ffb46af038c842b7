package models

import (
	"errors"
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusPreparing     OrderStatus = "preparing"
	OrderStatusOutOfDelivery OrderStatus = "out of delivery"
	OrderStatusDelivered     OrderStatus = "delivered"
)

var (
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// validTransitions defines the forward-only shop-order lifecycle. "delivered"
// is intentionally absent as a target: it is only reachable through OTP
// verification, never through a plain status update.
var validTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:       {OrderStatusPreparing},
	OrderStatusPreparing:     {OrderStatusOutOfDelivery},
	OrderStatusOutOfDelivery: {},
	OrderStatusDelivered:     {},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusOutOfDelivery, OrderStatusDelivered:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// CanTransitionTo reports whether a plain status update may move a shop-order
// from its current status to target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

type DeliveryAddress struct {
	Text      string  `json:"text"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type ShopOrderItem struct {
	Item     string  `json:"item"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// ShopOrder is the portion of a customer order belonging to a single shop and
// the unit of delivery assignment.
type ShopOrder struct {
	ID                  string          `json:"_id"`
	Shop                string          `json:"shop"`
	Owner               string          `json:"owner"`
	ShopName            string          `json:"shopName"`
	Subtotal            float64         `json:"subtotal"`
	DeliveryFee         float64         `json:"deliveryFee"`
	Items               []ShopOrderItem `json:"shopOrderItems"`
	Status              OrderStatus     `json:"status"`
	AssignmentID        string          `json:"assignment,omitempty"`
	AssignedDeliveryBoy string          `json:"assignedDeliveryBoy,omitempty"`
	DeliveryOTP         string          `json:"-"`
	OTPExpires          time.Time       `json:"-"`
	DeliveredAt         *time.Time      `json:"deliveredAt,omitempty"`
}

type Order struct {
	ID              string          `json:"_id"`
	User            string          `json:"user"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Payment         bool            `json:"payment"`
	DeliveryAddress DeliveryAddress `json:"deliveryAddress"`
	TotalAmount     float64         `json:"totalAmount"`
	ShopOrders      []ShopOrder     `json:"shopOrders"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ShopOrderByID returns the embedded shop-order with the given id, or nil.
func (o *Order) ShopOrderByID(shopOrderID string) *ShopOrder {
	for i := range o.ShopOrders {
		if o.ShopOrders[i].ID == shopOrderID {
			return &o.ShopOrders[i]
		}
	}
	return nil
}

// ShopOrderByShop returns the embedded shop-order for the given shop, or nil.
func (o *Order) ShopOrderByShop(shopID string) *ShopOrder {
	for i := range o.ShopOrders {
		if o.ShopOrders[i].Shop == shopID {
			return &o.ShopOrders[i]
		}
	}
	return nil
}
