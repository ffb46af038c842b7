package notify

import "food-delivery/dispatch/models"

// NewAssignmentPayload is the offer sent to each candidate agent.
type NewAssignmentPayload struct {
	SentTo          string                 `json:"sentTo"`
	AssignmentID    string                 `json:"assignmentId"`
	OrderID         string                 `json:"orderId"`
	ShopName        string                 `json:"shopName"`
	DeliveryAddress models.DeliveryAddress `json:"deliveryAddress"`
	Items           []models.ShopOrderItem `json:"items"`
	Subtotal        float64                `json:"subtotal"`
}

// AssignmentTakenPayload retracts an offer from the agents that lost the race.
type AssignmentTakenPayload struct {
	AssignmentID string `json:"assignmentId"`
}

// StatusUpdatePayload informs the customer of a shop-order status change.
type StatusUpdatePayload struct {
	OrderID string `json:"orderId"`
	ShopID  string `json:"shopId"`
	Status  string `json:"status"`
	UserID  string `json:"userId"`
}

// NewOrderPayload informs a shop owner of a freshly placed shop-order.
type NewOrderPayload struct {
	OrderID         string                 `json:"_id"`
	PaymentMethod   models.PaymentMethod   `json:"paymentMethod"`
	User            string                 `json:"user"`
	ShopOrder       models.ShopOrder       `json:"shopOrders"`
	CreatedAt       string                 `json:"createdAt"`
	DeliveryAddress models.DeliveryAddress `json:"deliveryAddress"`
	Payment         bool                   `json:"payment"`
}

// DeliveryLocationPayload is the live agent position fan-out.
type DeliveryLocationPayload struct {
	DeliveryBoyID string  `json:"deliveryBoyId"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
}
