package models

import "time"

type AssignmentStatus string

// Wire value "brodcasted" (sic) is kept for compatibility with existing
// clients.
const (
	AssignmentBroadcasted AssignmentStatus = "brodcasted"
	AssignmentAssigned    AssignmentStatus = "assigned"
	AssignmentCompleted   AssignmentStatus = "completed"
)

// Assignment tracks which agents were offered a shop-order delivery and which
// one accepted. BroadcastedTo is fixed at creation; AssignedTo is set exactly
// once, by the winning accept.
type Assignment struct {
	ID            string           `json:"_id"`
	OrderID       string           `json:"order"`
	ShopID        string           `json:"shop"`
	ShopOrderID   string           `json:"shopOrderId"`
	BroadcastedTo []string         `json:"brodcastedTo"`
	AssignedTo    string           `json:"assignedTo,omitempty"`
	Status        AssignmentStatus `json:"status"`
	AcceptedAt    *time.Time       `json:"acceptedAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}
