package delivery

import (
	"context"

	"food-delivery/dispatch/events"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
)

// Accept resolves the acceptance race for an assignment. At most one agent
// wins; losers get store.ErrAssignmentExpired, and an agent already carrying
// a delivery gets store.ErrAgentBusy. The whole check-and-commit happens in
// one conditional update inside the store.
func (s *Service) Accept(ctx context.Context, assignmentID, agentID string) (*models.Assignment, error) {
	assignment, err := s.store.AcceptAssignment(ctx, assignmentID, agentID, s.now())
	if err != nil {
		return nil, err
	}

	// Retract the offer from everyone who lost.
	for _, otherID := range assignment.BroadcastedTo {
		if otherID == agentID {
			continue
		}
		s.sendToAgent(otherID, notify.EventAssignmentTaken, notify.AssignmentTakenPayload{
			AssignmentID: assignment.ID,
		})
	}
	s.logEvent(events.AssignmentAccepted, map[string]interface{}{
		"assignment_id": assignment.ID,
		"order_id":      assignment.OrderID,
		"agent_id":      agentID,
	})
	return assignment, nil
}

// Offer is an open assignment formatted for an agent's offer list.
type Offer struct {
	AssignmentID    string                 `json:"assignmentId"`
	OrderID         string                 `json:"orderId"`
	ShopName        string                 `json:"shopName"`
	DeliveryAddress models.DeliveryAddress `json:"deliveryAddress"`
	Items           []models.ShopOrderItem `json:"items"`
	Subtotal        float64                `json:"subtotal"`
}

// OpenOffers lists the assignments currently broadcast to the agent.
func (s *Service) OpenOffers(ctx context.Context, agentID string) ([]Offer, error) {
	assignments, err := s.store.BroadcastedTo(ctx, agentID)
	if err != nil {
		return nil, err
	}
	offers := make([]Offer, 0, len(assignments))
	for _, a := range assignments {
		order, err := s.store.GetOrder(ctx, a.OrderID)
		if err != nil {
			continue
		}
		so := order.ShopOrderByID(a.ShopOrderID)
		if so == nil {
			continue
		}
		offers = append(offers, Offer{
			AssignmentID:    a.ID,
			OrderID:         order.ID,
			ShopName:        so.ShopName,
			DeliveryAddress: order.DeliveryAddress,
			Items:           so.Items,
			Subtotal:        so.Subtotal,
		})
	}
	return offers, nil
}
