package delivery

import (
	"context"
	"fmt"

	"food-delivery/dispatch/events"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/store"
)

// StatusResult reports what a status update did: the shop-order after the
// transition, and — when the transition triggered a broadcast — the created
// assignment and the agents it went to.
type StatusResult struct {
	ShopOrder         *models.ShopOrder      `json:"shopOrder"`
	Assignment        *models.Assignment     `json:"assignment,omitempty"`
	Candidates        []models.AgentLocation `json:"availableBoys"`
	NoAgentsAvailable bool                   `json:"-"`
}

// UpdateStatus moves the shop-order for (orderID, shopID) to status.
// Transitions are strictly forward (pending, preparing, out of delivery);
// "delivered" is only reachable through VerifyOTP. The first transition into
// out-of-delivery broadcasts the delivery to nearby available agents.
func (s *Service) UpdateStatus(ctx context.Context, orderID, shopID string, status models.OrderStatus) (*StatusResult, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	so := order.ShopOrderByShop(shopID)
	if so == nil {
		return nil, store.ErrShopOrderNotFound
	}
	if !so.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, so.Status, status)
	}

	// CAS on the previous status: a concurrent duplicate update loses here
	// instead of double-firing the broadcast.
	if err := s.store.UpdateShopOrderStatus(ctx, orderID, so.ID, so.Status, status); err != nil {
		return nil, err
	}
	so.Status = status

	result := &StatusResult{ShopOrder: so}
	if status == models.OrderStatusOutOfDelivery && so.AssignmentID == "" {
		assignment, candidates, err := s.broadcastShopOrder(ctx, order, so)
		if err != nil && err != store.ErrAssignmentExists {
			return nil, err
		}
		result.Assignment = assignment
		result.Candidates = candidates
		result.NoAgentsAvailable = assignment == nil && err == nil
	}

	s.sendToCustomer(order.User, notify.EventUpdateStatus, notify.StatusUpdatePayload{
		OrderID: order.ID,
		ShopID:  so.Shop,
		Status:  string(status),
		UserID:  order.User,
	})
	s.logEvent(events.StatusUpdated, map[string]interface{}{
		"order_id":      order.ID,
		"shop_id":       so.Shop,
		"shop_order_id": so.ID,
		"status":        string(status),
	})
	return result, nil
}
