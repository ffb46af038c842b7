package delivery

import (
	"context"
	"log"

	"github.com/google/uuid"

	"food-delivery/dispatch/events"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/store"
)

// broadcastShopOrder offers the shop-order to every available agent within the
// configured radius of the delivery address. A nil assignment with a nil error
// means no agents were available; the shop-order stays out-of-delivery and a
// retry is queued.
func (s *Service) broadcastShopOrder(ctx context.Context, order *models.Order, so *models.ShopOrder) (*models.Assignment, []models.AgentLocation, error) {
	nearby, err := s.store.QueryNear(ctx,
		order.DeliveryAddress.Longitude, order.DeliveryAddress.Latitude,
		s.cfg.BroadcastRadiusMeters)
	if err != nil {
		return nil, nil, err
	}
	candidates, err := s.filterAvailable(ctx, nearby)
	if err != nil {
		return nil, nil, err
	}

	if len(candidates) == 0 {
		s.logEvent(events.DispatchStarved, map[string]interface{}{
			"order_id":      order.ID,
			"shop_order_id": so.ID,
		})
		if s.retry != nil {
			if err := s.retry.Publish(order.ID, so.ID); err != nil {
				log.Printf("dispatch: queue rebroadcast for order %s: %v", order.ID, err)
			}
		}
		return nil, nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.AgentID
	}
	assignment := &models.Assignment{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		ShopID:        so.Shop,
		ShopOrderID:   so.ID,
		BroadcastedTo: ids,
		Status:        models.AssignmentBroadcasted,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateAssignment(ctx, assignment); err != nil {
		return nil, nil, err
	}
	so.AssignmentID = assignment.ID

	for _, c := range candidates {
		s.sendToAgent(c.AgentID, notify.EventNewAssignment, notify.NewAssignmentPayload{
			SentTo:          c.AgentID,
			AssignmentID:    assignment.ID,
			OrderID:         order.ID,
			ShopName:        so.ShopName,
			DeliveryAddress: order.DeliveryAddress,
			Items:           so.Items,
			Subtotal:        so.Subtotal,
		})
	}
	s.logEvent(events.AssignmentBroadcasted, map[string]interface{}{
		"assignment_id": assignment.ID,
		"order_id":      order.ID,
		"shop_order_id": so.ID,
		"candidates":    len(ids),
	})
	return assignment, candidates, nil
}

// filterAvailable drops agents that already hold an assigned delivery. The
// check here is advisory; the accept path re-checks it atomically at commit.
func (s *Service) filterAvailable(ctx context.Context, agents []models.AgentLocation) ([]models.AgentLocation, error) {
	available := make([]models.AgentLocation, 0, len(agents))
	for _, agent := range agents {
		active, err := s.store.ActiveByAgent(ctx, agent.AgentID)
		if err != nil {
			return nil, err
		}
		if active == nil {
			available = append(available, agent)
		}
	}
	return available, nil
}

// Rebroadcast retries a starved broadcast. It is a no-op when the shop-order
// has moved on or an assignment exists by now.
func (s *Service) Rebroadcast(ctx context.Context, orderID, shopOrderID string) error {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	so := order.ShopOrderByID(shopOrderID)
	if so == nil {
		return store.ErrShopOrderNotFound
	}
	if so.Status != models.OrderStatusOutOfDelivery || so.AssignmentID != "" {
		return nil
	}
	_, _, err = s.broadcastShopOrder(ctx, order, so)
	if err == store.ErrAssignmentExists {
		return nil
	}
	return err
}
