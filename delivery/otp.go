package delivery

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"

	"food-delivery/dispatch/events"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/store"
)

// IssueOTP generates a fresh 4-digit delivery code for the shop-order,
// overwriting any earlier one, and mails it to the customer. A mail failure
// is logged; the code still stands.
func (s *Service) IssueOTP(ctx context.Context, orderID, shopOrderID string) error {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.ShopOrderByID(shopOrderID) == nil {
		return store.ErrShopOrderNotFound
	}

	code, err := generateOTP()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.cfg.OTPTTL)
	if err := s.store.SetDeliveryOTP(ctx, orderID, shopOrderID, code, expires); err != nil {
		return err
	}
	if s.otp != nil {
		if err := s.otp.SendCode(order.User, code); err != nil {
			log.Printf("dispatch: send otp for order %s: %v", orderID, err)
		}
	}
	s.logEvent(events.OTPIssued, map[string]interface{}{
		"order_id":      orderID,
		"shop_order_id": shopOrderID,
	})
	return nil
}

// VerifyOTP completes the delivery: with a matching, unexpired code the
// shop-order becomes delivered, the assignment completes and the agent is
// freed — atomically. A wrong or expired code returns store.ErrInvalidOTP
// and changes nothing.
func (s *Service) VerifyOTP(ctx context.Context, orderID, shopOrderID, code string) error {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	so := order.ShopOrderByID(shopOrderID)
	if so == nil {
		return store.ErrShopOrderNotFound
	}

	assignment, err := s.store.VerifyDeliveryOTP(ctx, orderID, shopOrderID, code, s.now())
	if err != nil {
		return err
	}

	s.sendToCustomer(order.User, notify.EventUpdateStatus, notify.StatusUpdatePayload{
		OrderID: order.ID,
		ShopID:  so.Shop,
		Status:  string(models.OrderStatusDelivered),
		UserID:  order.User,
	})
	fields := map[string]interface{}{
		"order_id":      orderID,
		"shop_order_id": shopOrderID,
	}
	if assignment != nil {
		fields["assignment_id"] = assignment.ID
		fields["agent_id"] = assignment.AssignedTo
	}
	s.logEvent(events.OrderDelivered, fields)
	return nil
}

// generateOTP returns a 4-digit code in [1000, 9999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", 1000+n.Int64()), nil
}
