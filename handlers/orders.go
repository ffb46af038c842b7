package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"

	"food-delivery/dispatch/delivery"
	"food-delivery/dispatch/models"
)

// isAuth validates the Bearer token and stashes the caller's user id.
// Session issuance lives in the auth service; this only parses.
func (s *Server) isAuth(c *fiber.Ctx) error {
	auth := c.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return fiber.ErrUnauthorized
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(auth[len(prefix):], claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.SecretKey), nil
	})
	if err != nil {
		return fiber.ErrUnauthorized
	}
	userID, _ := claims["userId"].(string)
	if userID == "" {
		return fiber.ErrUnauthorized
	}
	c.Locals("userId", userID)
	return c.Next()
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("userId").(string)
	return id
}

type placeOrderRequest struct {
	CartItems       []delivery.CartItem    `json:"cartItems"`
	PaymentMethod   models.PaymentMethod   `json:"paymentMethod"`
	DeliveryAddress models.DeliveryAddress `json:"deliveryAddress"`
}

func (s *Server) placeOrder(c *fiber.Ctx) error {
	var req placeOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	order, err := s.svc.PlaceOrder(c.Context(), delivery.PlaceOrderInput{
		UserID:          userID(c),
		PaymentMethod:   req.PaymentMethod,
		DeliveryAddress: req.DeliveryAddress,
		CartItems:       req.CartItems,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

func (s *Server) myOrders(c *fiber.Ctx) error {
	orders, err := s.svc.OrdersForUser(c.Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(orders)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateStatus(c *fiber.Ctx) error {
	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		return err
	}
	result, err := s.svc.UpdateStatus(c.Context(), c.Params("orderId"), c.Params("shopId"), status)
	if err != nil {
		return err
	}
	if result.NoAgentsAvailable {
		return c.JSON(fiber.Map{
			"message": "order status updated but no available delivery boys",
		})
	}
	return c.JSON(fiber.Map{
		"shopOrder":           result.ShopOrder,
		"assignedDeliveryBoy": result.ShopOrder.AssignedDeliveryBoy,
		"availableBoys":       result.Candidates,
		"assignment":          result.Assignment,
	})
}

func (s *Server) getAssignments(c *fiber.Ctx) error {
	offers, err := s.svc.OpenOffers(c.Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(offers)
}

func (s *Server) getCurrentOrder(c *fiber.Ctx) error {
	current, err := s.svc.CurrentOrderFor(c.Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(current)
}

type otpRequest struct {
	OrderID     string `json:"orderId"`
	ShopOrderID string `json:"shopOrderId"`
	OTP         string `json:"otp"`
}

func (s *Server) sendDeliveryOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.svc.IssueOTP(c.Context(), req.OrderID, req.ShopOrderID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Otp sent Successfully"})
}

func (s *Server) verifyDeliveryOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.svc.VerifyOTP(c.Context(), req.OrderID, req.ShopOrderID, req.OTP); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Order Delivered Successfully!"})
}

func (s *Server) acceptOrder(c *fiber.Ctx) error {
	_, err := s.svc.Accept(c.Context(), c.Params("assignmentId"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "order accepted"})
}

func (s *Server) getOrderByID(c *fiber.Ctx) error {
	order, err := s.svc.GetOrder(c.Context(), c.Params("orderId"))
	if err != nil {
		return err
	}
	return c.JSON(order)
}

func (s *Server) todayDeliveries(c *fiber.Ctx) error {
	stats, err := s.svc.TodayDeliveries(c.Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(stats)
}
