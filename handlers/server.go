package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"food-delivery/dispatch/config"
	"food-delivery/dispatch/delivery"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/store"
)

type Server struct {
	cfg      *config.Config
	svc      *delivery.Service
	registry *notify.Registry
	gateway  *notify.Gateway
	geo      store.GeoIndex
}

func NewServer(cfg *config.Config, svc *delivery.Service, registry *notify.Registry, gateway *notify.Gateway, geo store.GeoIndex) *Server {
	return &Server{
		cfg:      cfg,
		svc:      svc,
		registry: registry,
		gateway:  gateway,
		geo:      geo,
	}
}

func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", healthCheck)

	order := app.Group("/api/order", s.isAuth)
	order.Post("/place-order", s.placeOrder)
	order.Get("/my-orders", s.myOrders)
	order.Post("/update-status/:orderId/:shopId", s.updateStatus)
	order.Get("/get-assignments", s.getAssignments)
	order.Get("/get-current-order", s.getCurrentOrder)
	order.Post("/send-delivery-otp", s.sendDeliveryOTP)
	order.Post("/verify-delivery-otp", s.verifyDeliveryOTP)
	order.Get("/accept-order/:assignmentId", s.acceptOrder)
	order.Get("/get-order-by-id/:orderId", s.getOrderByID)
	order.Get("/get-today-deliveries", s.todayDeliveries)

	app.Use("/ws", s.validateWSToken)
	app.Get("/ws", websocket.New(s.handleWS))
}

func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now(),
	})
}

// ErrorHandler maps typed domain errors onto HTTP statuses.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrShopOrderNotFound),
		errors.Is(err, store.ErrAssignmentNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, store.ErrAssignmentExpired),
		errors.Is(err, store.ErrAgentBusy),
		errors.Is(err, store.ErrAssignmentExists),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, store.ErrInvalidOTP):
		code = fiber.StatusConflict
	case errors.Is(err, delivery.ErrEmptyCart),
		errors.Is(err, delivery.ErrIncompleteAddress),
		errors.Is(err, delivery.ErrBadPaymentMethod),
		errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, models.ErrInvalidTransition):
		code = fiber.StatusBadRequest
	}
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"message": err.Error(),
	})
}
