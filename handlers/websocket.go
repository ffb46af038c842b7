package handlers

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt"

	"food-delivery/dispatch/notify"
)

func (s *Server) validateWSToken(c *fiber.Ctx) error {
	token := c.Query("token")
	userID := c.Query("user_id")

	if token == "" || userID == "" {
		return fiber.ErrUnauthorized
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.SecretKey), nil
	})
	if err != nil || claims["userId"] != userID {
		return fiber.ErrUnauthorized
	}

	return c.Next()
}

type wsMessage struct {
	Event     string  `json:"event"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// handleWS is the live connection for both customers and delivery agents.
// Registering makes the user reachable for notifications; location reports
// from agents feed the geo index and are fanned out to tracking screens.
func (s *Server) handleWS(c *websocket.Conn) {
	userID := c.Query("user_id")
	ctx := context.Background()

	s.registry.Register(userID, c)
	if err := s.geo.SetOnline(ctx, userID, true); err != nil {
		log.Printf("ws: set %s online: %v", userID, err)
	}
	defer func() {
		s.registry.Unregister(c)
		if err := s.geo.SetOnline(ctx, userID, false); err != nil {
			log.Printf("ws: set %s offline: %v", userID, err)
		}
		c.Close()
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Event != "updateLocation" {
			continue
		}
		if err := s.geo.UpdateLocation(ctx, userID, msg.Longitude, msg.Latitude); err != nil {
			log.Printf("ws: update location for %s: %v", userID, err)
			continue
		}
		s.gateway.Broadcast(notify.EventDeliveryLocation, notify.DeliveryLocationPayload{
			DeliveryBoyID: userID,
			Latitude:      msg.Latitude,
			Longitude:     msg.Longitude,
		})
	}
}
