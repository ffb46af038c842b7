package delivery

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"food-delivery/dispatch/events"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/store"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrIncompleteAddress = errors.New("send complete delivery address")
	ErrBadPaymentMethod  = errors.New("invalid payment method")
)

// CartItem is one line of the customer's cart, already resolved against the
// catalog by the caller (name and price are snapshots).
type CartItem struct {
	ItemID   string  `json:"_id"`
	ShopID   string  `json:"shop"`
	ShopName string  `json:"shopName"`
	OwnerID  string  `json:"owner"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type PlaceOrderInput struct {
	UserID          string
	PaymentMethod   models.PaymentMethod
	DeliveryAddress models.DeliveryAddress
	CartItems       []CartItem
}

// PlaceOrder groups the cart by shop into shop-orders, persists the order and
// notifies each shop owner.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*models.Order, error) {
	if len(in.CartItems) == 0 {
		return nil, ErrEmptyCart
	}
	if in.DeliveryAddress.Text == "" || in.DeliveryAddress.Latitude == 0 || in.DeliveryAddress.Longitude == 0 {
		return nil, ErrIncompleteAddress
	}
	if in.PaymentMethod != models.PaymentCOD && in.PaymentMethod != models.PaymentOnline {
		return nil, ErrBadPaymentMethod
	}

	// Group by shop, keeping first-seen shop order stable.
	byShop := make(map[string]*models.ShopOrder)
	var shopIDs []string
	for _, item := range in.CartItems {
		so, ok := byShop[item.ShopID]
		if !ok {
			so = &models.ShopOrder{
				ID:          uuid.New().String(),
				Shop:        item.ShopID,
				Owner:       item.OwnerID,
				ShopName:    item.ShopName,
				DeliveryFee: s.cfg.DeliveryFee,
				Status:      models.OrderStatusPending,
			}
			byShop[item.ShopID] = so
			shopIDs = append(shopIDs, item.ShopID)
		}
		so.Items = append(so.Items, models.ShopOrderItem{
			Item:     item.ItemID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
		so.Subtotal += item.Price * float64(item.Quantity)
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		User:            in.UserID,
		PaymentMethod:   in.PaymentMethod,
		DeliveryAddress: in.DeliveryAddress,
		CreatedAt:       s.now(),
	}
	for _, shopID := range shopIDs {
		so := byShop[shopID]
		order.TotalAmount += so.Subtotal + so.DeliveryFee
		order.ShopOrders = append(order.ShopOrders, *so)
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	for _, so := range order.ShopOrders {
		s.sendToCustomer(so.Owner, notify.EventNewOrder, notify.NewOrderPayload{
			OrderID:         order.ID,
			PaymentMethod:   order.PaymentMethod,
			User:            order.User,
			ShopOrder:       so,
			CreatedAt:       order.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			DeliveryAddress: order.DeliveryAddress,
			Payment:         order.Payment,
		})
	}
	s.logEvent(events.OrderPlaced, map[string]interface{}{
		"order_id":     order.ID,
		"user_id":      order.User,
		"total_amount": order.TotalAmount,
		"shop_orders":  len(order.ShopOrders),
	})
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

func (s *Service) OrdersForUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.store.OrdersByUser(ctx, userID)
}

// HourStat counts deliveries completed within one clock hour.
type HourStat struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// TodayDeliveries returns per-hour counts of the agent's deliveries completed
// since local midnight.
func (s *Service) TodayDeliveries(ctx context.Context, agentID string) ([]HourStat, error) {
	orders, err := s.store.OrdersByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	counts := make(map[int]int)
	for _, order := range orders {
		for _, so := range order.ShopOrders {
			if so.AssignedDeliveryBoy != agentID || so.Status != models.OrderStatusDelivered {
				continue
			}
			if so.DeliveredAt == nil || so.DeliveredAt.Before(start) {
				continue
			}
			counts[so.DeliveredAt.Hour()]++
		}
	}
	stats := make([]HourStat, 0, len(counts))
	for hour, count := range counts {
		stats = append(stats, HourStat{Hour: hour, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Hour < stats[j].Hour })
	return stats, nil
}

// CurrentOrder is the agent's active delivery with both party locations.
type CurrentOrder struct {
	OrderID             string                 `json:"_id"`
	User                string                 `json:"user"`
	ShopOrder           models.ShopOrder       `json:"shopOrder"`
	DeliveryAddress     models.DeliveryAddress `json:"deliveryAddress"`
	DeliveryBoyLocation LatLon                 `json:"deliveryBoyLocation"`
	CustomerLocation    LatLon                 `json:"customerLocation"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CurrentOrderFor returns the order backing the agent's assigned assignment,
// or store.ErrAssignmentNotFound when the agent has none.
func (s *Service) CurrentOrderFor(ctx context.Context, agentID string) (*CurrentOrder, error) {
	assignment, err := s.store.ActiveByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, store.ErrAssignmentNotFound
	}
	order, err := s.store.GetOrder(ctx, assignment.OrderID)
	if err != nil {
		return nil, err
	}
	so := order.ShopOrderByID(assignment.ShopOrderID)
	if so == nil {
		return nil, store.ErrShopOrderNotFound
	}

	cur := &CurrentOrder{
		OrderID:         order.ID,
		User:            order.User,
		ShopOrder:       *so,
		DeliveryAddress: order.DeliveryAddress,
		CustomerLocation: LatLon{
			Lat: order.DeliveryAddress.Latitude,
			Lon: order.DeliveryAddress.Longitude,
		},
	}
	if loc, err := s.store.GetLocation(ctx, agentID); err == nil && loc != nil {
		cur.DeliveryBoyLocation = LatLon{Lat: loc.Latitude, Lon: loc.Longitude}
	}
	return cur, nil
}
