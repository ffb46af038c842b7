package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"food-delivery/dispatch/models"
)

// Memory is an in-process Store with the same conditional-update semantics as
// the Redis backend: every check-then-set runs under one lock, so concurrent
// accepts still produce exactly one winner. Used by tests and local runs.
type Memory struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	assignments map[string]*models.Assignment
	agents      map[string]*memAgent
}

type memAgent struct {
	lon, lat float64
	online   bool
	located  bool
}

func NewMemory() *Memory {
	return &Memory{
		orders:      make(map[string]*models.Order),
		assignments: make(map[string]*models.Assignment),
		agents:      make(map[string]*memAgent),
	}
}

func (m *Memory) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	m.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *Memory) OrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.User == userID {
			out = append(out, copyOrder(o))
		}
	}
	sortOrdersNewestFirst(out)
	return out, nil
}

func (m *Memory) OrdersByAgent(ctx context.Context, agentID string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		for i := range o.ShopOrders {
			if o.ShopOrders[i].AssignedDeliveryBoy == agentID {
				out = append(out, copyOrder(o))
				break
			}
		}
	}
	sortOrdersNewestFirst(out)
	return out, nil
}

func (m *Memory) UpdateShopOrderStatus(ctx context.Context, orderID, shopOrderID string, from, to models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, err := m.shopOrder(orderID, shopOrderID)
	if err != nil {
		return err
	}
	if so.Status != from {
		return ErrStatusConflict
	}
	so.Status = to
	return nil
}

func (m *Memory) SetDeliveryOTP(ctx context.Context, orderID, shopOrderID, code string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, err := m.shopOrder(orderID, shopOrderID)
	if err != nil {
		return err
	}
	so.DeliveryOTP = code
	so.OTPExpires = expires
	return nil
}

func (m *Memory) VerifyDeliveryOTP(ctx context.Context, orderID, shopOrderID, code string, now time.Time) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, err := m.shopOrder(orderID, shopOrderID)
	if err != nil {
		return nil, err
	}
	if so.DeliveryOTP == "" || so.DeliveryOTP != code || now.After(so.OTPExpires) {
		return nil, ErrInvalidOTP
	}
	deliveredAt := now
	so.Status = models.OrderStatusDelivered
	so.DeliveredAt = &deliveredAt
	so.DeliveryOTP = ""
	so.OTPExpires = time.Time{}

	a, ok := m.assignments[so.AssignmentID]
	if !ok {
		return nil, nil
	}
	a.Status = models.AssignmentCompleted
	return copyAssignment(a), nil
}

func (m *Memory) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	so, err := m.shopOrder(a.OrderID, a.ShopOrderID)
	if err != nil {
		return err
	}
	if so.AssignmentID != "" {
		return ErrAssignmentExists
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = models.AssignmentBroadcasted
	}
	so.AssignmentID = a.ID
	m.assignments[a.ID] = copyAssignment(a)
	return nil
}

func (m *Memory) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	return copyAssignment(a), nil
}

func (m *Memory) AcceptAssignment(ctx context.Context, id, agentID string, now time.Time) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	if a.Status != models.AssignmentBroadcasted {
		return nil, ErrAssignmentExpired
	}
	// Busy state is derived from assignment records, not a cached flag.
	for _, other := range m.assignments {
		if other.AssignedTo == agentID && other.Status == models.AssignmentAssigned {
			return nil, ErrAgentBusy
		}
	}
	acceptedAt := now
	a.Status = models.AssignmentAssigned
	a.AssignedTo = agentID
	a.AcceptedAt = &acceptedAt
	if so, err := m.shopOrder(a.OrderID, a.ShopOrderID); err == nil {
		so.AssignedDeliveryBoy = agentID
	}
	return copyAssignment(a), nil
}

func (m *Memory) BroadcastedTo(ctx context.Context, agentID string) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Assignment
	for _, a := range m.assignments {
		if a.Status != models.AssignmentBroadcasted {
			continue
		}
		for _, id := range a.BroadcastedTo {
			if id == agentID {
				out = append(out, copyAssignment(a))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActiveByAgent(ctx context.Context, agentID string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.AssignedTo == agentID && a.Status == models.AssignmentAssigned {
			return copyAssignment(a), nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateLocation(ctx context.Context, agentID string, lon, lat float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ag := m.agent(agentID)
	ag.lon, ag.lat = lon, lat
	ag.located = true
	ag.online = true
	return nil
}

func (m *Memory) SetOnline(ctx context.Context, agentID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agent(agentID).online = online
	return nil
}

func (m *Memory) QueryNear(ctx context.Context, lon, lat, radiusMeters float64) ([]models.AgentLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type hit struct {
		loc  models.AgentLocation
		dist float64
	}
	var hits []hit
	for id, ag := range m.agents {
		if !ag.online || !ag.located {
			continue
		}
		d := haversineMeters(lat, lon, ag.lat, ag.lon)
		if d > radiusMeters {
			continue
		}
		hits = append(hits, hit{
			loc:  models.AgentLocation{AgentID: id, Longitude: ag.lon, Latitude: ag.lat},
			dist: d,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].loc.AgentID < hits[j].loc.AgentID
	})
	out := make([]models.AgentLocation, len(hits))
	for i, h := range hits {
		out[i] = h.loc
	}
	return out, nil
}

func (m *Memory) GetLocation(ctx context.Context, agentID string) (*models.AgentLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ag, ok := m.agents[agentID]
	if !ok || !ag.located {
		return nil, nil
	}
	return &models.AgentLocation{AgentID: agentID, Longitude: ag.lon, Latitude: ag.lat}, nil
}

func (m *Memory) agent(agentID string) *memAgent {
	ag, ok := m.agents[agentID]
	if !ok {
		ag = &memAgent{}
		m.agents[agentID] = ag
	}
	return ag
}

func (m *Memory) shopOrder(orderID, shopOrderID string) (*models.ShopOrder, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	so := o.ShopOrderByID(shopOrderID)
	if so == nil {
		return nil, ErrShopOrderNotFound
	}
	return so, nil
}

func sortOrdersNewestFirst(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.ShopOrders = make([]models.ShopOrder, len(o.ShopOrders))
	for i := range o.ShopOrders {
		so := o.ShopOrders[i]
		so.Items = append([]models.ShopOrderItem(nil), so.Items...)
		if so.DeliveredAt != nil {
			t := *so.DeliveredAt
			so.DeliveredAt = &t
		}
		c.ShopOrders[i] = so
	}
	return &c
}

func copyAssignment(a *models.Assignment) *models.Assignment {
	c := *a
	c.BroadcastedTo = append([]string(nil), a.BroadcastedTo...)
	if a.AcceptedAt != nil {
		t := *a.AcceptedAt
		c.AcceptedAt = &t
	}
	return &c
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
