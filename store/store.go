package store

import (
	"context"
	"errors"
	"time"

	"food-delivery/dispatch/models"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrShopOrderNotFound = errors.New("shop order not found")

	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrAssignmentExpired means the assignment is no longer open for
	// acceptance: someone else took it, or it already completed.
	ErrAssignmentExpired = errors.New("assignment is expired")
	// ErrAgentBusy means the agent already holds an assigned delivery.
	ErrAgentBusy = errors.New("agent is already assigned to another order")
	// ErrAssignmentExists means the shop-order already has an outstanding
	// assignment linked to it.
	ErrAssignmentExists = errors.New("shop order already has an assignment")

	// ErrStatusConflict means a conditional status update lost: the record's
	// current status was not the expected one.
	ErrStatusConflict = errors.New("order status conflict")
	ErrInvalidOTP     = errors.New("invalid or expired otp")
)

// OrderStore persists customer orders and their embedded shop-orders. Every
// shop-order mutation is a server-side conditional update addressed by
// (orderID, shopOrderID); a failed call leaves the record untouched.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]*models.Order, error)
	OrdersByAgent(ctx context.Context, agentID string) ([]*models.Order, error)

	// UpdateShopOrderStatus is a compare-and-set: it succeeds only if the
	// shop-order status still equals from.
	UpdateShopOrderStatus(ctx context.Context, orderID, shopOrderID string, from, to models.OrderStatus) error

	SetDeliveryOTP(ctx context.Context, orderID, shopOrderID, code string, expires time.Time) error

	// VerifyDeliveryOTP atomically checks the code against the stored one and
	// its expiry, marks the shop-order delivered, completes the linked
	// assignment and frees its agent. Returns the completed assignment, or
	// ErrInvalidOTP with no state change.
	VerifyDeliveryOTP(ctx context.Context, orderID, shopOrderID, code string, now time.Time) (*models.Assignment, error)
}

// AssignmentStore persists broadcast/acceptance records.
type AssignmentStore interface {
	// CreateAssignment persists a and links it to its shop-order in one atomic
	// step, guarded by the shop-order having no outstanding assignment.
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)

	// AcceptAssignment resolves the acceptance race in one atomic conditional
	// update: the assignment must still be broadcasted and the agent must not
	// hold another assigned record. On success it also stamps the shop-order's
	// assignedDeliveryBoy. Returns the updated assignment.
	AcceptAssignment(ctx context.Context, id, agentID string, now time.Time) (*models.Assignment, error)

	// BroadcastedTo lists open assignments offered to the agent.
	BroadcastedTo(ctx context.Context, agentID string) ([]*models.Assignment, error)
	// ActiveByAgent returns the agent's assignment in status assigned, or
	// (nil, nil) when the agent is free.
	ActiveByAgent(ctx context.Context, agentID string) (*models.Assignment, error)
}

// GeoIndex answers proximity queries over agent last-known locations.
type GeoIndex interface {
	UpdateLocation(ctx context.Context, agentID string, lon, lat float64) error
	SetOnline(ctx context.Context, agentID string, online bool) error
	// QueryNear returns online agents within radiusMeters of the point,
	// ordered by distance.
	QueryNear(ctx context.Context, lon, lat, radiusMeters float64) ([]models.AgentLocation, error)
	// GetLocation returns the agent's last-known position, or (nil, nil) when
	// the agent never reported one.
	GetLocation(ctx context.Context, agentID string) (*models.AgentLocation, error)
}

// Store is the full persistence surface the dispatch service runs on.
type Store interface {
	OrderStore
	AssignmentStore
	GeoIndex
}
