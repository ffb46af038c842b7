package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"food-delivery/dispatch/models"
)

// Redis is the production Store. Orders are kept as an immutable JSON shell
// plus one hash per shop-order for the mutable fields; assignments are hashes.
// Every check-then-set runs as a Lua script, a single server-side round trip,
// so the acceptance race and duplicate broadcasts are resolved inside Redis.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func orderKey(orderID string) string { return "order:" + orderID }
func shopOrderKey(orderID, shopOrderID string) string {
	return "shoporder:" + orderID + ":" + shopOrderID
}
func assignmentKey(id string) string     { return "assignment:" + id }
func userOrdersKey(userID string) string { return "orders:user:" + userID }
func agentOrdersKey(agentID string) string {
	return "orders:agent:" + agentID
}
func openAssignmentsKey(agentID string) string {
	return "assignments:open:" + agentID
}
func activeAssignmentKey(agentID string) string {
	return "agent:active:" + agentID
}

var statusCASScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[2])
return 1
`)

var createAssignmentScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "assignment")
if cur and cur ~= "" then
  return 0
end
redis.call("HSET", KEYS[1], "assignment", ARGV[1])
redis.call("HSET", KEYS[2], "doc", ARGV[2], "status", ARGV[3])
return 1
`)

var acceptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return "not_found"
end
if redis.call("HGET", KEYS[1], "status") ~= "brodcasted" then
  return "expired"
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return "busy"
end
redis.call("HSET", KEYS[1], "status", "assigned", "assigned_to", ARGV[1], "accepted_at", ARGV[2])
redis.call("SET", KEYS[2], ARGV[3])
redis.call("HSET", KEYS[3], "assigned_to", ARGV[1])
redis.call("SADD", KEYS[4], ARGV[4])
return "ok"
`)

var verifyOTPScript = redis.NewScript(`
local otp = redis.call("HGET", KEYS[1], "otp")
local exp = tonumber(redis.call("HGET", KEYS[1], "otp_expires"))
if not otp or otp == "" or otp ~= ARGV[1] or not exp or exp < tonumber(ARGV[2]) then
  return 0
end
redis.call("HSET", KEYS[1], "status", "delivered", "delivered_at", ARGV[3])
redis.call("HDEL", KEYS[1], "otp", "otp_expires")
if redis.call("EXISTS", KEYS[2]) == 1 then
  redis.call("HSET", KEYS[2], "status", "completed")
end
redis.call("DEL", KEYS[3])
return 1
`)

func (s *Redis) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, orderKey(o.ID), data, 0)
	pipe.LPush(ctx, userOrdersKey(o.User), o.ID)
	for i := range o.ShopOrders {
		so := &o.ShopOrders[i]
		pipe.HSet(ctx, shopOrderKey(o.ID, so.ID), "status", string(so.Status))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Redis) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	var o models.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	for i := range o.ShopOrders {
		so := &o.ShopOrders[i]
		fields, err := s.rdb.HGetAll(ctx, shopOrderKey(orderID, so.ID)).Result()
		if err != nil {
			return nil, err
		}
		mergeShopOrderFields(so, fields)
	}
	return &o, nil
}

// mergeShopOrderFields overlays the mutable hash fields onto the immutable
// order shell.
func mergeShopOrderFields(so *models.ShopOrder, fields map[string]string) {
	if v, ok := fields["status"]; ok && v != "" {
		so.Status = models.OrderStatus(v)
	}
	so.AssignmentID = fields["assignment"]
	so.AssignedDeliveryBoy = fields["assigned_to"]
	so.DeliveryOTP = fields["otp"]
	if v := fields["otp_expires"]; v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			so.OTPExpires = time.Unix(sec, 0)
		}
	}
	if v := fields["delivered_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			so.DeliveredAt = &t
		}
	}
}

func (s *Redis) OrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	ids, err := s.rdb.LRange(ctx, userOrdersKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchOrders(ctx, ids)
}

func (s *Redis) OrdersByAgent(ctx context.Context, agentID string) ([]*models.Order, error) {
	ids, err := s.rdb.SMembers(ctx, agentOrdersKey(agentID)).Result()
	if err != nil {
		return nil, err
	}
	orders, err := s.fetchOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortOrdersNewestFirst(orders)
	return orders, nil
}

func (s *Redis) fetchOrders(ctx context.Context, ids []string) ([]*models.Order, error) {
	orders := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetOrder(ctx, id)
		if err == ErrOrderNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *Redis) UpdateShopOrderStatus(ctx context.Context, orderID, shopOrderID string, from, to models.OrderStatus) error {
	key := shopOrderKey(orderID, shopOrderID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrShopOrderNotFound
	}
	res, err := statusCASScript.Run(ctx, s.rdb, []string{key}, string(from), string(to)).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *Redis) SetDeliveryOTP(ctx context.Context, orderID, shopOrderID, code string, expires time.Time) error {
	key := shopOrderKey(orderID, shopOrderID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrShopOrderNotFound
	}
	return s.rdb.HSet(ctx, key, "otp", code, "otp_expires", expires.Unix()).Err()
}

func (s *Redis) VerifyDeliveryOTP(ctx context.Context, orderID, shopOrderID, code string, now time.Time) (*models.Assignment, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	so := order.ShopOrderByID(shopOrderID)
	if so == nil {
		return nil, ErrShopOrderNotFound
	}
	keys := []string{
		shopOrderKey(orderID, shopOrderID),
		assignmentKey(so.AssignmentID),
		activeAssignmentKey(so.AssignedDeliveryBoy),
	}
	res, err := verifyOTPScript.Run(ctx, s.rdb, keys,
		code, now.Unix(), now.Format(time.RFC3339Nano)).Int64()
	if err != nil {
		return nil, err
	}
	if res == 0 {
		return nil, ErrInvalidOTP
	}
	if so.AssignmentID == "" {
		return nil, nil
	}
	return s.GetAssignment(ctx, so.AssignmentID)
}

func (s *Redis) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = models.AssignmentBroadcasted
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	keys := []string{
		shopOrderKey(a.OrderID, a.ShopOrderID),
		assignmentKey(a.ID),
	}
	res, err := createAssignmentScript.Run(ctx, s.rdb, keys,
		a.ID, doc, string(a.Status)).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrAssignmentExists
	}
	pipe := s.rdb.Pipeline()
	for _, agentID := range a.BroadcastedTo {
		pipe.SAdd(ctx, openAssignmentsKey(agentID), a.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index open assignments: %w", err)
	}
	return nil
}

func (s *Redis) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	fields, err := s.rdb.HGetAll(ctx, assignmentKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrAssignmentNotFound
	}
	var a models.Assignment
	if err := json.Unmarshal([]byte(fields["doc"]), &a); err != nil {
		return nil, err
	}
	if v := fields["status"]; v != "" {
		a.Status = models.AssignmentStatus(v)
	}
	if v := fields["assigned_to"]; v != "" {
		a.AssignedTo = v
	}
	if v := fields["accepted_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			a.AcceptedAt = &t
		}
	}
	return &a, nil
}

func (s *Redis) AcceptAssignment(ctx context.Context, id, agentID string, now time.Time) (*models.Assignment, error) {
	a, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := []string{
		assignmentKey(id),
		activeAssignmentKey(agentID),
		shopOrderKey(a.OrderID, a.ShopOrderID),
		agentOrdersKey(agentID),
	}
	res, err := acceptScript.Run(ctx, s.rdb, keys,
		agentID, now.Format(time.RFC3339Nano), id, a.OrderID).Text()
	if err != nil {
		return nil, err
	}
	switch res {
	case "ok":
	case "not_found":
		return nil, ErrAssignmentNotFound
	case "expired":
		return nil, ErrAssignmentExpired
	case "busy":
		return nil, ErrAgentBusy
	default:
		return nil, fmt.Errorf("accept assignment: unexpected script result %q", res)
	}
	return s.GetAssignment(ctx, id)
}

func (s *Redis) BroadcastedTo(ctx context.Context, agentID string) ([]*models.Assignment, error) {
	ids, err := s.rdb.SMembers(ctx, openAssignmentsKey(agentID)).Result()
	if err != nil {
		return nil, err
	}
	var out []*models.Assignment
	for _, id := range ids {
		a, err := s.GetAssignment(ctx, id)
		if err == ErrAssignmentNotFound || (err == nil && a.Status != models.AssignmentBroadcasted) {
			// Taken or gone; drop the stale index entry.
			s.rdb.SRem(ctx, openAssignmentsKey(agentID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Redis) ActiveByAgent(ctx context.Context, agentID string) (*models.Assignment, error) {
	id, err := s.rdb.Get(ctx, activeAssignmentKey(agentID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a, err := s.GetAssignment(ctx, id)
	if err == ErrAssignmentNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Status != models.AssignmentAssigned {
		return nil, nil
	}
	return a, nil
}
