package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/store"
)

// completeDelivery runs one order from placement to OTP-verified delivery by
// agent-a, with delivery completing at the given instant.
func completeDelivery(t *testing.T, svc *Service, st *store.Memory, mailer *fakeMailer, at time.Time) {
	t.Helper()
	ctx := context.Background()
	svc.now = func() time.Time { return at.Add(-time.Hour) }
	order := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	result := toOutForDelivery(t, svc, order.ID, "shop-1")
	_, err := svc.Accept(ctx, result.Assignment.ID, "agent-a")
	require.NoError(t, err)

	svc.now = func() time.Time { return at }
	require.NoError(t, svc.IssueOTP(ctx, order.ID, result.ShopOrder.ID))
	require.NoError(t, svc.VerifyOTP(ctx, order.ID, result.ShopOrder.ID, mailer.lastCode("user-1")))
}

func TestTodayDeliveries_CountsByHour(t *testing.T) {
	svc, st, _, mailer, _ := newTestService(t)

	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	completeDelivery(t, svc, st, mailer, noon.Add(10*time.Minute))
	completeDelivery(t, svc, st, mailer, noon.Add(40*time.Minute))
	completeDelivery(t, svc, st, mailer, noon.Add(2*time.Hour))
	// Yesterday's delivery must not count.
	completeDelivery(t, svc, st, mailer, noon.Add(-24*time.Hour))

	svc.now = func() time.Time { return noon.Add(3 * time.Hour) }
	stats, err := svc.TodayDeliveries(context.Background(), "agent-a")
	require.NoError(t, err)
	assert.Equal(t, []HourStat{{Hour: 12, Count: 2}, {Hour: 14, Count: 1}}, stats)

	stats, err = svc.TodayDeliveries(context.Background(), "agent-b")
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestOrdersForUser_NewestFirst(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base }
	first := placeTestOrder(t, svc)
	svc.now = func() time.Time { return base.Add(time.Hour) }
	second := placeTestOrder(t, svc)

	orders, err := svc.OrdersForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)

	orders, err = svc.OrdersForUser(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestGetOrder_NotFound(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}
