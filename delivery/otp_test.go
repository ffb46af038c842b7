package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/store"
)

// deliveredOrder drives an order all the way to an accepted assignment so
// OTP tests start from a deliverable state.
func deliveredOrder(t *testing.T, svc *Service, st *store.Memory) (orderID, shopOrderID, assignmentID string) {
	t.Helper()
	order := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	result := toOutForDelivery(t, svc, order.ID, "shop-1")
	_, err := svc.Accept(context.Background(), result.Assignment.ID, "agent-a")
	require.NoError(t, err)
	return order.ID, result.ShopOrder.ID, result.Assignment.ID
}

func TestOTP_VerifyCompletesDelivery(t *testing.T) {
	svc, st, gw, mailer, _ := newTestService(t)
	ctx := context.Background()
	orderID, shopOrderID, assignmentID := deliveredOrder(t, svc, st)

	require.NoError(t, svc.IssueOTP(ctx, orderID, shopOrderID))
	code := mailer.lastCode("user-1")
	require.Len(t, code, 4)

	require.NoError(t, svc.VerifyOTP(ctx, orderID, shopOrderID, code))

	order, err := st.GetOrder(ctx, orderID)
	require.NoError(t, err)
	so := order.ShopOrderByID(shopOrderID)
	assert.Equal(t, models.OrderStatusDelivered, so.Status)
	require.NotNil(t, so.DeliveredAt)

	assignment, err := st.GetAssignment(ctx, assignmentID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCompleted, assignment.Status)

	// The agent is free for the next broadcast.
	active, err := st.ActiveByAgent(ctx, "agent-a")
	require.NoError(t, err)
	assert.Nil(t, active)

	sent := gw.sentTo("user-1", notify.EventUpdateStatus)
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1].Payload.(notify.StatusUpdatePayload)
	assert.Equal(t, "delivered", last.Status)
}

func TestOTP_WrongCodeRejected(t *testing.T) {
	svc, st, _, mailer, _ := newTestService(t)
	ctx := context.Background()
	orderID, shopOrderID, _ := deliveredOrder(t, svc, st)

	require.NoError(t, svc.IssueOTP(ctx, orderID, shopOrderID))
	code := mailer.lastCode("user-1")
	wrong := "1234"
	if wrong == code {
		wrong = "4321"
	}

	err := svc.VerifyOTP(ctx, orderID, shopOrderID, wrong)
	assert.ErrorIs(t, err, store.ErrInvalidOTP)

	// Nothing changed; the real code still works.
	order, err := st.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOutOfDelivery, order.ShopOrderByID(shopOrderID).Status)
	require.NoError(t, svc.VerifyOTP(ctx, orderID, shopOrderID, code))
}

func TestOTP_Expires(t *testing.T) {
	svc, st, _, mailer, _ := newTestService(t)
	ctx := context.Background()
	orderID, shopOrderID, _ := deliveredOrder(t, svc, st)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	require.NoError(t, svc.IssueOTP(ctx, orderID, shopOrderID))
	code := mailer.lastCode("user-1")

	// Just inside the 5 minute window the code is still good; just past it,
	// it is not.
	svc.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	err := svc.VerifyOTP(ctx, orderID, shopOrderID, code)
	assert.ErrorIs(t, err, store.ErrInvalidOTP)

	svc.now = func() time.Time { return base.Add(4 * time.Minute) }
	require.NoError(t, svc.VerifyOTP(ctx, orderID, shopOrderID, code))
}

func TestOTP_ReissueReplacesCode(t *testing.T) {
	svc, st, _, mailer, _ := newTestService(t)
	ctx := context.Background()
	orderID, shopOrderID, _ := deliveredOrder(t, svc, st)

	require.NoError(t, svc.IssueOTP(ctx, orderID, shopOrderID))
	first := mailer.lastCode("user-1")
	var second string
	for i := 0; i < 50; i++ {
		require.NoError(t, svc.IssueOTP(ctx, orderID, shopOrderID))
		second = mailer.lastCode("user-1")
		if second != first {
			break
		}
	}
	require.NotEqual(t, first, second)

	err := svc.VerifyOTP(ctx, orderID, shopOrderID, first)
	assert.ErrorIs(t, err, store.ErrInvalidOTP)
	require.NoError(t, svc.VerifyOTP(ctx, orderID, shopOrderID, second))
}

func TestOTP_SingleUse(t *testing.T) {
	svc, st, _, mailer, _ := newTestService(t)
	ctx := context.Background()
	orderID, shopOrderID, _ := deliveredOrder(t, svc, st)

	require.NoError(t, svc.IssueOTP(ctx, orderID, shopOrderID))
	code := mailer.lastCode("user-1")
	require.NoError(t, svc.VerifyOTP(ctx, orderID, shopOrderID, code))

	err := svc.VerifyOTP(ctx, orderID, shopOrderID, code)
	assert.ErrorIs(t, err, store.ErrInvalidOTP)
}

func TestOTP_UnknownShopOrder(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)

	err := svc.IssueOTP(ctx, order.ID, "missing")
	assert.ErrorIs(t, err, store.ErrShopOrderNotFound)
	err = svc.VerifyOTP(ctx, order.ID, "missing", "1234")
	assert.ErrorIs(t, err, store.ErrShopOrderNotFound)
}
