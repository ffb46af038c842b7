package delivery

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/models"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/store"
)

type sentEvent struct {
	UserID  string
	Event   string
	Payload interface{}
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (g *fakeGateway) SendToAgent(agentID, event string, payload interface{}) {
	g.record(agentID, event, payload)
}

func (g *fakeGateway) SendToCustomer(userID, event string, payload interface{}) {
	g.record(userID, event, payload)
}

func (g *fakeGateway) record(userID, event string, payload interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentEvent{UserID: userID, Event: event, Payload: payload})
}

func (g *fakeGateway) sentTo(userID, event string) []sentEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sentEvent
	for _, e := range g.sent {
		if e.UserID == userID && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *fakeMailer) SendCode(recipient, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[recipient] = code
	return nil
}

func (m *fakeMailer) lastCode(recipient string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[recipient]
}

type fakeRetryQueue struct {
	mu        sync.Mutex
	published []string
}

func (q *fakeRetryQueue) Publish(orderID, shopOrderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, orderID+"/"+shopOrderID)
	return nil
}

func newTestService(t *testing.T) (*Service, *store.Memory, *fakeGateway, *fakeMailer, *fakeRetryQueue) {
	t.Helper()
	st := store.NewMemory()
	gw := &fakeGateway{}
	mailer := &fakeMailer{}
	retry := &fakeRetryQueue{}
	svc := NewService(st, gw, nil, mailer, retry, Config{})
	return svc, st, gw, mailer, retry
}

var testCart = []CartItem{
	{ItemID: "item-1", ShopID: "shop-1", ShopName: "Pizza Palace", OwnerID: "owner-1", Name: "Margherita", Price: 10, Quantity: 2},
	{ItemID: "item-2", ShopID: "shop-1", ShopName: "Pizza Palace", OwnerID: "owner-1", Name: "Cola", Price: 2.5, Quantity: 2},
}

var testAddress = models.DeliveryAddress{
	Text:      "12 Navoi street",
	Latitude:  41.30,
	Longitude: 69.24,
}

func placeTestOrder(t *testing.T, svc *Service) *models.Order {
	t.Helper()
	order, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:          "user-1",
		PaymentMethod:   models.PaymentCOD,
		DeliveryAddress: testAddress,
		CartItems:       testCart,
	})
	require.NoError(t, err)
	return order
}

// putAgentNearby registers an online agent close to the test address.
func putAgentNearby(t *testing.T, st *store.Memory, agentID string, offset float64) {
	t.Helper()
	err := st.UpdateLocation(context.Background(), agentID, testAddress.Longitude+offset, testAddress.Latitude)
	require.NoError(t, err)
}

// toOutForDelivery drives the shop-order through preparing into
// out-of-delivery and returns the refreshed shop-order.
func toOutForDelivery(t *testing.T, svc *Service, orderID, shopID string) *StatusResult {
	t.Helper()
	ctx := context.Background()
	_, err := svc.UpdateStatus(ctx, orderID, shopID, models.OrderStatusPreparing)
	require.NoError(t, err)
	result, err := svc.UpdateStatus(ctx, orderID, shopID, models.OrderStatusOutOfDelivery)
	require.NoError(t, err)
	return result
}

func TestPlaceOrder_GroupsCartByShop(t *testing.T) {
	svc, _, gw, _, _ := newTestService(t)

	cart := append([]CartItem{}, testCart...)
	cart = append(cart, CartItem{
		ItemID: "item-3", ShopID: "shop-2", ShopName: "Sushi Bar", OwnerID: "owner-2",
		Name: "Nigiri set", Price: 30, Quantity: 1,
	})
	order, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:          "user-1",
		PaymentMethod:   models.PaymentCOD,
		DeliveryAddress: testAddress,
		CartItems:       cart,
	})

	require.NoError(t, err)
	require.Len(t, order.ShopOrders, 2)
	assert.Equal(t, 25.0, order.ShopOrders[0].Subtotal) // 2*10 + 2*2.5
	assert.Equal(t, 30.0, order.ShopOrders[1].Subtotal)
	assert.Equal(t, 50.0, order.ShopOrders[0].DeliveryFee)
	// total = sum of subtotals + delivery fees
	assert.Equal(t, 25.0+50+30+50, order.TotalAmount)
	assert.Equal(t, models.OrderStatusPending, order.ShopOrders[0].Status)

	// Each shop owner is told about their part of the order.
	assert.Len(t, gw.sentTo("owner-1", notify.EventNewOrder), 1)
	assert.Len(t, gw.sentTo("owner-2", notify.EventNewOrder), 1)
}

func TestPlaceOrder_Validation(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID: "user-1", PaymentMethod: models.PaymentCOD, DeliveryAddress: testAddress,
	})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID: "user-1", PaymentMethod: models.PaymentCOD, CartItems: testCart,
		DeliveryAddress: models.DeliveryAddress{Text: "no coords"},
	})
	assert.ErrorIs(t, err, ErrIncompleteAddress)

	_, err = svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID: "user-1", PaymentMethod: "voucher", DeliveryAddress: testAddress, CartItems: testCart,
	})
	assert.ErrorIs(t, err, ErrBadPaymentMethod)
}

func TestUpdateStatus_ForwardOnly(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)

	// Skipping preparing is rejected.
	_, err := svc.UpdateStatus(ctx, order.ID, "shop-1", models.OrderStatusOutOfDelivery)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, order.ID, "shop-1", models.OrderStatusPreparing)
	require.NoError(t, err)

	// Reversal is rejected.
	_, err = svc.UpdateStatus(ctx, order.ID, "shop-1", models.OrderStatusPending)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// delivered is reserved for OTP verification.
	_, err = svc.UpdateStatus(ctx, order.ID, "shop-1", models.OrderStatusDelivered)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestUpdateStatus_NotifiesCustomer(t *testing.T) {
	svc, _, gw, _, _ := newTestService(t)
	order := placeTestOrder(t, svc)

	_, err := svc.UpdateStatus(context.Background(), order.ID, "shop-1", models.OrderStatusPreparing)
	require.NoError(t, err)

	sent := gw.sentTo("user-1", notify.EventUpdateStatus)
	require.Len(t, sent, 1)
	payload := sent[0].Payload.(notify.StatusUpdatePayload)
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, "shop-1", payload.ShopID)
	assert.Equal(t, "preparing", payload.Status)
	assert.Equal(t, "user-1", payload.UserID)
}

func TestBroadcast_OffersToNearbyAvailableAgents(t *testing.T) {
	svc, st, gw, _, _ := newTestService(t)
	order := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	putAgentNearby(t, st, "agent-b", 0.002)
	putAgentNearby(t, st, "agent-c", 0.003)

	result := toOutForDelivery(t, svc, order.ID, "shop-1")

	require.NotNil(t, result.Assignment)
	assert.Equal(t, models.AssignmentBroadcasted, result.Assignment.Status)
	assert.ElementsMatch(t, []string{"agent-a", "agent-b", "agent-c"}, result.Assignment.BroadcastedTo)
	assert.False(t, result.NoAgentsAvailable)

	offers := gw.sentTo("agent-b", notify.EventNewAssignment)
	require.Len(t, offers, 1)
	payload := offers[0].Payload.(notify.NewAssignmentPayload)
	assert.Equal(t, "agent-b", payload.SentTo)
	assert.Equal(t, result.Assignment.ID, payload.AssignmentID)
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, "Pizza Palace", payload.ShopName)
	assert.Equal(t, testAddress, payload.DeliveryAddress)
	assert.Equal(t, 25.0, payload.Subtotal)
	assert.Len(t, payload.Items, 2)
}

func TestBroadcast_ExcludesFarAndOfflineAgents(t *testing.T) {
	svc, st, gw, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)

	putAgentNearby(t, st, "agent-near", 0.001)
	// ~0.1 degrees of latitude is ~11 km, outside the 5 km radius.
	require.NoError(t, st.UpdateLocation(ctx, "agent-far", testAddress.Longitude, testAddress.Latitude+0.1))
	putAgentNearby(t, st, "agent-offline", 0.002)
	require.NoError(t, st.SetOnline(ctx, "agent-offline", false))

	result := toOutForDelivery(t, svc, order.ID, "shop-1")

	require.NotNil(t, result.Assignment)
	assert.Equal(t, []string{"agent-near"}, result.Assignment.BroadcastedTo)
	assert.Empty(t, gw.sentTo("agent-far", notify.EventNewAssignment))
	assert.Empty(t, gw.sentTo("agent-offline", notify.EventNewAssignment))
}

func TestBroadcast_NoAgentsAvailable(t *testing.T) {
	svc, st, _, _, retry := newTestService(t)
	order := placeTestOrder(t, svc)

	result := toOutForDelivery(t, svc, order.ID, "shop-1")

	assert.Nil(t, result.Assignment)
	assert.True(t, result.NoAgentsAvailable)

	// Status update persisted anyway; the shop-order awaits a rebroadcast.
	stored, err := st.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOutOfDelivery, stored.ShopOrders[0].Status)
	assert.Empty(t, stored.ShopOrders[0].AssignmentID)
	assert.Equal(t, []string{order.ID + "/" + stored.ShopOrders[0].ID}, retry.published)
}

func TestBroadcast_SkipsBusyAgents(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()

	// First order taken by agent-a, who is then busy.
	first := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	putAgentNearby(t, st, "agent-b", 0.002)
	firstResult := toOutForDelivery(t, svc, first.ID, "shop-1")
	_, err := svc.Accept(ctx, firstResult.Assignment.ID, "agent-a")
	require.NoError(t, err)

	second := placeTestOrder(t, svc)
	secondResult := toOutForDelivery(t, svc, second.ID, "shop-1")

	require.NotNil(t, secondResult.Assignment)
	assert.Equal(t, []string{"agent-b"}, secondResult.Assignment.BroadcastedTo)
}

func TestRebroadcast_NoopOnceAssigned(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)
	result := toOutForDelivery(t, svc, order.ID, "shop-1")
	require.True(t, result.NoAgentsAvailable)

	// An agent appears and a retry fires: exactly one assignment is created,
	// and further retries leave it alone.
	putAgentNearby(t, st, "agent-a", 0.001)
	require.NoError(t, svc.Rebroadcast(ctx, order.ID, result.ShopOrder.ID))
	require.NoError(t, svc.Rebroadcast(ctx, order.ID, result.ShopOrder.ID))

	stored, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ShopOrders[0].AssignmentID)
}

func TestAccept_FirstAgentWins(t *testing.T) {
	svc, st, gw, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	putAgentNearby(t, st, "agent-b", 0.002)
	putAgentNearby(t, st, "agent-c", 0.003)
	result := toOutForDelivery(t, svc, order.ID, "shop-1")

	accepted, err := svc.Accept(ctx, result.Assignment.ID, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentAssigned, accepted.Status)
	assert.Equal(t, "agent-b", accepted.AssignedTo)
	require.NotNil(t, accepted.AcceptedAt)

	stored, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-b", stored.ShopOrders[0].AssignedDeliveryBoy)

	// Losers get the retraction, the winner does not.
	taken := gw.sentTo("agent-a", notify.EventAssignmentTaken)
	require.Len(t, taken, 1)
	assert.Equal(t, notify.AssignmentTakenPayload{AssignmentID: result.Assignment.ID}, taken[0].Payload)
	assert.Len(t, gw.sentTo("agent-c", notify.EventAssignmentTaken), 1)
	assert.Empty(t, gw.sentTo("agent-b", notify.EventAssignmentTaken))
}

func TestAccept_SecondAgentLoses(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	putAgentNearby(t, st, "agent-b", 0.002)
	result := toOutForDelivery(t, svc, order.ID, "shop-1")

	_, err := svc.Accept(ctx, result.Assignment.ID, "agent-a")
	require.NoError(t, err)

	_, err = svc.Accept(ctx, result.Assignment.ID, "agent-b")
	assert.ErrorIs(t, err, store.ErrAssignmentExpired)
}

func TestAccept_UnknownAssignment(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.Accept(context.Background(), "nope", "agent-a")
	assert.ErrorIs(t, err, store.ErrAssignmentNotFound)
}

func TestAccept_BusyAgentRejected(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()
	putAgentNearby(t, st, "agent-a", 0.001)
	putAgentNearby(t, st, "agent-b", 0.002)

	first := placeTestOrder(t, svc)
	firstResult := toOutForDelivery(t, svc, first.ID, "shop-1")
	second := placeTestOrder(t, svc)
	secondResult := toOutForDelivery(t, svc, second.ID, "shop-1")

	_, err := svc.Accept(ctx, firstResult.Assignment.ID, "agent-a")
	require.NoError(t, err)

	// agent-a already carries a delivery; the second broadcast went out
	// before the first accept, so agent-a is still named on it.
	_, err = svc.Accept(ctx, secondResult.Assignment.ID, "agent-a")
	assert.ErrorIs(t, err, store.ErrAgentBusy)
}

func TestAccept_ConcurrentSingleWinner(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)
	agents := []string{"agent-1", "agent-2", "agent-3", "agent-4", "agent-5"}
	for i, id := range agents {
		putAgentNearby(t, st, id, 0.001*float64(i+1))
	}
	result := toOutForDelivery(t, svc, order.ID, "shop-1")
	require.Len(t, result.Assignment.BroadcastedTo, len(agents))

	var wg sync.WaitGroup
	errs := make([]error, len(agents))
	for i, id := range agents {
		wg.Add(1)
		go func(i int, agentID string) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, result.Assignment.ID, agentID)
		}(i, id)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case err == store.ErrAssignmentExpired || err == store.ErrAgentBusy:
			losses++
		default:
			t.Fatalf("unexpected accept error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, len(agents)-1, losses)
}

func TestOpenOffers(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	result := toOutForDelivery(t, svc, order.ID, "shop-1")

	offers, err := svc.OpenOffers(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, result.Assignment.ID, offers[0].AssignmentID)
	assert.Equal(t, "Pizza Palace", offers[0].ShopName)
	assert.Equal(t, 25.0, offers[0].Subtotal)

	// Once accepted, the offer list is empty again.
	_, err = svc.Accept(ctx, result.Assignment.ID, "agent-a")
	require.NoError(t, err)
	offers, err = svc.OpenOffers(ctx, "agent-a")
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestCurrentOrderFor(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()
	order := placeTestOrder(t, svc)
	putAgentNearby(t, st, "agent-a", 0.001)
	result := toOutForDelivery(t, svc, order.ID, "shop-1")

	_, err := svc.CurrentOrderFor(ctx, "agent-a")
	assert.ErrorIs(t, err, store.ErrAssignmentNotFound)

	_, err = svc.Accept(ctx, result.Assignment.ID, "agent-a")
	require.NoError(t, err)

	current, err := svc.CurrentOrderFor(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, order.ID, current.OrderID)
	assert.Equal(t, "user-1", current.User)
	assert.Equal(t, testAddress.Latitude, current.CustomerLocation.Lat)
	assert.Equal(t, testAddress.Longitude+0.001, current.DeliveryBoyLocation.Lon)
}
