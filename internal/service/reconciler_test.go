package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/gateway"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(fs *fakeStore, userID int64) *models.Order {
	order := &models.Order{
		UserID:          userID,
		Subtotal:        decimal.NewFromInt(1000),
		Tax:             decimal.NewFromInt(180),
		Total:           decimal.NewFromInt(1180),
		PaymentMethod:   models.PaymentMethodStripe,
		PaymentStatus:   models.PaymentStatusPending,
		OrderStatus:     models.OrderStatusPending,
		StripeSessionID: "cs_test_1",
	}
	items := []models.OrderItem{
		{ProductID: 1, Name: "Keyboard", UnitPrice: decimal.NewFromInt(400), Quantity: 2},
		{ProductID: 2, Name: "Mouse", UnitPrice: decimal.NewFromInt(200), Quantity: 1},
	}
	fs.stock[1] = 10
	fs.stock[2] = 10
	return fs.addOrder(order, items)
}

func newTestReconciler(fs *fakeStore, gw *fakeGateway) (*Reconciler, *fakePublisher) {
	pub := &fakePublisher{}
	return NewReconciler(fs, gw, newFakeCache(), pub), pub
}

func TestVerifySessionHappyPath(t *testing.T) {
	fs := newFakeStore()
	order := newTestOrder(fs, 7)
	gw := &fakeGateway{sessionState: gateway.StatePaid, paymentIntent: "pi_123"}
	r, pub := newTestReconciler(fs, gw)

	got, err := r.VerifySession(context.Background(), 7, "cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, got.OrderStatus)
	assert.Equal(t, "pi_123", got.StripePaymentID)
	assert.True(t, got.FulfillmentApplied)

	assert.Equal(t, 8, fs.stock[1])
	assert.Equal(t, 9, fs.stock[2])
	assert.Equal(t, 1, fs.decrements[1])
	assert.Equal(t, 1, fs.decrements[2])
	assert.Equal(t, 1, pub.completedCount())
	_ = order
}

func TestReconcileIdempotentAcrossEntryPoints(t *testing.T) {
	fs := newFakeStore()
	order := newTestOrder(fs, 7)
	gw := &fakeGateway{sessionState: gateway.StatePaid, intentState: gateway.StatePaid, paymentIntent: "pi_123"}
	r, pub := newTestReconciler(fs, gw)

	ctx := context.Background()

	// Each of the three entry points observes the same paid session.
	_, err := r.VerifySession(ctx, 7, "cs_test_1")
	require.NoError(t, err)
	_, err = r.ConfirmPayment(ctx, 7, order.ID, "pi_123")
	require.NoError(t, err)
	_, err = r.SessionStatus(ctx, "cs_test_1", time.Second)
	require.NoError(t, err)
	got, err := r.VerifySession(ctx, 7, "cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)
	assert.Equal(t, 1, fs.decrements[1], "stock decremented more than once")
	assert.Equal(t, 1, fs.decrements[2], "stock decremented more than once")
	assert.Equal(t, 1, pub.completedCount())
}

func TestReconcileConcurrentExactlyOnce(t *testing.T) {
	fs := newFakeStore()
	order := newTestOrder(fs, 7)
	gw := &fakeGateway{sessionState: gateway.StatePaid, intentState: gateway.StatePaid, paymentIntent: "pi_123"}
	r, pub := newTestReconciler(fs, gw)

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				_, _ = r.VerifySession(context.Background(), 7, "cs_test_1")
			} else {
				_, _ = r.ConfirmPayment(context.Background(), 7, order.ID, "pi_123")
			}
		}(i)
	}
	wg.Wait()

	got := fs.orderCopy(order.ID)
	assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)
	assert.Equal(t, 1, fs.decrements[1], "decrement must run exactly once under race")
	assert.Equal(t, 1, fs.decrements[2], "decrement must run exactly once under race")
	assert.Equal(t, 8, fs.stock[1])
	assert.Equal(t, 1, pub.completedCount())
}

func TestCompletedOrderNeverRegresses(t *testing.T) {
	fs := newFakeStore()
	order := newTestOrder(fs, 7)
	gw := &fakeGateway{sessionState: gateway.StatePaid, paymentIntent: "pi_123"}
	r, _ := newTestReconciler(fs, gw)

	_, err := r.VerifySession(context.Background(), 7, "cs_test_1")
	require.NoError(t, err)

	// A stale terminal-failure answer arrives after completion.
	gw.mu.Lock()
	gw.sessionState = gateway.StateFailed
	gw.mu.Unlock()

	got, err := r.VerifySession(context.Background(), 7, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, got.OrderStatus)
	_ = order
}

func TestFailedPaymentTransition(t *testing.T) {
	fs := newFakeStore()
	newTestOrder(fs, 7)
	gw := &fakeGateway{sessionState: gateway.StateFailed}
	r, pub := newTestReconciler(fs, gw)

	got, err := r.VerifySession(context.Background(), 7, "cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusFailed, got.PaymentStatus)
	assert.False(t, got.FulfillmentApplied)
	assert.Equal(t, 10, fs.stock[1], "no inventory change on failed payment")
	assert.Len(t, pub.failed, 1)
}

func TestOpenSessionLeavesOrderUnchanged(t *testing.T) {
	fs := newFakeStore()
	newTestOrder(fs, 7)
	gw := &fakeGateway{sessionState: gateway.StateOpen}
	r, _ := newTestReconciler(fs, gw)

	got, err := r.VerifySession(context.Background(), 7, "cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPending, got.PaymentStatus)
	assert.Equal(t, 10, fs.stock[1])
}

func TestConfirmPaymentOwnerOnly(t *testing.T) {
	fs := newFakeStore()
	order := newTestOrder(fs, 7)
	gw := &fakeGateway{intentState: gateway.StatePaid}
	r, _ := newTestReconciler(fs, gw)

	_, err := r.ConfirmPayment(context.Background(), 99, order.ID, "pi_123")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	// Order untouched.
	assert.Equal(t, models.PaymentStatusPending, fs.orderCopy(order.ID).PaymentStatus)
}

func TestConfirmPaymentUnknownOrder(t *testing.T) {
	fs := newFakeStore()
	gw := &fakeGateway{intentState: gateway.StatePaid}
	r, _ := newTestReconciler(fs, gw)

	_, err := r.ConfirmPayment(context.Background(), 7, 404, "pi_123")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestSessionStatusCoarseAnswer(t *testing.T) {
	fs := newFakeStore()
	newTestOrder(fs, 7)
	gw := &fakeGateway{sessionState: gateway.StatePaid, paymentIntent: "pi_123", payerEmail: "jane.doe@example.com"}
	r, _ := newTestReconciler(fs, gw)

	// Unauthenticated poll: reconciles, but returns only coarse status
	// plus a masked email.
	resp, err := r.SessionStatus(context.Background(), "cs_test_1", time.Second)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "paid", resp.Status)
	assert.Equal(t, "j***@example.com", resp.CustomerEmail)
	assert.Equal(t, 1, fs.decrements[1])
}

func TestSessionStatusWithoutOrder(t *testing.T) {
	fs := newFakeStore()
	gw := &fakeGateway{sessionState: gateway.StateOpen, payerEmail: ""}
	r, _ := newTestReconciler(fs, gw)

	resp, err := r.SessionStatus(context.Background(), "cs_unknown", time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "open", resp.Status)
}

func TestFulfillmentDeferredNeverRevertsPayment(t *testing.T) {
	fs := newFakeStore()
	order := newTestOrder(fs, 7)
	fs.failFulfillment = fulfillAttempts // exhaust the in-request attempts
	gw := &fakeGateway{sessionState: gateway.StatePaid, paymentIntent: "pi_123"}
	r, _ := newTestReconciler(fs, gw)

	got, err := r.VerifySession(context.Background(), 7, "cs_test_1")
	require.NoError(t, err)

	// Payment stays completed even though the decrement failed.
	assert.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)
	assert.False(t, got.FulfillmentApplied)
	assert.Equal(t, 0, fs.decrements[1])

	// The sweep later lands the decrement exactly once.
	r.RetryFulfillment(context.Background(), order.ID)
	assert.Equal(t, 1, fs.decrements[1])
	assert.True(t, fs.orderCopy(order.ID).FulfillmentApplied)

	r.RetryFulfillment(context.Background(), order.ID)
	assert.Equal(t, 1, fs.decrements[1], "sweep must not repeat the decrement")
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j***@example.com", maskEmail("jane.doe@example.com"))
	assert.Equal(t, "", maskEmail(""))
	assert.Equal(t, "***", maskEmail("not-an-email"))
}
