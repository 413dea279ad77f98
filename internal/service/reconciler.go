package service

import (
	"context"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fulfillment retry policy for the in-request path. The background
// sweep picks up whatever these attempts could not land.
const (
	fulfillAttempts     = 3
	fulfillRetryBackoff = 100 * time.Millisecond
)

// Reconciler applies authoritative gateway state to internal order and
// inventory records exactly once. All three external entry points
// (confirm, verify, poll) funnel through it; the conditional update on
// the order's payment status is the only mutual-exclusion primitive, so
// concurrent invocations for the same order are safe.
type Reconciler struct {
	store     OrderStore
	gateway   gateway.Client
	cache     Cache
	publisher EventPublisher
	logger    *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(store OrderStore, gw gateway.Client, cache Cache, publisher EventPublisher) *Reconciler {
	return &Reconciler{
		store:     store,
		gateway:   gw,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// ConfirmPayment handles the explicit "I have a payment reference,
// confirm it" entry point. Owner-scoped.
func (r *Reconciler) ConfirmPayment(ctx context.Context, userID, orderID int64, paymentIntentID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ConfirmPayment")
	defer span.End()

	order, err := r.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.Permission("order belongs to another user")
	}

	status, err := r.gateway.GetPaymentStatus(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	return r.reconcile(ctx, order, status.State, paymentIntentID)
}

// VerifySession handles the explicit "verify this session" entry point.
// Owner-scoped.
func (r *Reconciler) VerifySession(ctx context.Context, userID int64, sessionID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.VerifySession")
	defer span.End()

	order, err := r.store.GetOrderBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.Permission("order belongs to another user")
	}

	status, err := r.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return r.reconcile(ctx, order, status.State, status.PaymentIntentID)
}

// SessionStatusResponse is the coarse answer for the unauthenticated
// post-redirect poll: status and a masked payer email, never the order.
type SessionStatusResponse struct {
	Status        string `json:"status"`
	CustomerEmail string `json:"customer_email"`
	Success       bool   `json:"success"`
}

// SessionStatus handles the unauthenticated poll entry point. The
// gateway's redirect can land before the UI holds any session token, so
// no ownership check; the response carries no order data. Answers are
// cached briefly to absorb the redirect page's polling loop.
func (r *Reconciler) SessionStatus(ctx context.Context, sessionID string, cacheTTL time.Duration) (*SessionStatusResponse, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.SessionStatus")
	defer span.End()

	var cached SessionStatusResponse
	if hit, err := r.cache.GetCachedSessionStatus(ctx, sessionID, &cached); err == nil && hit {
		return &cached, nil
	}

	status, err := r.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	order, err := r.store.GetOrderBySessionID(ctx, sessionID)
	switch {
	case apperr.IsKind(err, apperr.KindNotFound):
		// A session we never recorded an order for. Still answer the
		// poll; there is just nothing to reconcile.
		r.logger.Warn("No order for checkout session", zap.String("session_id", sessionID))
	case err != nil:
		return nil, err
	default:
		if _, err := r.reconcile(ctx, order, status.State, status.PaymentIntentID); err != nil {
			return nil, err
		}
	}

	resp := &SessionStatusResponse{
		Status:        string(status.State),
		CustomerEmail: maskEmail(status.PayerEmail),
		Success:       status.State == gateway.StatePaid,
	}
	// Open answers are never cached; the next poll must see a
	// transition the moment the gateway reports it.
	if status.State != gateway.StateOpen {
		if err := r.cache.CacheSessionStatus(ctx, sessionID, resp, cacheTTL); err != nil {
			r.logger.Warn("Failed to cache session status", zap.Error(err))
		}
	}
	return resp, nil
}

// ReconcileSession re-runs reconciliation for a known order, used by the
// stale-pending sweep.
func (r *Reconciler) ReconcileSession(ctx context.Context, order *models.Order) (*models.Order, error) {
	status, err := r.gateway.GetSessionStatus(ctx, order.StripeSessionID)
	if err != nil {
		return nil, err
	}
	return r.reconcile(ctx, order, status.State, status.PaymentIntentID)
}

// RetryFulfillment re-attempts the inventory decrement for an order
// whose payment already committed but whose decrement did not confirm.
// Used by the background sweep; the conditional fulfillment flag keeps
// it exactly-once against a concurrent live reconciliation.
func (r *Reconciler) RetryFulfillment(ctx context.Context, orderID int64) {
	r.applyFulfillment(ctx, orderID)
}

// reconcile applies one observed gateway state to one order. The
// pending-guarded conditional update decides a single winner; only the
// winner runs the inventory side effect. Losers return the current
// stored order untouched, which makes every re-invocation a no-op.
func (r *Reconciler) reconcile(ctx context.Context, order *models.Order, state gateway.PaymentState, paymentRef string) (*models.Order, error) {
	switch state {
	case gateway.StatePaid:
		won, err := r.store.CompleteOrderPayment(ctx, order.ID, paymentRef)
		if err != nil {
			// The status transition itself could not be committed. This is
			// the one failure that must page someone: the gateway has the
			// money and we cannot record it.
			r.logger.Error("Conditional payment completion failed",
				zap.Int64("order_id", order.ID), zap.Error(err))
			util.ReconcileAttemptsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if !won {
			util.ReconcileAttemptsTotal.WithLabelValues("noop").Inc()
			return r.store.GetOrderByID(ctx, order.ID)
		}

		util.OrdersCompletedTotal.Inc()
		util.ReconcileAttemptsTotal.WithLabelValues("completed").Inc()
		r.logger.Info("Order payment completed",
			zap.Int64("order_id", order.ID),
			zap.String("payment_ref", paymentRef))

		// Runs only on the winning invocation. Not re-gated on order
		// state: the conditional update above already guaranteed single
		// entry, and a failure here must never revert the payment status.
		r.applyFulfillment(ctx, order.ID)

		if err := r.cache.InvalidateSessionStatus(ctx, order.StripeSessionID); err != nil {
			r.logger.Warn("Failed to invalidate session status cache", zap.Error(err))
		}
		r.publishCompleted(ctx, order, paymentRef)
		return r.store.GetOrderByID(ctx, order.ID)

	case gateway.StateFailed:
		flipped, err := r.store.FailOrderPayment(ctx, order.ID)
		if err != nil {
			util.ReconcileAttemptsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if flipped {
			util.OrdersFailedTotal.Inc()
			util.ReconcileAttemptsTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("Order payment failed", zap.Int64("order_id", order.ID))
			r.publishFailed(ctx, order)
		} else {
			util.ReconcileAttemptsTotal.WithLabelValues("noop").Inc()
		}
		return r.store.GetOrderByID(ctx, order.ID)

	default:
		// Still open at the gateway; the caller may poll again later.
		util.ReconcileAttemptsTotal.WithLabelValues("open").Inc()
		return order, nil
	}
}

// applyFulfillment decrements stock for the order's line items, exactly
// once across this path and the background sweep. Failures are retried
// with backoff and then left for the sweep; they never propagate to the
// caller, because a successfully paid order must stay paid.
func (r *Reconciler) applyFulfillment(ctx context.Context, orderID int64) {
	items, err := r.store.GetOrderItems(ctx, orderID)
	if err != nil {
		r.logger.Error("Failed to load items for fulfillment, leaving for sweep",
			zap.Int64("order_id", orderID), zap.Error(err))
		util.FulfillmentDeferredTotal.Inc()
		return
	}

	for attempt := 1; attempt <= fulfillAttempts; attempt++ {
		applied, levels, err := r.store.ApplyFulfillment(ctx, orderID, items)
		if err == nil {
			if !applied {
				// The sweep (or a concurrent attempt) beat us to it.
				return
			}
			util.FulfillmentAppliedTotal.Inc()
			r.finishFulfillment(ctx, orderID, items, levels)
			return
		}

		r.logger.Warn("Inventory decrement failed",
			zap.Int64("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			util.FulfillmentDeferredTotal.Inc()
			return
		case <-time.After(time.Duration(attempt) * fulfillRetryBackoff):
		}
	}

	util.FulfillmentDeferredTotal.Inc()
	r.logger.Warn("Inventory decrement deferred to sweep", zap.Int64("order_id", orderID))
}

// finishFulfillment mirrors decrements to redis and flags oversell.
func (r *Reconciler) finishFulfillment(ctx context.Context, orderID int64, items []models.OrderItem, levels []store.StockLevel) {
	for _, lvl := range levels {
		if lvl.Stock < 0 {
			// Two different orders raced past the same stock; the
			// reconciliation guard cannot see that, inventory audit does.
			util.OversellDetectedTotal.Inc()
			r.logger.Warn("Stock went negative",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", lvl.ProductID),
				zap.Int("stock", lvl.Stock))
		}
	}
	for _, item := range items {
		if _, err := r.cache.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			r.logger.Warn("Failed to mirror stock decrement",
				zap.Int64("product_id", item.ProductID), zap.Error(err))
		}
	}
}

func (r *Reconciler) publishCompleted(ctx context.Context, order *models.Order, paymentRef string) {
	event := &models.OrderCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCompleted,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		UserID:    order.UserID,
		PaymentID: paymentRef,
	}
	if err := r.publisher.PublishOrderCompleted(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderCompleted event", zap.Error(err))
	}
}

func (r *Reconciler) publishFailed(ctx context.Context, order *models.Order) {
	event := &models.OrderFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderFailed,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		Reason:  "gateway reported terminal failure",
	}
	if err := r.publisher.PublishOrderFailed(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
	}
}

// maskEmail hides most of the local part: "jane.doe@x.com" -> "j***@x.com".
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
