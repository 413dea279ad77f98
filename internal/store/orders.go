package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

// StockLevel is the post-decrement stock for one product, reported so
// callers can flag oversell.
type StockLevel struct {
	ProductID int64
	Stock     int
}

// CreateOrderWithItems persists a pending order and its line item
// snapshot in one transaction. The order must already carry a session
// reference; an order without one is never written.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "begin create order", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, subtotal, tax, total, shipping_address,
		                    payment_method, payment_status, order_status, stripe_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.Subtotal, order.Tax, order.Total, order.ShippingAddress,
		order.PaymentMethod, order.PaymentStatus, order.OrderStatus, order.StripeSessionID,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "insert order", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO order_items (order_id, product_id, name, unit_price, quantity)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].Name, items[i].UnitPrice, items[i].Quantity,
		).Scan(&items[i].ID)
		if err != nil {
			return apperr.Wrap(apperr.KindStore, "insert order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStore, "commit create order", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(fmt.Sprintf("order not found: %d", id))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get order", err)
	}
	return &order, nil
}

// GetOrderBySessionID retrieves the order correlated to a checkout
// session reference.
func (s *Store) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE stripe_session_id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(fmt.Sprintf("order not found for session %s", sessionID))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get order by session", err)
	}
	return &order, nil
}

// GetOrderItems retrieves the line item snapshot for an order.
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get order items", err)
	}
	return items, nil
}

// ListOrdersByUser retrieves a user's orders, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list orders", err)
	}
	return orders, nil
}

// CompleteOrderPayment performs the conditional pending -> completed
// transition in a single UPDATE guarded on the current payment status.
// Returns true only for the invocation that actually flipped the row;
// every concurrent or repeated caller sees false. This guard is the
// mutual-exclusion primitive for the whole reconciliation flow.
func (s *Store) CompleteOrderPayment(ctx context.Context, orderID int64, paymentRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, order_status = $2, stripe_payment_id = $3, updated_at = NOW()
		WHERE id = $4 AND payment_status = $5`,
		models.PaymentStatusCompleted, models.OrderStatusConfirmed, paymentRef,
		orderID, models.PaymentStatusPending)
	if err != nil {
		return false, apperr.Wrap(apperr.KindStore, "complete order payment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.KindStore, "complete order payment", err)
	}
	return n == 1, nil
}

// FailOrderPayment conditionally transitions pending -> failed. A
// completed order is never regressed, even by a stale failure answer.
func (s *Store) FailOrderPayment(ctx context.Context, orderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status = $3`,
		models.PaymentStatusFailed, orderID, models.PaymentStatusPending)
	if err != nil {
		return false, apperr.Wrap(apperr.KindStore, "fail order payment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.KindStore, "fail order payment", err)
	}
	return n == 1, nil
}

// ApplyFulfillment decrements stock for every line item and marks the
// order fulfilled, all in one transaction. The fulfillment flag flip is
// itself conditional, so the sweep and a live reconciliation cannot
// both decrement: whoever flips the flag owns the decrements, the other
// caller gets applied=false and walks away.
func (s *Store) ApplyFulfillment(ctx context.Context, orderID int64, items []models.OrderItem) (bool, []StockLevel, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, nil, apperr.Wrap(apperr.KindStore, "begin fulfillment", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET fulfillment_applied = TRUE, updated_at = NOW() WHERE id = $1 AND fulfillment_applied = FALSE",
		orderID)
	if err != nil {
		return false, nil, apperr.Wrap(apperr.KindStore, "mark fulfillment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, apperr.Wrap(apperr.KindStore, "mark fulfillment", err)
	}
	if n == 0 {
		return false, nil, nil
	}

	levels := make([]StockLevel, 0, len(items))
	for _, item := range items {
		var stock int
		err = tx.QueryRowxContext(ctx,
			"UPDATE inventory SET stock = stock - $1, updated_at = NOW() WHERE product_id = $2 RETURNING stock",
			item.Quantity, item.ProductID,
		).Scan(&stock)
		if err == sql.ErrNoRows {
			return false, nil, apperr.NotFound(fmt.Sprintf("inventory not found for product %d", item.ProductID))
		}
		if err != nil {
			return false, nil, apperr.Wrap(apperr.KindStore, "decrement stock", err)
		}
		levels = append(levels, StockLevel{ProductID: item.ProductID, Stock: stock})
	}

	if err := tx.Commit(); err != nil {
		return false, nil, apperr.Wrap(apperr.KindStore, "commit fulfillment", err)
	}
	return true, levels, nil
}

// ListUnfulfilledCompleted returns completed orders whose inventory
// decrement has not confirmed yet. The background sweep retries these.
func (s *Store) ListUnfulfilledCompleted(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE payment_status = $1 AND fulfillment_applied = FALSE
		ORDER BY updated_at
		LIMIT $2`,
		models.PaymentStatusCompleted, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list unfulfilled orders", err)
	}
	return orders, nil
}

// ListStalePending returns pending orders older than the given age that
// carry a session reference. These are candidates for server-side
// re-reconciliation when the client never came back after paying.
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE payment_status = $1 AND stripe_session_id <> ''
		  AND created_at < NOW() - ($2 * INTERVAL '1 second')
		ORDER BY created_at
		LIMIT $3`,
		models.PaymentStatusPending, int(olderThan.Seconds()), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list stale pending orders", err)
	}
	return orders, nil
}
