package service

import (
	"context"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/util"
)

// OrderService answers owner-scoped order queries.
type OrderService struct {
	store OrderStore
}

// NewOrderService creates a new order query service.
func NewOrderService(store OrderStore) *OrderService {
	return &OrderService{store: store}
}

// GetOrder retrieves an order with its line items. A foreign order
// yields a permission error, not not-found: the order exists, the
// caller just may not see it, and we do not pretend otherwise.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.UserID != userID {
		return nil, nil, apperr.Permission("order belongs to another user")
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrders retrieves the caller's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.store.ListOrdersByUser(ctx, userID)
}
