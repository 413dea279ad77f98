package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
)

// OrderStore is the persistence surface the services consume,
// implemented by *store.Store. Narrowed to an interface so the
// reconciler can be exercised against an in-memory fake.
type OrderStore interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	CompleteOrderPayment(ctx context.Context, orderID int64, paymentRef string) (bool, error)
	FailOrderPayment(ctx context.Context, orderID int64) (bool, error)
	ApplyFulfillment(ctx context.Context, orderID int64, items []models.OrderItem) (bool, []store.StockLevel, error)
	ListUnfulfilledCompleted(ctx context.Context, limit int) ([]models.Order, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
}

// EventPublisher publishes order lifecycle events, implemented by
// *broker.EventPublisher. Publish failures are logged, never fatal.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
}

// Cache is the redis surface used for the stock mirror and the
// session-status poll cache, implemented by *redisclient.Client. All of
// it is best effort; the database stays authoritative.
type Cache interface {
	DecrementStock(ctx context.Context, productID int64, quantity int) (int, error)
	CacheSessionStatus(ctx context.Context, sessionID string, status interface{}, ttl time.Duration) error
	GetCachedSessionStatus(ctx context.Context, sessionID string, dest interface{}) (bool, error)
	InvalidateSessionStatus(ctx context.Context, sessionID string) error
}
