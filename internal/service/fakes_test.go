package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/store"
)

// fakeStore is an in-memory OrderStore whose conditional updates hold a
// mutex across the whole check-and-set, matching the atomicity of the
// SQL single-statement updates.
type fakeStore struct {
	mu sync.Mutex

	orders map[int64]*models.Order
	items  map[int64][]models.OrderItem
	stock  map[int64]int

	// decrements counts how many times each product's stock was
	// decremented, to assert exactly-once.
	decrements map[int64]int

	// failFulfillment makes the next N ApplyFulfillment calls fail.
	failFulfillment int

	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:     make(map[int64]*models.Order),
		items:      make(map[int64][]models.OrderItem),
		stock:      make(map[int64]int),
		decrements: make(map[int64]int),
		nextID:     1,
	}
}

func (f *fakeStore) addOrder(order *models.Order, items []models.OrderItem) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.nextID
	f.nextID++
	cp := *order
	f.orders[order.ID] = &cp
	for i := range items {
		items[i].OrderID = order.ID
	}
	f.items[order.ID] = items
	return order
}

func (f *fakeStore) orderCopy(id int64) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.orders[id]
	return &cp
}

func (f *fakeStore) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.addOrder(order, items)
	return nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("order not found: %d", id))
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.StripeSessionID == sessionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("order not found for session " + sessionID)
}

func (f *fakeStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeStore) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) CompleteOrderPayment(ctx context.Context, orderID int64, paymentRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.PaymentStatus = models.PaymentStatusCompleted
	o.OrderStatus = models.OrderStatusConfirmed
	o.StripePaymentID = paymentRef
	return true, nil
}

func (f *fakeStore) FailOrderPayment(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.PaymentStatus = models.PaymentStatusFailed
	return true, nil
}

func (f *fakeStore) ApplyFulfillment(ctx context.Context, orderID int64, items []models.OrderItem) (bool, []store.StockLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFulfillment > 0 {
		f.failFulfillment--
		return false, nil, apperr.Wrap(apperr.KindStore, "decrement stock", errors.New("store unavailable"))
	}
	o, ok := f.orders[orderID]
	if !ok {
		return false, nil, apperr.NotFound("order not found")
	}
	if o.FulfillmentApplied {
		return false, nil, nil
	}
	o.FulfillmentApplied = true
	levels := make([]store.StockLevel, 0, len(items))
	for _, item := range items {
		f.stock[item.ProductID] -= item.Quantity
		f.decrements[item.ProductID]++
		levels = append(levels, store.StockLevel{ProductID: item.ProductID, Stock: f.stock[item.ProductID]})
	}
	return true, levels, nil
}

func (f *fakeStore) ListUnfulfilledCompleted(ctx context.Context, limit int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.PaymentStatus == models.PaymentStatusCompleted && !o.FulfillmentApplied {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.PaymentStatus == models.PaymentStatusPending && o.StripeSessionID != "" {
			out = append(out, *o)
		}
	}
	return out, nil
}

// fakeGateway returns scripted answers.
type fakeGateway struct {
	mu sync.Mutex

	sessionState  gateway.PaymentState
	intentState   gateway.PaymentState
	paymentIntent string
	payerEmail    string

	createdSessions int
	createErr       error
	statusCalls     int
}

func (g *fakeGateway) CreateSession(ctx context.Context, params gateway.CreateSessionParams) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.createdSessions++
	return &gateway.Session{
		ID:           fmt.Sprintf("cs_test_%d", g.createdSessions),
		ClientSecret: "cs_secret",
	}, nil
}

func (g *fakeGateway) GetSessionStatus(ctx context.Context, sessionID string) (*gateway.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	return &gateway.SessionStatus{
		State:           g.sessionState,
		PaymentIntentID: g.paymentIntent,
		PayerEmail:      g.payerEmail,
	}, nil
}

func (g *fakeGateway) GetPaymentStatus(ctx context.Context, paymentIntentID string) (*gateway.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &gateway.PaymentStatus{State: g.intentState}, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	completed []*models.OrderCompletedEvent
	failed    []*models.OrderFailedEvent
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishOrderCompleted(ctx context.Context, e *models.OrderCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *fakePublisher) PublishOrderFailed(ctx context.Context, e *models.OrderFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

func (p *fakePublisher) completedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.completed)
}

// fakeCache is a no-op mirror plus an in-memory poll cache.
type fakeCache struct {
	mu       sync.Mutex
	statuses map[string][]byte
	mirror   map[int64]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		statuses: make(map[string][]byte),
		mirror:   make(map[int64]int),
	}
}

func (c *fakeCache) DecrementStock(ctx context.Context, productID int64, quantity int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror[productID] -= quantity
	return c.mirror[productID], nil
}

func (c *fakeCache) CacheSessionStatus(ctx context.Context, sessionID string, status interface{}, ttl time.Duration) error {
	return nil
}

func (c *fakeCache) GetCachedSessionStatus(ctx context.Context, sessionID string, dest interface{}) (bool, error) {
	return false, nil
}

func (c *fakeCache) InvalidateSessionStatus(ctx context.Context, sessionID string) error {
	return nil
}
