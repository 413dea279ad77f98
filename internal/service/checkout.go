package service

import (
	"context"
	"strconv"
	"time"
	"unicode/utf8"

	"storefront/internal/apperr"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway-hosted checkout pages break past roughly 2048 characters of
// URL, so redirect targets are rejected above this and line-item names
// are truncated before they are sent.
const (
	maxRedirectURLLen = 2000
	maxItemNameLen    = 100
)

// CheckoutService builds checkout sessions from cart snapshots and
// persists the matching pending orders.
type CheckoutService struct {
	store     OrderStore
	gateway   gateway.Client
	publisher EventPublisher
	taxRate   decimal.Decimal
	frontend  string
	currency  string
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service. taxRatePercent is
// the whole-number percentage applied to the subtotal (18 means 18%).
func NewCheckoutService(
	store OrderStore,
	gw gateway.Client,
	publisher EventPublisher,
	taxRatePercent int,
	frontendURL string,
	currency string,
) *CheckoutService {
	return &CheckoutService{
		store:     store,
		gateway:   gw,
		publisher: publisher,
		taxRate:   decimal.New(int64(taxRatePercent), -2),
		frontend:  frontendURL,
		currency:  currency,
		logger:    util.GetLogger(),
	}
}

// CartItem is one line of the cart snapshot. Price and name are
// captured as sent and never recomputed from the catalog, so receipts
// stay faithful to what the buyer saw.
type CartItem struct {
	ProductID int64           `json:"product_id" binding:"required"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
}

// CheckoutRequest is the cart snapshot plus shipping details.
type CheckoutRequest struct {
	Items           []CartItem             `json:"items"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
}

// CheckoutResponse returns the order id and the client-side payment
// handle the UI needs to complete payment.
type CheckoutResponse struct {
	OrderID      int64           `json:"order_id"`
	SessionID    string          `json:"session_id"`
	ClientSecret string          `json:"client_secret"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
}

// CreateSession validates the cart, opens a gateway checkout session
// and persists a pending order referencing it. The order is written
// only after the gateway call succeeds, so an order without a valid
// session reference can never exist.
func (s *CheckoutService) CreateSession(ctx context.Context, userID int64, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateSession")
	defer span.End()

	if len(req.Items) == 0 {
		util.CheckoutFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, apperr.Validation("cart is empty")
	}
	if req.ShippingAddress.IsZero() {
		util.CheckoutFailedTotal.WithLabelValues("missing_address").Inc()
		return nil, apperr.Validation("shipping address is required")
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			util.CheckoutFailedTotal.WithLabelValues("invalid_quantity").Inc()
			return nil, apperr.Validation("item quantity must be at least 1")
		}
		if item.UnitPrice.IsNegative() {
			util.CheckoutFailedTotal.WithLabelValues("invalid_price").Inc()
			return nil, apperr.Validation("item price must not be negative")
		}
	}

	subtotal := decimal.Zero
	for _, item := range req.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(s.taxRate).Round(2)
	total := subtotal.Add(tax)

	successURL := s.frontend + "/order-success?session_id={CHECKOUT_SESSION_ID}"
	cancelURL := s.frontend + "/checkout"
	if len(successURL) > maxRedirectURLLen || len(cancelURL) > maxRedirectURLLen {
		util.CheckoutFailedTotal.WithLabelValues("url_too_long").Inc()
		return nil, apperr.Validation("redirect URL exceeds gateway length limit")
	}

	lineItems := make([]gateway.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, gateway.LineItem{
			Name:       truncateName(item.Name),
			UnitAmount: minorUnits(item.UnitPrice),
			Quantity:   item.Quantity,
		})
	}

	session, err := s.gateway.CreateSession(ctx, gateway.CreateSessionParams{
		LineItems:  lineItems,
		Currency:   s.currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"user_id": strconv.FormatInt(userID, 10),
		},
	})
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues("gateway").Inc()
		return nil, err
	}

	order := &models.Order{
		UserID:          userID,
		Subtotal:        subtotal,
		Tax:             tax,
		Total:           total,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   models.PaymentMethodStripe,
		PaymentStatus:   models.PaymentStatusPending,
		OrderStatus:     models.OrderStatusPending,
		StripeSessionID: session.ID,
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Name:      truncateName(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	if err := s.store.CreateOrderWithItems(ctx, order, items); err != nil {
		util.CheckoutFailedTotal.WithLabelValues("store").Inc()
		return nil, err
	}

	util.CheckoutSessionsCreatedTotal.Inc()
	s.logger.Info("Checkout session created",
		zap.Int64("order_id", order.ID),
		zap.String("session_id", session.ID),
		zap.String("total", total.String()))

	eventItems := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderItemData{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		UserID:    userID,
		Total:     total,
		SessionID: session.ID,
		Items:     eventItems,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return &CheckoutResponse{
		OrderID:      order.ID,
		SessionID:    session.ID,
		ClientSecret: session.ClientSecret,
		Subtotal:     subtotal,
		Tax:          tax,
		Total:        total,
	}, nil
}

// truncateName caps a display name for the gateway's hosted page. The
// cut always lands on a rune boundary so the gateway never receives
// invalid UTF-8.
func truncateName(name string) string {
	if name == "" {
		return "Product"
	}
	if len(name) <= maxItemNameLen {
		return name
	}
	cut := maxItemNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// minorUnits converts a currency amount to integer minor units.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
