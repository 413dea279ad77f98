package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Inventory represents product stock. Stock is mutated only by the
// reconciler's decrement and by catalog management; it may briefly go
// negative under oversell, which is flagged for audit rather than
// rejected here.
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Stock     int       `db:"stock" json:"stock"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order is the financial record for one checkout attempt. Created
// pending by the checkout service, mutated only by the reconciler,
// never deleted.
type Order struct {
	ID                 int64           `db:"id" json:"id"`
	UserID             int64           `db:"user_id" json:"user_id"`
	Subtotal           decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax                decimal.Decimal `db:"tax" json:"tax"`
	Total              decimal.Decimal `db:"total" json:"total"`
	ShippingAddress    ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentMethod      string          `db:"payment_method" json:"payment_method"`
	PaymentStatus      string          `db:"payment_status" json:"payment_status"`
	OrderStatus        string          `db:"order_status" json:"order_status"`
	StripeSessionID    string          `db:"stripe_session_id" json:"stripe_session_id,omitempty"`
	StripePaymentID    string          `db:"stripe_payment_id" json:"stripe_payment_id,omitempty"`
	FulfillmentApplied bool            `db:"fulfillment_applied" json:"fulfillment_applied"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line item snapshot captured at checkout time. Name and
// price are never recomputed from the catalog afterwards.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Name      string          `db:"name" json:"name"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity  int             `db:"quantity" json:"quantity"`
}

// ShippingAddress is stored with the order as a JSON column.
type ShippingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
}

// Value implements driver.Valuer for JSONB storage.
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *ShippingAddress) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	case nil:
		*a = ShippingAddress{}
		return nil
	default:
		return fmt.Errorf("unsupported shipping address type %T", src)
	}
}

// IsZero reports whether no address was supplied.
func (a ShippingAddress) IsZero() bool {
	return a == ShippingAddress{}
}

// Payment statuses. Monotonic once completed: a later pending or failed
// observation for the same session must never overwrite it.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Order statuses. Confirmed is set exactly when payment completes.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Payment methods
const (
	PaymentMethodStripe = "stripe"
	PaymentMethodCOD    = "cod"
)
