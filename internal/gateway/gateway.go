// Package gateway adapts the external payment provider. The provider is
// an eventually-consistent oracle: any status may be re-queried any
// number of times, and the reconciler treats its answers accordingly.
package gateway

import "context"

// PaymentState is the coarse state the reconciler acts on.
type PaymentState string

const (
	// StatePaid means the gateway confirmed the payment succeeded.
	StatePaid PaymentState = "paid"
	// StateOpen means the payment is still in flight; callers may poll again.
	StateOpen PaymentState = "open"
	// StateFailed is a terminal negative state.
	StateFailed PaymentState = "failed"
)

// LineItem is the minimal per-item payload sent to the gateway's hosted
// checkout. Names are truncated and images/descriptions omitted by the
// caller to keep the hosted page within the gateway's length ceilings.
type LineItem struct {
	Name       string
	UnitAmount int64 // minor currency units
	Quantity   int
}

// CreateSessionParams carries everything needed to open a checkout session.
type CreateSessionParams struct {
	LineItems  []LineItem
	Currency   string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Session is the handle returned on session creation.
type Session struct {
	ID           string
	ClientSecret string
}

// SessionStatus is the gateway's answer for a checkout session.
type SessionStatus struct {
	State           PaymentState
	PaymentIntentID string
	PayerEmail      string
}

// PaymentStatus is the gateway's answer for a payment intent.
type PaymentStatus struct {
	State PaymentState
}

// Client is the payment-gateway surface the service layer consumes.
// Injected so the reconciler tests against a fake without network access.
type Client interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
	GetPaymentStatus(ctx context.Context, paymentIntentID string) (*PaymentStatus, error)
}
