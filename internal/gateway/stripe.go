package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/util"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.stripe.com"

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	http *resty.Client
}

// NewStripeClient creates a Stripe-backed gateway client.
func NewStripeClient(secretKey string, timeout time.Duration) *StripeClient {
	client := resty.New().
		SetBaseURL(defaultBaseURL).
		SetAuthToken(secretKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &StripeClient{http: client}
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stripeSession struct {
	ID              string `json:"id"`
	ClientSecret    string `json:"client_secret"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status"`
	PaymentIntent   string `json:"payment_intent"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type stripePaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateSession opens a hosted checkout session.
func (c *StripeClient) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	form := map[string]string{
		"mode":        "payment",
		"success_url": params.SuccessURL,
		"cancel_url":  params.CancelURL,
	}
	for i, item := range params.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form[prefix+"[price_data][currency]"] = params.Currency
		form[prefix+"[price_data][unit_amount]"] = strconv.FormatInt(item.UnitAmount, 10)
		form[prefix+"[price_data][product_data][name]"] = item.Name
		form[prefix+"[quantity]"] = strconv.Itoa(item.Quantity)
	}
	for k, v := range params.Metadata {
		form["metadata["+k+"]"] = v
	}

	var session stripeSession
	var apiErr stripeError
	timer := prometheusTimer("create_session")
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&session).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	timer()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, "create checkout session", err)
	}
	if resp.IsError() {
		return nil, apperr.Wrap(apperr.KindGateway, "create checkout session",
			fmt.Errorf("stripe %d: %s", resp.StatusCode(), apiErr.Error.Message))
	}

	return &Session{ID: session.ID, ClientSecret: session.ClientSecret}, nil
}

// GetSessionStatus retrieves the current state of a checkout session.
func (c *StripeClient) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var session stripeSession
	var apiErr stripeError
	timer := prometheusTimer("get_session")
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&session).
		SetError(&apiErr).
		Get("/v1/checkout/sessions/" + sessionID)
	timer()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, "get session status", err)
	}
	if resp.StatusCode() == 404 {
		return nil, apperr.NotFound("checkout session not found: " + sessionID)
	}
	if resp.IsError() {
		return nil, apperr.Wrap(apperr.KindGateway, "get session status",
			fmt.Errorf("stripe %d: %s", resp.StatusCode(), apiErr.Error.Message))
	}

	return &SessionStatus{
		State:           sessionState(session),
		PaymentIntentID: session.PaymentIntent,
		PayerEmail:      session.CustomerDetails.Email,
	}, nil
}

// GetPaymentStatus retrieves the current state of a payment intent.
func (c *StripeClient) GetPaymentStatus(ctx context.Context, paymentIntentID string) (*PaymentStatus, error) {
	var intent stripePaymentIntent
	var apiErr stripeError
	timer := prometheusTimer("get_payment_intent")
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&intent).
		SetError(&apiErr).
		Get("/v1/payment_intents/" + paymentIntentID)
	timer()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, "get payment status", err)
	}
	if resp.StatusCode() == 404 {
		return nil, apperr.NotFound("payment intent not found: " + paymentIntentID)
	}
	if resp.IsError() {
		return nil, apperr.Wrap(apperr.KindGateway, "get payment status",
			fmt.Errorf("stripe %d: %s", resp.StatusCode(), apiErr.Error.Message))
	}

	return &PaymentStatus{State: intentState(intent.Status)}, nil
}

// prometheusTimer times one gateway call; call the returned func when done.
func prometheusTimer(operation string) func() {
	start := time.Now()
	return func() {
		util.GatewayRequestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func sessionState(s stripeSession) PaymentState {
	switch {
	case s.PaymentStatus == "paid":
		return StatePaid
	case s.Status == "expired":
		return StateFailed
	default:
		return StateOpen
	}
}

func intentState(status string) PaymentState {
	switch status {
	case "succeeded":
		return StatePaid
	case "canceled":
		return StateFailed
	default:
		// processing, requires_payment_method, requires_action, ...
		return StateOpen
	}
}
