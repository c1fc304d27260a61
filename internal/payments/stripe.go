// Package payments wraps stripe-go for fare settlement. The gateway is a
// stub boundary: ride logic only sees the Charge call.
package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient drives PaymentIntent hold/capture/cancel flows.
type StripeClient struct {
	Currency string
}

// NewStripeClient initializes the stripe client with an API key and a fare
// currency.
func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	if currency == "" {
		currency = "inr"
	}
	return &StripeClient{Currency: currency}
}

// Charge creates and immediately captures a PaymentIntent for a completed
// ride's final fare.
func (s *StripeClient) Charge(ctx context.Context, rideID string, amount int64) error {
	id, err := s.Hold(ctx, amount, s.Currency, "")
	if err != nil {
		return fmt.Errorf("hold for ride %s: %w", rideID, err)
	}
	if err := s.Capture(ctx, id); err != nil {
		return fmt.Errorf("capture for ride %s: %w", rideID, err)
	}
	return nil
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds and
// returns its ID.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
