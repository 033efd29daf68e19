package payments

import (
	"context"
	"math"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// FuelShare wraps stripe-go PaymentIntent hold/capture/cancel flows for
// splitting fuel cost between two matched carpool members. The hold is placed
// when a member accepts a suggestion and captured after the trip.
type FuelShare struct {
	// RatePerKmMinor is the fuel cost per kilometer in the currency's minor
	// unit (e.g. paise), split evenly between the pair.
	RatePerKmMinor int64
}

// NewFuelShare initializes the stripe client with the STRIPE_API_KEY env var.
func NewFuelShare(ratePerKmMinor int64) *FuelShare {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if ratePerKmMinor <= 0 {
		ratePerKmMinor = 700 // ~7 INR/km default
	}
	return &FuelShare{RatePerKmMinor: ratePerKmMinor}
}

// ShareAmountMinor is one member's half of the estimated fuel cost.
func (f *FuelShare) ShareAmountMinor(routeKm float64) int64 {
	return int64(math.Round(routeKm*float64(f.RatePerKmMinor))) / 2
}

// Hold creates a PaymentIntent with capture_method=manual to hold the share.
// It returns the PaymentIntent ID on success.
func (f *FuelShare) Hold(ctx context.Context, amountMinor int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
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

// Capture finalizes a previously-held share after the trip completes.
func (f *FuelShare) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Release cancels the hold when the carpool falls through.
func (f *FuelShare) Release(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
