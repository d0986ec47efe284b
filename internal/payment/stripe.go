// Package payment wraps the Stripe hosted-checkout flow behind a small
// gateway interface: create a checkout session pointing back at the
// calling origin, and verify that a returned session actually paid.
//
// Verification is deliberately fail-closed and quiet: any provider
// error, network failure or non-paid state comes back as (nil, nil),
// never as an error, so the caller can present one uniform "invalid
// session" response without leaking provider detail.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// ErrNotConfigured is returned by CreateCheckout when neither a price
// nor a product id is configured.
var ErrNotConfigured = errors.New("stripe price or product not configured")

// PaidSession describes a checkout session that completed payment.
type PaidSession struct {
	ID     string
	Status string
}

// Gateway is the payment-provider boundary consumed by the handlers.
type Gateway interface {
	// CreateCheckout creates a hosted checkout session whose success
	// and cancel URLs point back at returnOrigin, and returns the
	// redirect URL.
	CreateCheckout(ctx context.Context, returnOrigin string) (string, error)

	// Verify returns the session only when it completed payment;
	// (nil, nil) in every other case.
	Verify(ctx context.Context, sessionID string) (*PaidSession, error)
}

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api       *client.API
	priceID   string
	productID string
}

// NewStripeGateway creates a gateway using the given secret key and
// either a price id (preferred) or a product id with inline pricing.
func NewStripeGateway(secretKey, priceID, productID string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, priceID: priceID, productID: productID}, nil
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, returnOrigin string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(returnOrigin + "/index.html?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(returnOrigin + "/index.html"),
	}

	switch {
	case strings.HasPrefix(g.priceID, "price_"):
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(g.priceID),
			Quantity: stripe.Int64(1),
		}}
	case strings.HasPrefix(g.productID, "prod_"):
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Product:    stripe.String(g.productID),
				Currency:   stripe.String("gbp"),
				UnitAmount: stripe.Int64(100),
			},
			Quantity: stripe.Int64(1),
		}}
	default:
		return "", ErrNotConfigured
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (g *StripeGateway) Verify(ctx context.Context, sessionID string) (*PaidSession, error) {
	if sessionID == "" {
		return nil, nil
	}

	sess, err := g.api.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("checkout session lookup failed")
		return nil, nil
	}

	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		sess.Status == stripe.CheckoutSessionStatusComplete {
		return &PaidSession{ID: sess.ID, Status: string(sess.Status)}, nil
	}
	return nil, nil
}
