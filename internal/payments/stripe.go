// Package payments adapts external payment providers to escrow.PaymentGateway.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mbd888/rekberpay/internal/circuitbreaker"
	"github.com/mbd888/rekberpay/internal/escrow"
)

// ErrProviderUnavailable is returned while the provider circuit is open.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

const breakerKey = "stripe"

// SessionCreator opens Checkout Sessions. *session.Client satisfies it.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGateway opens a Stripe Checkout Session per escrow payment.
// The session id becomes the escrow's paymentId and the hosted page its paymentUrl.
type StripeGateway struct {
	sessions   SessionCreator
	successURL string
	cancelURL  string
	breaker    *circuitbreaker.Breaker
}

// NewStripeGateway creates a gateway authenticated with secretKey.
func NewStripeGateway(secretKey, successURL, cancelURL string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return NewStripeGatewayWithSessions(sc.CheckoutSessions, successURL, cancelURL)
}

// NewStripeGatewayWithSessions wraps an existing session client.
func NewStripeGatewayWithSessions(sessions SessionCreator, successURL, cancelURL string) *StripeGateway {
	if cancelURL == "" {
		cancelURL = successURL
	}
	return &StripeGateway{
		sessions:   sessions,
		successURL: successURL,
		cancelURL:  cancelURL,
		breaker:    circuitbreaker.New(5, 30*time.Second),
	}
}

// CreatePayment implements escrow.PaymentGateway.
func (g *StripeGateway) CreatePayment(ctx context.Context, req escrow.PaymentRequest) (*escrow.PaymentSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withEscrow(g.successURL, req.EscrowID)),
		CancelURL:         stripe.String(withEscrow(g.cancelURL, req.EscrowID)),
		ClientReferenceID: stripe.String(req.EscrowID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Title),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("escrow_id", req.EscrowID)
	params.AddMetadata("buyer_id", fmt.Sprint(req.BuyerID))
	params.AddMetadata("method", req.Method)
	// one open session per escrow even if the buyer retries
	params.SetIdempotencyKey("escrow-payment-" + req.EscrowID)

	var s *stripe.CheckoutSession
	err := g.breaker.Do(breakerKey, func() error {
		var err error
		s, err = g.sessions.New(params)
		return err
	}, providerFault)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, ErrProviderUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &escrow.PaymentSession{PaymentID: s.ID, PaymentURL: s.URL}, nil
}

// providerFault reports whether err points at Stripe or the network rather
// than at the request itself.
func providerFault(err error) bool {
	var serr *stripe.Error
	return !errors.As(err, &serr) || serr.HTTPStatusCode >= 500
}

func withEscrow(url, escrowID string) string {
	if url == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "escrow_id=" + escrowID
}

var _ escrow.PaymentGateway = (*StripeGateway)(nil)
