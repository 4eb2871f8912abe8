package escrow

import (
	"context"
	"strings"

	"github.com/mbd888/rekberpay/internal/idgen"
)

// DefaultPaymentBaseURL hosts the placeholder payment pages.
const DefaultPaymentBaseURL = "https://payment.rekberpay.com"

// PaymentRequest asks a gateway to open a payment for an escrow.
type PaymentRequest struct {
	EscrowID string
	BuyerID  int64
	Title    string
	Amount   int64
	Currency string
	Method   string
}

// PaymentSession is the gateway's answer: an opaque reference and a URL the
// buyer follows to pay.
type PaymentSession struct {
	PaymentID  string `json:"paymentId"`
	PaymentURL string `json:"paymentUrl"`
}

// PaymentGateway opens payments with an external provider.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
}

// PlaceholderGateway issues PAY- references without contacting a provider.
type PlaceholderGateway struct {
	baseURL string
}

// NewPlaceholderGateway creates a gateway rooted at baseURL.
func NewPlaceholderGateway(baseURL string) *PlaceholderGateway {
	if baseURL == "" {
		baseURL = DefaultPaymentBaseURL
	}
	return &PlaceholderGateway{baseURL: strings.TrimRight(baseURL, "/")}
}

// CreatePayment implements PaymentGateway.
func (g *PlaceholderGateway) CreatePayment(_ context.Context, _ PaymentRequest) (*PaymentSession, error) {
	id := idgen.PaymentID()
	return &PaymentSession{
		PaymentID:  id,
		PaymentURL: g.baseURL + "/pay/" + id,
	}, nil
}
