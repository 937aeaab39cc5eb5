package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/types"
)

// StripeGateway charges a saved payment method with an off-session,
// confirmed PaymentIntent.
type StripeGateway struct {
	client paymentintent.Client
}

// NewStripeGateway uses the default API backend when backend is nil.
func NewStripeGateway(apiKey string, backend stripe.Backend) *StripeGateway {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeGateway{client: paymentintent.Client{B: backend, Key: apiKey}}
}

func (g *StripeGateway) Provider() types.PaymentProvider { return types.PaymentProviderStripe }

func (g *StripeGateway) ChargeCustomer(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(money.ToMinor(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.client.New(params)
	if err != nil {
		return nil, classifyStripeError(ctx, err)
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &ChargeResult{ProviderChargeID: pi.ID}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return nil, Declined("authentication_required", nil)
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		reason := "requires_payment_method"
		if pi.LastPaymentError != nil && pi.LastPaymentError.DeclineCode != "" {
			reason = string(pi.LastPaymentError.DeclineCode)
		}
		return nil, Declined(reason, nil)
	default:
		// processing and friends settle later through a webhook.
		return nil, Transient("payment_"+string(pi.Status), nil)
	}
}

func classifyStripeError(ctx context.Context, err error) *Error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return Classify(ctx, err)
	}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		reason := string(se.DeclineCode)
		if reason == "" {
			reason = string(se.Code)
		}
		return Declined(reason, err)
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode == http.StatusConflict,
		se.HTTPStatusCode >= http.StatusInternalServerError:
		return Transient(string(se.Code), err)
	case se.HTTPStatusCode >= http.StatusBadRequest:
		return Declined(string(se.Code), err)
	default:
		return Classify(ctx, err)
	}
}
