// Package gateway adapts payment providers to the single charge operation the
// dunning engine needs.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/dunning/pkg/types"
)

var ErrUnsupportedProvider = errors.New("unsupported payment provider")

// ChargeRequest is an off-session charge against a stored payment method.
type ChargeRequest struct {
	CustomerRef      string
	PaymentMethodRef string
	CustomerEmail    string
	Amount           decimal.Decimal
	Currency         string
	// IdempotencyKey must be forwarded to the provider unchanged; it is how a
	// replayed retry avoids a second charge.
	IdempotencyKey string
	Metadata       map[string]string
}

type ChargeResult struct {
	ProviderChargeID string
}

type Kind string

const (
	// KindDeclined is terminal for this attempt.
	KindDeclined Kind = "declined"
	// KindTransient covers provider outages and unknown errors.
	KindTransient Kind = "transient"
	KindTimeout   Kind = "timeout"
)

// Error is returned by every gateway for a failed charge.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway %s (%s)", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func Declined(reason string, err error) *Error {
	if reason == "" {
		reason = types.FailureReasonCardDeclined
	}
	return &Error{Kind: KindDeclined, Reason: reason, Err: err}
}

func Transient(reason string, err error) *Error {
	if reason == "" {
		reason = types.FailureReasonGatewayError
	}
	return &Error{Kind: KindTransient, Reason: reason, Err: err}
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Reason: types.FailureReasonGatewayTimeout, Err: err}
}

// Classify maps any charge error onto a gateway *Error. Errors the gateway did
// not classify are transient unless they are timeouts.
func Classify(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if isTimeout(ctx, err) {
		return Timeout(err)
	}
	return Transient("", err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// PaymentGateway charges a customer through one provider.
type PaymentGateway interface {
	Provider() types.PaymentProvider
	ChargeCustomer(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// Registry resolves the gateway for a subscription's provider.
type Registry struct {
	gateways map[types.PaymentProvider]PaymentGateway
}

func NewRegistry(gateways ...PaymentGateway) *Registry {
	r := &Registry{gateways: make(map[types.PaymentProvider]PaymentGateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Get(provider types.PaymentProvider) (PaymentGateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return g, nil
}

// Providers lists the registered providers.
func (r *Registry) Providers() []types.PaymentProvider {
	out := make([]types.PaymentProvider, 0, len(r.gateways))
	for _, p := range types.KnownProviders() {
		if _, ok := r.gateways[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
