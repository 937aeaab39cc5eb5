package gateway

import (
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/dunning/pkg/config"
)

// NewRegistryFromConfig registers a gateway for every provider with
// credentials. Bank transfer needs none and is always available.
func NewRegistryFromConfig(cfg *config.Config, l *zap.SugaredLogger) *Registry {
	p := cfg.Providers
	httpClient := &http.Client{Timeout: p.GatewayTimeout}

	var gateways []PaymentGateway
	if p.Stripe.APIKey != "" {
		gateways = append(gateways, NewStripeGateway(p.Stripe.APIKey, nil))
	}
	if p.Paystack.SecretKey != "" {
		gateways = append(gateways, NewPaystackGateway(p.Paystack.SecretKey, p.Paystack.BaseURL, httpClient))
	}
	if p.Square.AccessToken != "" {
		gateways = append(gateways, NewSquareGateway(p.Square.AccessToken, p.Square.Environment, p.Square.LocationID))
	}
	if p.Midtrans.ServerKey != "" {
		gateways = append(gateways, NewMidtransGateway(p.Midtrans.ServerKey, p.Midtrans.Production))
	}
	gateways = append(gateways, NewBankTransferGateway())

	r := NewRegistry(gateways...)
	l.Infow("payment gateways registered", "providers", r.Providers())
	return r
}

var Module = fx.Options(
	fx.Provide(NewRegistryFromConfig),
)
