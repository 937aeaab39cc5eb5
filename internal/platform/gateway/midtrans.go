package gateway

import (
	"context"
	"net/http"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/shopspring/decimal"

	"github.com/fatflowers/dunning/pkg/types"
)

// MidtransGateway charges a saved card token through the Core API. The order
// id is the idempotency key, so a replayed retry is rejected by Midtrans as a
// duplicate order instead of charging twice.
type MidtransGateway struct {
	serverKey string
	env       midtrans.EnvironmentType
}

func NewMidtransGateway(serverKey string, production bool) *MidtransGateway {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	return &MidtransGateway{serverKey: serverKey, env: env}
}

func (g *MidtransGateway) Provider() types.PaymentProvider { return types.PaymentProviderMidtrans }

func (g *MidtransGateway) ChargeCustomer(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	// coreapi.Client keeps per-call options on the struct; a fresh client per
	// charge keeps concurrent sweeps from sharing them.
	var c coreapi.Client
	c.New(g.serverKey, g.env)
	c.Options.SetContext(ctx)
	c.Options.SetPaymentIdempotencyKey(req.IdempotencyKey)

	chargeReq := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  strings.ReplaceAll(req.IdempotencyKey, ":", "-"),
			GrossAmt: midtransGrossAmount(req.Amount),
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: req.PaymentMethodRef,
		},
		CustomerDetails: &midtrans.CustomerDetails{Email: req.CustomerEmail},
	}
	if ref := req.Metadata["subscription_ref"]; ref != "" {
		chargeReq.CustomField1 = &ref
	}

	resp, mErr := c.ChargeTransaction(chargeReq)
	if mErr != nil {
		return nil, classifyMidtransError(ctx, mErr)
	}
	return midtransOutcome(resp)
}

// midtransGrossAmount converts to the whole-rupiah integer Midtrans expects
// in gross_amount. Unlike card networks it takes no minor-unit scaling.
func midtransGrossAmount(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

func midtransOutcome(resp *coreapi.ChargeResponse) (*ChargeResult, error) {
	if resp == nil {
		return nil, Transient("empty_response", nil)
	}
	switch strings.ToLower(resp.TransactionStatus) {
	case "capture", "settlement":
		if strings.EqualFold(resp.FraudStatus, "challenge") {
			return nil, Transient("fraud_challenge", nil)
		}
		return &ChargeResult{ProviderChargeID: resp.TransactionID}, nil
	case "deny", "cancel", "expire", "failure":
		reason := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(resp.ChannelResponseMessage), " ", "_"))
		if reason == "" {
			reason = "payment_" + strings.ToLower(resp.TransactionStatus)
		}
		return nil, Declined(reason, nil)
	default:
		return nil, Transient("payment_"+strings.ToLower(resp.TransactionStatus), nil)
	}
}

func classifyMidtransError(ctx context.Context, mErr *midtrans.Error) *Error {
	if mErr.RawError != nil && isTimeout(ctx, mErr.RawError) {
		return Timeout(mErr)
	}
	switch {
	case mErr.StatusCode == http.StatusTooManyRequests, mErr.StatusCode >= http.StatusInternalServerError:
		return Transient("", mErr)
	case mErr.StatusCode >= http.StatusBadRequest:
		return Declined("", mErr)
	default:
		return Classify(ctx, mErr)
	}
}
