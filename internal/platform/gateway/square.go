package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/types"
)

var squareBaseURLs = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

// SquareGateway charges a card on file through the Payments API.
type SquareGateway struct {
	sdk        *sqclient.Client
	locationID string
}

// NewSquareGateway accepts "sandbox", "production" or a full base URL.
func NewSquareGateway(accessToken, environment, locationID string) *SquareGateway {
	baseURL, ok := squareBaseURLs[strings.ToLower(strings.TrimSpace(environment))]
	if !ok {
		baseURL = environment
	}
	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	)
	return &SquareGateway{sdk: sdk, locationID: locationID}
}

func (g *SquareGateway) Provider() types.PaymentProvider { return types.PaymentProviderSquare }

func (g *SquareGateway) ChargeCustomer(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	amount := money.ToMinor(req.Amount, req.Currency)
	currency := sq.Currency(strings.ToUpper(req.Currency))
	// Square caps idempotency keys at 45 characters; "<uuid>:FINAL_NOTICE"
	// fits.
	payReq := &sq.CreatePaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		SourceID:       req.PaymentMethodRef,
		CustomerID:     optionalString(req.CustomerRef),
		LocationID:     optionalString(g.locationID),
		AmountMoney:    &sq.Money{Amount: &amount, Currency: &currency},
		ReferenceID:    optionalString(req.Metadata["dunning_process_id"]),
	}

	resp, err := g.sdk.Payments.Create(ctx, payReq)
	if err != nil {
		return nil, classifySquareError(ctx, err)
	}
	payment := resp.GetPayment()
	status := strings.ToUpper(stringValue(payment.GetStatus()))
	switch status {
	case "COMPLETED", "APPROVED":
		return &ChargeResult{ProviderChargeID: stringValue(payment.GetID())}, nil
	case "FAILED", "CANCELED":
		return nil, Declined(strings.ToLower("payment_"+status), nil)
	default:
		return nil, Transient(strings.ToLower("payment_"+status), nil)
	}
}

func classifySquareError(ctx context.Context, err error) *Error {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return Classify(ctx, err)
	}
	var body string
	if inner := apiErr.Unwrap(); inner != nil {
		body = inner.Error()
	}
	for _, sqErr := range squareErrors(body) {
		if sqErr == nil {
			continue
		}
		if string(sqErr.Category) == "PAYMENT_METHOD_ERROR" {
			return Declined(strings.ToLower(string(sqErr.Code)), err)
		}
	}
	if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
		return Transient("", err)
	}
	if apiErr.StatusCode >= http.StatusBadRequest {
		return Declined("", err)
	}
	return Classify(ctx, err)
}

// squareErrors decodes the {"errors": [...]} body Square attaches to API errors.
func squareErrors(raw string) []*sq.Error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
