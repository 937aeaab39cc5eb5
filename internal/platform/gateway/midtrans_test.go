package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestMidtransChargeSendsWholeRupiah(t *testing.T) {
	var sent map[string]any
	var idemKey string
	prev := midtrans.DefaultGoHttpClient.Transport
	t.Cleanup(func() { midtrans.DefaultGoHttpClient.Transport = prev })
	midtrans.DefaultGoHttpClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		idemKey = r.Header.Get("Idempotency-Key")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &sent); err != nil {
			return nil, err
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"status_code":"200","transaction_id":"tx-1","transaction_status":"capture","fraud_status":"accept"}`)),
			Request:    r,
		}, nil
	})

	g := NewMidtransGateway("SB-server-key", false)
	res, err := g.ChargeCustomer(context.Background(), ChargeRequest{
		PaymentMethodRef: "tok_1",
		Amount:           decimal.RequireFromString("150000"),
		Currency:         "IDR",
		IdempotencyKey:   "proc-1:INITIAL",
	})
	require.NoError(t, err)
	require.Equal(t, "tx-1", res.ProviderChargeID)
	require.Equal(t, "proc-1:INITIAL", idemKey)

	details, ok := sent["transaction_details"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "proc-1-INITIAL", details["order_id"])
	require.EqualValues(t, 150000, details["gross_amount"])
}

func TestMidtransGrossAmount(t *testing.T) {
	require.Equal(t, int64(150000), midtransGrossAmount(decimal.RequireFromString("150000")))
	require.Equal(t, int64(10001), midtransGrossAmount(decimal.RequireFromString("10000.5")))
}

func TestMidtransOutcome(t *testing.T) {
	res, err := midtransOutcome(&coreapi.ChargeResponse{TransactionID: "tx-1", TransactionStatus: "capture", FraudStatus: "accept"})
	require.NoError(t, err)
	require.Equal(t, "tx-1", res.ProviderChargeID)

	_, err = midtransOutcome(&coreapi.ChargeResponse{TransactionStatus: "deny", ChannelResponseMessage: "Denied by bank"})
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, KindDeclined, gwErr.Kind)
	require.Equal(t, "denied_by_bank", gwErr.Reason)

	_, err = midtransOutcome(&coreapi.ChargeResponse{TransactionStatus: "pending"})
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, KindTransient, gwErr.Kind)
}

func TestClassifyMidtransError(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, KindTransient, classifyMidtransError(ctx, &midtrans.Error{StatusCode: http.StatusServiceUnavailable, Message: "down"}).Kind)
	require.Equal(t, KindDeclined, classifyMidtransError(ctx, &midtrans.Error{StatusCode: http.StatusBadRequest, Message: "bad token"}).Kind)
	require.Equal(t, KindTimeout, classifyMidtransError(ctx, &midtrans.Error{RawError: context.DeadlineExceeded}).Kind)
}
