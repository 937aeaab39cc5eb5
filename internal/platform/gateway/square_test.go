package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func squareRequest() ChargeRequest {
	return ChargeRequest{
		CustomerRef:      "CUST_1",
		PaymentMethodRef: "ccof:card_1",
		Amount:           decimal.RequireFromString("29.99"),
		Currency:         "usd",
		IdempotencyKey:   "proc-1:INITIAL",
	}
}

func TestSquare_ChargeCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payments", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "proc-1:INITIAL", body["idempotency_key"])
		require.Equal(t, "ccof:card_1", body["source_id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment":{"id":"pay_1","status":"COMPLETED"}}`))
	}))
	defer srv.Close()

	res, err := NewSquareGateway("token", srv.URL, "LOC").ChargeCustomer(context.Background(), squareRequest())
	require.NoError(t, err)
	require.Equal(t, "pay_1", res.ProviderChargeID)
}

func TestSquare_PaymentMethodErrorIsDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED","detail":"declined"}]}`))
	}))
	defer srv.Close()

	_, err := NewSquareGateway("token", srv.URL, "LOC").ChargeCustomer(context.Background(), squareRequest())
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, KindDeclined, gwErr.Kind)
}

func TestSquareErrors(t *testing.T) {
	errs := squareErrors(`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"INSUFFICIENT_FUNDS"}]}`)
	require.Len(t, errs, 1)
	require.Equal(t, "PAYMENT_METHOD_ERROR", string(errs[0].Category))
	require.Equal(t, "INSUFFICIENT_FUNDS", string(errs[0].Code))

	require.Nil(t, squareErrors(""))
	require.Nil(t, squareErrors("not json"))
}
