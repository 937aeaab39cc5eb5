package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func paystackRequest() ChargeRequest {
	return ChargeRequest{
		PaymentMethodRef: "AUTH_abc",
		CustomerEmail:    "billing@example.com",
		Amount:           decimal.RequireFromString("29.99"),
		Currency:         "ngn",
		IdempotencyKey:   "proc-1:WARNING_1",
	}
}

func TestPaystack_ChargeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/charge_authorization", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		var body paystackChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "2999", body.Amount)
		require.Equal(t, "NGN", body.Currency)
		require.Equal(t, "proc-1-WARNING-1", body.Reference)
		_, _ = w.Write([]byte(`{"status":true,"message":"Charge attempted","data":{"id":42,"status":"success","reference":"proc-1-WARNING-1"}}`))
	}))
	defer srv.Close()

	res, err := NewPaystackGateway("sk_test", srv.URL, srv.Client()).ChargeCustomer(context.Background(), paystackRequest())
	require.NoError(t, err)
	require.Equal(t, "42", res.ProviderChargeID)
}

func TestPaystack_ChargeFailedIsDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"message":"Charge attempted","data":{"id":43,"status":"failed","gateway_response":"Insufficient Funds"}}`))
	}))
	defer srv.Close()

	_, err := NewPaystackGateway("sk_test", srv.URL, srv.Client()).ChargeCustomer(context.Background(), paystackRequest())
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, KindDeclined, gwErr.Kind)
	require.Equal(t, "insufficient_funds", gwErr.Reason)
}

func TestPaystack_DuplicateReferenceVerifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transaction/charge_authorization":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
		case "/transaction/verify/proc-1-WARNING-1":
			_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"id":42,"status":"success"}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	res, err := NewPaystackGateway("sk_test", srv.URL, srv.Client()).ChargeCustomer(context.Background(), paystackRequest())
	require.NoError(t, err)
	require.Equal(t, "42", res.ProviderChargeID)
}

func TestPaystack_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status":false,"message":"upstream"}`))
	}))
	defer srv.Close()

	_, err := NewPaystackGateway("sk_test", srv.URL, srv.Client()).ChargeCustomer(context.Background(), paystackRequest())
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, KindTransient, gwErr.Kind)
}

func TestPaystack_TimeoutIsReported(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewPaystackGateway("sk_test", srv.URL, srv.Client()).ChargeCustomer(ctx, paystackRequest())
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, KindTimeout, gwErr.Kind)
}
