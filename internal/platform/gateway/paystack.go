package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/types"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackGateway charges a reusable authorization code. Paystack has no
// idempotency header; the transaction reference carries the key instead and
// a duplicate reference is resolved by verifying the earlier transaction.
type PaystackGateway struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

func NewPaystackGateway(secretKey, baseURL string, httpClient *http.Client) *PaystackGateway {
	if baseURL == "" {
		baseURL = defaultPaystackBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PaystackGateway{secretKey: secretKey, baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (g *PaystackGateway) Provider() types.PaymentProvider { return types.PaymentProviderPaystack }

type paystackChargeRequest struct {
	AuthorizationCode string            `json:"authorization_code"`
	Email             string            `json:"email"`
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency,omitempty"`
	Reference         string            `json:"reference"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type paystackResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

func (g *PaystackGateway) ChargeCustomer(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := paystackChargeRequest{
		AuthorizationCode: req.PaymentMethodRef,
		Email:             req.CustomerEmail,
		Amount:            strconv.FormatInt(money.ToMinor(req.Amount, req.Currency), 10),
		Currency:          strings.ToUpper(req.Currency),
		Reference:         paystackReference(req.IdempotencyKey),
		Metadata:          req.Metadata,
	}
	resp, status, err := g.do(ctx, http.MethodPost, "/transaction/charge_authorization", body)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return nil, Transient("", fmt.Errorf("paystack status %d: %s", status, resp.Message))
	}
	if !resp.Status && strings.Contains(strings.ToLower(resp.Message), "duplicate") {
		return g.verify(ctx, body.Reference)
	}
	if !resp.Status {
		return nil, Declined("", fmt.Errorf("paystack: %s", resp.Message))
	}
	return paystackOutcome(resp)
}

func (g *PaystackGateway) verify(ctx context.Context, reference string) (*ChargeResult, error) {
	resp, status, err := g.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	if status != http.StatusOK || !resp.Status {
		return nil, Transient("", fmt.Errorf("paystack verify status %d: %s", status, resp.Message))
	}
	return paystackOutcome(resp)
}

func paystackOutcome(resp *paystackResponse) (*ChargeResult, error) {
	switch resp.Data.Status {
	case "success":
		return &ChargeResult{ProviderChargeID: strconv.FormatInt(resp.Data.ID, 10)}, nil
	case "failed", "abandoned", "reversed":
		reason := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(resp.Data.GatewayResponse), " ", "_"))
		return nil, Declined(reason, nil)
	default:
		return nil, Transient("payment_"+resp.Data.Status, nil)
	}
}

func (g *PaystackGateway) do(ctx context.Context, method, path string, payload any) (*paystackResponse, int, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	var out paystackResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decode paystack response: %w", err)
	}
	return &out, httpResp.StatusCode, nil
}

// paystackReference keeps references within Paystack's allowed alphabet.
func paystackReference(key string) string {
	return strings.NewReplacer(":", "-", "_", "-").Replace(key)
}
