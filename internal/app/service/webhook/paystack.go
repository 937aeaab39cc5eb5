package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/types"
)

const PaystackSignatureHeader = "X-Paystack-Signature"

// PaystackParser verifies the hex HMAC-SHA512 of the body keyed with the
// account secret key.
type PaystackParser struct {
	secret string
}

func NewPaystackParser(secret string) *PaystackParser { return &PaystackParser{secret: secret} }

func (p *PaystackParser) Provider() types.PaymentProvider { return types.PaymentProviderPaystack }

type paystackEnvelope struct {
	Event string       `json:"event"`
	Data  paystackData `json:"data"`
}

type paystackData struct {
	ID               flexString    `json:"id"`
	InvoiceCode      string        `json:"invoice_code"`
	Reference        string        `json:"reference"`
	SubscriptionCode string        `json:"subscription_code"`
	Status           string        `json:"status"`
	Paid             bool          `json:"paid"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	CreatedAt        string        `json:"created_at"`
	Metadata         looseMetadata `json:"metadata"`
	Subscription     *struct {
		SubscriptionCode string `json:"subscription_code"`
	} `json:"subscription"`
	Customer struct {
		CustomerCode string `json:"customer_code"`
		Email        string `json:"email"`
	} `json:"customer"`
	Authorization struct {
		AuthorizationCode string `json:"authorization_code"`
	} `json:"authorization"`
	Plan struct {
		PlanCode string `json:"plan_code"`
	} `json:"plan"`
}

func (d *paystackData) subscriptionRef() string {
	code := d.SubscriptionCode
	if code == "" && d.Subscription != nil {
		code = d.Subscription.SubscriptionCode
	}
	// retry charges carry the ref in metadata
	return firstNonEmpty(code, d.Metadata["subscription_code"], d.Metadata["subscription_ref"])
}

func (p *PaystackParser) Sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *PaystackParser) Parse(header http.Header, body []byte) (*projector.Event, error) {
	if !equalMAC(strings.ToLower(header.Get(PaystackSignatureHeader)), p.Sign(body)) {
		return nil, ErrInvalidSignature
	}
	var env paystackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed("paystack event: %v", err)
	}
	d := env.Data
	id := firstNonEmpty(d.InvoiceCode, d.Reference, string(d.ID))
	if env.Event == "" || id == "" {
		return nil, malformed("paystack event without event name or id")
	}

	ev := &projector.Event{
		Provider:          types.PaymentProviderPaystack,
		ProviderEventID:   env.Event + ":" + id,
		ProviderEventType: env.Event,
		Type:              types.BillingEventUnknown,
		SubscriptionRef:   d.subscriptionRef(),
		OrganizationID:    d.Metadata["organization_id"],
		CustomerRef:       d.Customer.CustomerCode,
		PaymentMethodRef:  d.Authorization.AuthorizationCode,
		CustomerEmail:     d.Customer.Email,
		Plan:              d.Plan.PlanCode,
		Currency:          strings.ToUpper(firstNonEmpty(d.Currency, "NGN")),
		OccurredAt:        time.Now().UTC(),
	}
	if t, err := time.Parse(time.RFC3339, d.CreatedAt); err == nil {
		ev.OccurredAt = t.UTC()
	}

	switch env.Event {
	case "invoice.payment_failed":
		ev.Type = types.BillingEventPaymentFailed
		ev.Amount = money.FromMinor(d.Amount, ev.Currency)
	case "invoice.update":
		if d.Paid || d.Status == "success" {
			ev.Type = types.BillingEventPaymentSucceeded
		}
	case "charge.success":
		if ev.SubscriptionRef != "" {
			ev.Type = types.BillingEventPaymentSucceeded
		}
	case "subscription.disable":
		ev.Type = types.BillingEventSubscriptionCanceled
	case "subscription.create", "subscription.not_renew":
		ev.Type = types.BillingEventSubscriptionUpdated
	}
	if ev.SubscriptionRef == "" {
		ev.Type = types.BillingEventUnknown
	}
	return ev, nil
}
