package webhook

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const StripeSignatureHeader = "Stripe-Signature"

type StripeParser struct {
	secret string
}

func NewStripeParser(secret string) *StripeParser { return &StripeParser{secret: secret} }

func (p *StripeParser) Provider() types.PaymentProvider { return types.PaymentProviderStripe }

type stripeInvoice struct {
	ID            string        `json:"id"`
	Customer      flexString    `json:"customer"`
	CustomerEmail string        `json:"customer_email"`
	AmountDue     int64         `json:"amount_due"`
	Currency      string        `json:"currency"`
	Subscription  flexString    `json:"subscription"`
	Metadata      looseMetadata `json:"metadata"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription flexString    `json:"subscription"`
			Metadata     looseMetadata `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionRef handles both the legacy top-level field and the newer
// parent.subscription_details location.
func (inv *stripeInvoice) subscriptionRef() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func (inv *stripeInvoice) metadata(key string) string {
	if v := inv.Metadata[key]; v != "" {
		return v
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Metadata[key]
	}
	return ""
}

type stripeSubscription struct {
	ID                   string        `json:"id"`
	Customer             flexString    `json:"customer"`
	Status               string        `json:"status"`
	Currency             string        `json:"currency"`
	DefaultPaymentMethod flexString    `json:"default_payment_method"`
	Metadata             looseMetadata `json:"metadata"`
	Items                struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p *StripeParser) Parse(header http.Header, body []byte) (*projector.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(body, header.Get(StripeSignatureHeader), p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Join(ErrInvalidSignature, err)
		}
		return nil, malformed("stripe event: %v", err)
	}
	if evt.Data == nil {
		return nil, malformed("stripe event %s without data", evt.ID)
	}

	ev := &projector.Event{
		Provider:          types.PaymentProviderStripe,
		ProviderEventID:   evt.ID,
		ProviderEventType: string(evt.Type),
		Type:              types.BillingEventUnknown,
		OccurredAt:        time.Unix(evt.Created, 0).UTC(),
	}

	switch evt.Type {
	case stripe.EventTypeInvoicePaymentFailed, stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaid:
		var inv stripeInvoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, malformed("stripe invoice: %v", err)
		}
		ev.SubscriptionRef = inv.subscriptionRef()
		if ev.SubscriptionRef == "" {
			// one-off invoices are outside dunning
			return ev, nil
		}
		ev.CustomerRef = string(inv.Customer)
		ev.CustomerEmail = inv.CustomerEmail
		ev.OrganizationID = inv.metadata("organization_id")
		ev.Plan = inv.metadata("plan")
		ev.Currency = strings.ToUpper(inv.Currency)
		if evt.Type == stripe.EventTypeInvoicePaymentFailed {
			ev.Type = types.BillingEventPaymentFailed
			ev.Amount = money.FromMinor(inv.AmountDue, ev.Currency)
		} else {
			ev.Type = types.BillingEventPaymentSucceeded
		}
	case stripe.EventTypeCustomerSubscriptionDeleted, stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripeSubscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, malformed("stripe subscription: %v", err)
		}
		ev.SubscriptionRef = sub.ID
		ev.CustomerRef = string(sub.Customer)
		ev.PaymentMethodRef = string(sub.DefaultPaymentMethod)
		ev.OrganizationID = sub.Metadata["organization_id"]
		ev.Currency = strings.ToUpper(sub.Currency)
		if len(sub.Items.Data) > 0 {
			ev.Plan = sub.Items.Data[0].Price.ID
		}
		if evt.Type == stripe.EventTypeCustomerSubscriptionDeleted || sub.Status == string(stripe.SubscriptionStatusCanceled) {
			ev.Type = types.BillingEventSubscriptionCanceled
		} else {
			ev.Type = types.BillingEventSubscriptionUpdated
		}
	}
	return ev, nil
}
