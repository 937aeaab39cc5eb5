package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/projector"
	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/types"
)

const SquareSignatureHeader = "X-Square-Hmacsha256-Signature"

// SquareParser verifies the base64 HMAC-SHA256 of notification URL + body.
// The URL must be exactly the one registered with Square.
type SquareParser struct {
	key             string
	notificationURL string
}

func NewSquareParser(key, notificationURL string) *SquareParser {
	return &SquareParser{key: key, notificationURL: notificationURL}
}

func (p *SquareParser) Provider() types.PaymentProvider { return types.PaymentProviderSquare }

type squareEnvelope struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		Object struct {
			Invoice      *squareInvoice      `json:"invoice"`
			Subscription *squareSubscription `json:"subscription"`
		} `json:"object"`
	} `json:"data"`
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareInvoice struct {
	ID               string `json:"id"`
	SubscriptionID   string `json:"subscription_id"`
	PrimaryRecipient struct {
		CustomerID   string `json:"customer_id"`
		EmailAddress string `json:"email_address"`
	} `json:"primary_recipient"`
	PaymentRequests []struct {
		CardID              string       `json:"card_id"`
		ComputedAmountMoney *squareMoney `json:"computed_amount_money"`
	} `json:"payment_requests"`
}

type squareSubscription struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer_id"`
	PlanVariation string `json:"plan_variation_id"`
	Status        string `json:"status"`
	CardID        string `json:"card_id"`
}

func (p *SquareParser) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.key))
	mac.Write([]byte(p.notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (p *SquareParser) Parse(header http.Header, body []byte) (*projector.Event, error) {
	if !equalMAC(header.Get(SquareSignatureHeader), p.Sign(body)) {
		return nil, ErrInvalidSignature
	}
	var env squareEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed("square event: %v", err)
	}
	if env.EventID == "" || env.Type == "" {
		return nil, malformed("square event without event_id or type")
	}

	ev := &projector.Event{
		Provider:          types.PaymentProviderSquare,
		ProviderEventID:   env.EventID,
		ProviderEventType: env.Type,
		Type:              types.BillingEventUnknown,
		OccurredAt:        time.Now().UTC(),
	}
	if t, err := time.Parse(time.RFC3339, env.CreatedAt); err == nil {
		ev.OccurredAt = t.UTC()
	}

	switch env.Type {
	case "invoice.scheduled_charge_failed", "invoice.payment_made":
		inv := env.Data.Object.Invoice
		if inv == nil {
			return nil, malformed("square %s without invoice", env.Type)
		}
		ev.SubscriptionRef = inv.SubscriptionID
		ev.CustomerRef = inv.PrimaryRecipient.CustomerID
		ev.CustomerEmail = inv.PrimaryRecipient.EmailAddress
		if len(inv.PaymentRequests) > 0 {
			req := inv.PaymentRequests[0]
			ev.PaymentMethodRef = req.CardID
			if req.ComputedAmountMoney != nil {
				ev.Currency = strings.ToUpper(req.ComputedAmountMoney.Currency)
				ev.Amount = money.FromMinor(req.ComputedAmountMoney.Amount, ev.Currency)
			}
		}
		if env.Type == "invoice.payment_made" {
			ev.Type = types.BillingEventPaymentSucceeded
		} else {
			ev.Type = types.BillingEventPaymentFailed
		}
	case "subscription.created", "subscription.updated":
		sub := env.Data.Object.Subscription
		if sub == nil {
			return nil, malformed("square %s without subscription", env.Type)
		}
		ev.SubscriptionRef = sub.ID
		ev.CustomerRef = sub.CustomerID
		ev.PaymentMethodRef = sub.CardID
		ev.Plan = sub.PlanVariation
		switch sub.Status {
		case "CANCELED", "DEACTIVATED":
			ev.Type = types.BillingEventSubscriptionCanceled
		default:
			ev.Type = types.BillingEventSubscriptionUpdated
		}
	}
	if ev.SubscriptionRef == "" {
		ev.Type = types.BillingEventUnknown
	}
	return ev, nil
}
