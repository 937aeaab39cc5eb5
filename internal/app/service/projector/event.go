package projector

import (
	"errors"
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Event is a provider webhook normalized to the fields the projector needs.
type Event struct {
	Provider          types.PaymentProvider  `json:"provider" validate:"required"`
	ProviderEventID   string                 `json:"provider_event_id" validate:"required,max=255"`
	ProviderEventType string                 `json:"provider_event_type"`
	Type              types.BillingEventType `json:"type" validate:"required,oneof=payment_failed payment_succeeded subscription_canceled subscription_updated unknown"`
	SubscriptionRef   string                 `json:"subscription_ref" validate:"required_unless=Type unknown,max=255"`
	OrganizationID    string                 `json:"organization_id"`
	CustomerRef       string                 `json:"customer_ref"`
	PaymentMethodRef  string                 `json:"payment_method_ref"`
	CustomerEmail     string                 `json:"customer_email" validate:"omitempty,email"`
	Plan              string                 `json:"plan"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency" validate:"omitempty,len=3"`
	OccurredAt        time.Time              `json:"occurred_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the normalized event before it reaches the ledger.
func (e *Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return err
	}
	if e.Type == types.BillingEventPaymentFailed {
		if !e.Amount.IsPositive() {
			return errors.New("payment_failed event without a positive amount")
		}
		if e.Currency == "" {
			return errors.New("payment_failed event without a currency")
		}
	}
	return nil
}
