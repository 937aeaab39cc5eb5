package models

import (
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Subscription is the billing-side view of a customer's plan, keyed by the
// provider's subscription id.
type Subscription struct {
	ID                     string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider               types.PaymentProvider    `gorm:"column:provider;type:varchar(32);not null;uniqueIndex:idx_subscription_provider_ref,priority:1" json:"provider"`
	ProviderSubscriptionID string                   `gorm:"column:provider_subscription_id;type:varchar(255);not null;uniqueIndex:idx_subscription_provider_ref,priority:2" json:"provider_subscription_id"`
	OrganizationID         string                   `gorm:"column:organization_id;type:varchar(64);index" json:"organization_id"`
	Status                 types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Plan                   string                   `gorm:"column:plan;type:varchar(128)" json:"plan"`
	CurrentAmountDue       decimal.Decimal          `gorm:"column:current_amount_due;type:numeric(20,4);not null;default:0" json:"current_amount_due"`
	Currency               string                   `gorm:"column:currency;type:varchar(8)" json:"currency"`
	// CustomerRef and PaymentMethodRef are what the gateway charges against.
	CustomerRef      string `gorm:"column:customer_ref;type:varchar(255)" json:"customer_ref"`
	PaymentMethodRef string `gorm:"column:payment_method_ref;type:varchar(255)" json:"payment_method_ref"`
	CustomerEmail    string `gorm:"column:customer_email;type:varchar(255)" json:"customer_email"`
	// Extra stores additional JSON data from the provider payload.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// HasAccess reports whether the customer keeps paid access. Past-due
// subscriptions keep access until dunning cancels them.
func (s *Subscription) HasAccess() bool {
	return s != nil && s.Status != types.SubscriptionStatusCanceled
}
