package models

import (
	"time"

	"github.com/fatflowers/dunning/pkg/types"
)

// BillingEvent is the deduplication ledger for inbound provider webhooks.
// Rows are append-only; (provider, provider_event_id) is unique for the
// lifetime of the system.
type BillingEvent struct {
	ID              string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider        types.PaymentProvider  `gorm:"column:provider;type:varchar(32);not null;uniqueIndex:idx_billing_event_provider_event,priority:1" json:"provider"`
	ProviderEventID string                 `gorm:"column:provider_event_id;type:varchar(255);not null;uniqueIndex:idx_billing_event_provider_event,priority:2" json:"provider_event_id"`
	EventType       types.BillingEventType `gorm:"column:event_type;type:varchar(64);not null" json:"event_type"`
	// ProviderEventType is the provider's own name, e.g. invoice.payment_failed.
	ProviderEventType string    `gorm:"column:provider_event_type;type:varchar(128)" json:"provider_event_type"`
	SubscriptionRef   string    `gorm:"column:subscription_ref;type:varchar(255);index" json:"subscription_ref"`
	ReceivedAt        time.Time `gorm:"column:received_at;not null" json:"received_at"`
	// RawPayload is stored as received and never reparsed.
	RawPayload []byte `gorm:"column:raw_payload" json:"-"`
}

func (BillingEvent) TableName() string {
	return "billing_events"
}
