package models

import (
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"gorm.io/datatypes"
)

type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusReceived     WebhookDeliveryStatus = "received"
	WebhookDeliveryStatusRejected     WebhookDeliveryStatus = "rejected"
	WebhookDeliveryStatusDuplicate    WebhookDeliveryStatus = "duplicate"
	WebhookDeliveryStatusHandled      WebhookDeliveryStatus = "handled"
	WebhookDeliveryStatusHandleFailed WebhookDeliveryStatus = "handle_failed"
)

// WebhookDeliveryLog records every inbound delivery, including rejected and
// duplicate ones that never reach billing_events.
type WebhookDeliveryLog struct {
	ID              string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider        types.PaymentProvider `gorm:"column:provider;type:varchar(32);not null;index" json:"provider"`
	ProviderEventID string                `gorm:"column:provider_event_id;type:varchar(255)" json:"provider_event_id"`
	TraceID         string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	ReceivedAt      time.Time             `gorm:"column:received_at" json:"received_at"`
	Data            datatypes.JSON        `gorm:"column:data;type:jsonb" json:"data"`
	Result          *datatypes.JSON       `gorm:"column:result;type:jsonb" json:"result"`
	Status          WebhookDeliveryStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func (WebhookDeliveryLog) TableName() string { return "webhook_delivery_log" }
