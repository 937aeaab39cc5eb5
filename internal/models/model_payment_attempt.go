package models

import (
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
)

// PaymentAttempt is one retry charge executed for a dunning process.
type PaymentAttempt struct {
	ID               string                     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	DunningProcessID string                     `gorm:"column:dunning_process_id;type:uuid;not null;uniqueIndex:idx_attempt_process_number,priority:1" json:"dunning_process_id"`
	AttemptNumber    int                        `gorm:"column:attempt_number;not null;uniqueIndex:idx_attempt_process_number,priority:2" json:"attempt_number"`
	Stage            types.DunningStage         `gorm:"column:stage;type:varchar(16);not null" json:"stage"`
	Status           types.PaymentAttemptStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	Provider         types.PaymentProvider      `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	Amount           decimal.Decimal            `gorm:"column:amount;type:numeric(20,4);not null" json:"amount"`
	Currency         string                     `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	IdempotencyKey   string                     `gorm:"column:idempotency_key;type:varchar(128);not null" json:"idempotency_key"`
	ProviderChargeID *string                    `gorm:"column:provider_charge_id;type:varchar(255)" json:"provider_charge_id"`
	FailureReason    *string                    `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason"`
	AttemptedAt      time.Time                  `gorm:"column:attempted_at;not null" json:"attempted_at"`
	CreatedAt        time.Time                  `json:"created_at"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}
