package models

import (
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
)

// DunningProcess is one recovery lifecycle for a subscription. At most one
// ACTIVE row exists per subscription; RECOVERED and CANCELLED rows are frozen.
type DunningProcess struct {
	ID             string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string                `gorm:"column:subscription_id;type:uuid;not null;index:idx_dunning_active_subscription,unique,where:status = 'ACTIVE'" json:"subscription_id"`
	Provider       types.PaymentProvider `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	Status         types.DunningStatus   `gorm:"column:status;type:varchar(16);not null;index:idx_dunning_due,priority:1" json:"status"`
	Stage          types.DunningStage    `gorm:"column:stage;type:varchar(16);not null" json:"stage"`

	AmountDue       decimal.Decimal `gorm:"column:amount_due;type:numeric(20,4);not null" json:"amount_due"`
	AmountRecovered decimal.Decimal `gorm:"column:amount_recovered;type:numeric(20,4);not null;default:0" json:"amount_recovered"`
	Currency        string          `gorm:"column:currency;type:varchar(8);not null" json:"currency"`

	StartedAt time.Time `gorm:"column:started_at;not null" json:"started_at"`
	// NextActionAt is nil once the process is terminal.
	NextActionAt       *time.Time `gorm:"column:next_action_at;index:idx_dunning_due,priority:2" json:"next_action_at"`
	WillCancelAt       time.Time  `gorm:"column:will_cancel_at;not null" json:"will_cancel_at"`
	ResolvedAt         *time.Time `gorm:"column:resolved_at" json:"resolved_at"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at" json:"cancelled_at"`
	CancellationReason *string    `gorm:"column:cancellation_reason;type:varchar(255)" json:"cancellation_reason"`

	ClaimToken   *string    `gorm:"column:claim_token;type:varchar(64)" json:"-"`
	ClaimedUntil *time.Time `gorm:"column:claimed_until" json:"claimed_until"`

	TotalAttempts int `gorm:"column:total_attempts;not null;default:0" json:"total_attempts"`
	// TotalEmailsSent counts notifications recorded with a recipient address.
	TotalEmailsSent int `gorm:"column:total_emails_sent;not null;default:0" json:"total_emails_sent"`

	// TriggerEventID is the billing event that opened the process.
	TriggerEventID string    `gorm:"column:trigger_event_id;type:varchar(64)" json:"trigger_event_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (DunningProcess) TableName() string {
	return "dunning_processes"
}

// Claimed reports whether a sweep lease is live at now.
func (p *DunningProcess) Claimed(now time.Time) bool {
	return p.ClaimedUntil != nil && p.ClaimedUntil.After(now)
}

// IdempotencyKey identifies the charge for the current stage; re-running the
// same stage after a crash reuses it.
func (p *DunningProcess) IdempotencyKey() string {
	return p.ID + ":" + string(p.Stage)
}
