package models

import (
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"gorm.io/datatypes"
)

// DunningNotification records that the message for a stage went out. The
// (dunning_process_id, stage) pair is unique so a replayed sweep cannot
// send twice.
type DunningNotification struct {
	ID               string             `gorm:"column:id;type:uuid;primary_key" json:"id"`
	DunningProcessID string             `gorm:"column:dunning_process_id;type:uuid;not null;uniqueIndex:idx_notification_process_stage,priority:1" json:"dunning_process_id"`
	Stage            types.DunningStage `gorm:"column:stage;type:varchar(16);not null;uniqueIndex:idx_notification_process_stage,priority:2" json:"stage"`
	TemplateID       string             `gorm:"column:template_id;type:varchar(64);not null" json:"template_id"`
	Recipient        string             `gorm:"column:recipient;type:varchar(255)" json:"recipient"`
	Context          datatypes.JSONMap  `gorm:"column:context;type:jsonb;default:'{}'" json:"context"`
	SentAt           time.Time          `gorm:"column:sent_at;not null" json:"sent_at"`
}

func (DunningNotification) TableName() string {
	return "dunning_notifications"
}
