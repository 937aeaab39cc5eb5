package delivery_log

import (
	"context"
	"fmt"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a webhook delivery log. Nil input is ignored.
func (s *Service) Save(ctx context.Context, log *models.WebhookDeliveryLog) {
	if log == nil {
		return
	}
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	cp := *log
	go func() {
		if err := s.db.Save(&cp).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save webhook delivery log: %v", err)
		}
	}()
}

// Recent lists the latest deliveries, optionally for one provider.
func (s *Service) Recent(ctx context.Context, provider types.PaymentProvider, limit int) ([]*models.WebhookDeliveryLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("received_at desc").Limit(limit)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	var logs []*models.WebhookDeliveryLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhook delivery logs: %w", err)
	}
	return logs, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
