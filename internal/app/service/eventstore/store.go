package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEventNotFound = errors.New("billing event not found")

// Store is the append-only ledger of processed provider events.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Store { return &Store{db: db, log: log} }

// Record inserts ev inside tx. It returns false when (provider,
// provider_event_id) is already present; the existing row is left untouched.
func (s *Store) Record(ctx context.Context, tx *gorm.DB, ev *models.BillingEvent) (bool, error) {
	if ev == nil || ev.Provider == "" || ev.ProviderEventID == "" {
		return false, fmt.Errorf("invalid params: provider and provider event id required")
	}
	if ev.ID == "" {
		ev.ID = tool.GenerateUUIDV7()
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record billing event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Seen reports whether the event is already in the ledger.
func (s *Store) Seen(ctx context.Context, provider types.PaymentProvider, providerEventID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.BillingEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check billing event: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Get(ctx context.Context, provider types.PaymentProvider, providerEventID string) (*models.BillingEvent, error) {
	var ev models.BillingEvent
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing event: %w", err)
	}
	return &ev, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
