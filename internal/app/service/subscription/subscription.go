package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// Change is a partial update keyed by provider and provider subscription id.
// Empty strings and nil pointers leave the stored value untouched.
type Change struct {
	Provider               types.PaymentProvider
	ProviderSubscriptionID string
	OrganizationID         string
	Plan                   string
	CustomerRef            string
	PaymentMethodRef       string
	CustomerEmail          string
	Currency               string
	Status                 *types.SubscriptionStatus
	AmountDue              *decimal.Decimal
	Extra                  map[string]any
}

// Get loads a subscription by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Subscription, error) {
	return s.GetWithTx(ctx, s.db, id)
}

func (s *Service) GetWithTx(ctx context.Context, tx *gorm.DB, id string) (*models.Subscription, error) {
	var m models.Subscription
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &m, nil
}

// FindByProviderRef returns nil, nil when the provider subscription is unknown.
func (s *Service) FindByProviderRef(ctx context.Context, tx *gorm.DB, provider types.PaymentProvider, ref string) (*models.Subscription, error) {
	var m models.Subscription
	err := tx.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, ref).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return &m, nil
}

// Apply merges ch into the stored subscription, creating it when missing, and
// writes an audit row in tx whenever the row actually changes.
func (s *Service) Apply(ctx context.Context, tx *gorm.DB, ch Change, reason types.SubscriptionChangeReason, extra map[string]any) (*models.Subscription, error) {
	if ch.Provider == "" || ch.ProviderSubscriptionID == "" {
		return nil, fmt.Errorf("invalid params: provider and provider subscription id required")
	}

	original, err := s.FindByProviderRef(ctx, tx, ch.Provider, ch.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}

	var m models.Subscription
	if original != nil {
		m = *original
	} else {
		m = models.Subscription{
			ID:                     tool.GenerateUUIDV7(),
			Provider:               ch.Provider,
			ProviderSubscriptionID: ch.ProviderSubscriptionID,
			Status:                 types.SubscriptionStatusActive,
			Extra:                  datatypes.JSONMap{},
		}
		if reason == types.SubscriptionChangeReasonUpdated {
			reason = types.SubscriptionChangeReasonCreated
		}
	}
	merge(&m, ch)

	if original != nil && sameState(original, &m) {
		return original, nil
	}
	return &m, s.save(ctx, tx, original, &m, reason, extra)
}

// SetStatus changes only the status. Unchanged status is a no-op.
func (s *Service) SetStatus(ctx context.Context, tx *gorm.DB, id string, status types.SubscriptionStatus, reason types.SubscriptionChangeReason, extra map[string]any) error {
	original, err := s.GetWithTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if original.Status == status {
		return nil
	}
	m := *original
	m.Status = status
	return s.save(ctx, tx, original, &m, reason, extra)
}

// Note writes an audit row for an event that leaves the subscription itself
// unchanged.
func (s *Service) Note(ctx context.Context, tx *gorm.DB, id string, reason types.SubscriptionChangeReason, extra map[string]any) (*models.Subscription, error) {
	current, err := s.GetWithTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	log := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: current.ID,
		Reason:         reason,
		Before:         datatypes.NewJSONType(current),
		After:          datatypes.NewJSONType(current),
		Extra:          datatypes.JSONMap(extra),
	}
	if err := tx.WithContext(ctx).Create(log).Error; err != nil {
		return nil, fmt.Errorf("failed to save subscription log: %w", err)
	}
	return current, nil
}

// Logs lists the audit trail of a subscription, newest first.
func (s *Service) Logs(ctx context.Context, subscriptionID string) ([]*models.SubscriptionLog, error) {
	var logs []*models.SubscriptionLog
	if err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at desc").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscription logs: %w", err)
	}
	return logs, nil
}

func (s *Service) save(ctx context.Context, tx *gorm.DB, before, after *models.Subscription, reason types.SubscriptionChangeReason, extra map[string]any) error {
	if err := tx.WithContext(ctx).Save(after).Error; err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	// The audit row shares the transaction so a rolled back change leaves no trace.
	if extra == nil {
		extra = map[string]any{}
	}
	log := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: after.ID,
		Reason:         reason,
		Before:         datatypes.NewJSONType(before),
		After:          datatypes.NewJSONType(after),
		Extra:          datatypes.JSONMap(extra),
	}
	if err := tx.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to save subscription log: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Infow("subscription_changed",
		"subscription_id", after.ID,
		"reason", reason,
		"status", after.Status,
	)
	return nil
}

func merge(m *models.Subscription, ch Change) {
	if ch.OrganizationID != "" {
		m.OrganizationID = ch.OrganizationID
	}
	if ch.Plan != "" {
		m.Plan = ch.Plan
	}
	if ch.CustomerRef != "" {
		m.CustomerRef = ch.CustomerRef
	}
	if ch.PaymentMethodRef != "" {
		m.PaymentMethodRef = ch.PaymentMethodRef
	}
	if ch.CustomerEmail != "" {
		m.CustomerEmail = ch.CustomerEmail
	}
	if ch.Currency != "" {
		m.Currency = ch.Currency
	}
	if ch.Status != nil {
		m.Status = *ch.Status
	}
	if ch.AmountDue != nil {
		m.CurrentAmountDue = *ch.AmountDue
	}
	if len(ch.Extra) > 0 {
		merged := datatypes.JSONMap{}
		for k, v := range m.Extra {
			merged[k] = v
		}
		for k, v := range ch.Extra {
			merged[k] = v
		}
		m.Extra = merged
	}
}

func sameState(a, b *models.Subscription) bool {
	if a.OrganizationID != b.OrganizationID ||
		a.Plan != b.Plan ||
		a.CustomerRef != b.CustomerRef ||
		a.PaymentMethodRef != b.PaymentMethodRef ||
		a.CustomerEmail != b.CustomerEmail ||
		a.Currency != b.Currency ||
		a.Status != b.Status ||
		!a.CurrentAmountDue.Equal(b.CurrentAmountDue) ||
		len(a.Extra) != len(b.Extra) {
		return false
	}
	for k, v := range b.Extra {
		if fmt.Sprint(a.Extra[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

var Module = fx.Options(
	fx.Provide(NewService),
)
