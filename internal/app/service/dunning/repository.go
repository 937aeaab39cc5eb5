package dunning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScanFields are the columns admin scans may filter and sort on.
var ScanFields = []string{
	"id", "subscription_id", "provider", "status", "stage", "currency",
	"started_at", "next_action_at", "will_cancel_at", "resolved_at", "cancelled_at", "total_attempts",
}

type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.DunningProcess `json:"items"`
	Total int64                    `json:"total"`
}

// Detail is a process with its attempts and notifications. HasAccess tells
// whether the customer still has paid access while the process runs.
type Detail struct {
	Process       *models.DunningProcess        `json:"process"`
	Subscription  *models.Subscription          `json:"subscription"`
	HasAccess     bool                          `json:"has_access"`
	Attempts      []*models.PaymentAttempt      `json:"attempts"`
	Notifications []*models.DunningNotification `json:"notifications"`
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Get(ctx context.Context, id string) (*models.DunningProcess, error) {
	return r.GetWithTx(ctx, r.db, id)
}

func (r *Repository) GetWithTx(ctx context.Context, tx *gorm.DB, id string) (*models.DunningProcess, error) {
	var p models.DunningProcess
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProcessNotFound
		}
		return nil, fmt.Errorf("failed to get dunning process: %w", err)
	}
	return &p, nil
}

// ActiveForSubscription returns nil, nil when the subscription has no ACTIVE process.
func (r *Repository) ActiveForSubscription(ctx context.Context, tx *gorm.DB, subscriptionID string) (*models.DunningProcess, error) {
	var p models.DunningProcess
	err := tx.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, types.DunningStatusActive).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active dunning process: %w", err)
	}
	return &p, nil
}

// DueIDs lists ACTIVE processes whose next action is due and whose lease, if
// any, has expired. Oldest due first.
func (r *Repository) DueIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.DunningProcess{}).
		Where("status = ? AND next_action_at <= ?", types.DunningStatusActive, now).
		Where("(claimed_until IS NULL OR claimed_until <= ?)", now).
		Order("next_action_at asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due dunning processes: %w", err)
	}
	return ids, nil
}

// Claim takes a lease on a due process. It is a single conditional update, so
// at most one caller wins per lease period.
func (r *Repository) Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DunningProcess{}).
		Where("id = ? AND status = ? AND next_action_at <= ?", id, types.DunningStatusActive, now).
		Where("(claimed_until IS NULL OR claimed_until <= ?)", now).
		Updates(map[string]any{
			"claim_token":   token,
			"claimed_until": now.Add(lease),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim dunning process: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release drops a lease held with token. A lease already taken over is left alone.
func (r *Repository) Release(ctx context.Context, id, token string) error {
	return r.release(ctx, r.db, id, token)
}

func (r *Repository) release(ctx context.Context, tx *gorm.DB, id, token string) error {
	err := tx.WithContext(ctx).Model(&models.DunningProcess{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]any{"claim_token": nil, "claimed_until": nil}).Error
	if err != nil {
		return fmt.Errorf("failed to release dunning process: %w", err)
	}
	return nil
}

func (r *Repository) Attempts(ctx context.Context, processID string) ([]*models.PaymentAttempt, error) {
	var rows []*models.PaymentAttempt
	if err := r.db.WithContext(ctx).Where("dunning_process_id = ?", processID).Order("attempt_number asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	return rows, nil
}

func (r *Repository) Notifications(ctx context.Context, processID string) ([]*models.DunningNotification, error) {
	var rows []*models.DunningNotification
	if err := r.db.WithContext(ctx).Where("dunning_process_id = ?", processID).Order("sent_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list dunning notifications: %w", err)
	}
	return rows, nil
}

// Detail loads a process with its subscription, attempts and notifications.
func (r *Repository) Detail(ctx context.Context, id string) (*Detail, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Process: p}

	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", p.SubscriptionID).First(&sub).Error; err == nil {
		d.Subscription = &sub
		d.HasAccess = sub.HasAccess()
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if d.Attempts, err = r.Attempts(ctx, id); err != nil {
		return nil, err
	}
	if d.Notifications, err = r.Notifications(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// Scan implements paginated admin listing with filters.
func (r *Repository) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	for _, f := range req.Filters {
		if err := f.Validate(ScanFields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScan, err)
		}
	}
	if req.SortBy != "" && !lo.Contains(ScanFields, req.SortBy) {
		return nil, fmt.Errorf("%w: sort on field %q is not allowed", ErrInvalidScan, req.SortBy)
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := r.db.WithContext(ctx).Model(&models.DunningProcess{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count dunning processes: %w", err)
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "started_at"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*models.DunningProcess
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list dunning processes: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}
