// Package dunning owns the dunning process lifecycle: opening a process on a
// failed payment, advancing it through retry stages, and closing it on
// recovery or cancellation.
package dunning

import (
	"context"
	"fmt"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/notification"
	"github.com/fatflowers/dunning/internal/app/service/retry"
	"github.com/fatflowers/dunning/internal/app/service/subscription"
	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/metrics"
	"github.com/fatflowers/dunning/pkg/money"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Machine struct {
	db       *gorm.DB
	repo     *Repository
	subs     *subscription.Service
	retry    *retry.Executor
	notify   *notification.Trigger
	schedule Schedule
	metrics  *metrics.DunningMetrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewMachine(cfg *config.Config, db *gorm.DB, repo *Repository, subs *subscription.Service, exec *retry.Executor, trig *notification.Trigger, m *metrics.DunningMetrics, log *zap.SugaredLogger) *Machine {
	return &Machine{
		db:       db,
		repo:     repo,
		subs:     subs,
		retry:    exec,
		notify:   trig,
		schedule: NewSchedule(cfg),
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

func (m *Machine) clock() time.Time { return m.now().UTC() }

// Start opens a process for sub in tx unless one is already ACTIVE, in which
// case the existing process is returned with created=false. The amount due is
// rounded to the currency's minor unit.
func (m *Machine) Start(ctx context.Context, tx *gorm.DB, sub *models.Subscription, amount decimal.Decimal, currency, triggerEventID string) (*models.DunningProcess, bool, error) {
	existing, err := m.repo.ActiveForSubscription(ctx, tx, sub.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		logctx.FromCtx(ctx, m.log).Infow("dunning process already active", "dunning_process_id", existing.ID, "subscription_id", sub.ID)
		return existing, false, nil
	}

	now := m.clock()
	next := m.schedule.At(now, types.DunningStageInitial)
	p := &models.DunningProcess{
		ID:              tool.GenerateUUIDV7(),
		SubscriptionID:  sub.ID,
		Provider:        sub.Provider,
		Status:          types.DunningStatusActive,
		Stage:           types.DunningStageInitial,
		AmountDue:       money.Normalize(amount, currency),
		AmountRecovered: decimal.Zero,
		Currency:        currency,
		StartedAt:       now,
		NextActionAt:    &next,
		WillCancelAt:    m.schedule.WillCancelAt(now),
		TriggerEventID:  triggerEventID,
	}
	// The partial unique index on ACTIVE rows turns a concurrent second
	// insert into a no-op.
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create dunning process: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := m.repo.ActiveForSubscription(ctx, tx, sub.ID)
		return existing, false, err
	}

	m.metrics.Transition(string(p.Status), string(p.Stage))
	logctx.FromCtx(ctx, m.log).Infow("dunning_started",
		"dunning_process_id", p.ID,
		"subscription_id", sub.ID,
		"amount_due", amount.String(),
		"currency", currency,
		"next_action_at", next,
	)
	return p, true, nil
}

// Recover closes the ACTIVE process of a subscription as RECOVERED after the
// provider reported a successful payment. Any sweep lease is dropped. It
// returns nil when no process is active.
func (m *Machine) Recover(ctx context.Context, tx *gorm.DB, subscriptionID string) (*models.DunningProcess, error) {
	return m.closeActive(ctx, tx, subscriptionID, func(p *models.DunningProcess, now time.Time) map[string]any {
		p.Status = types.DunningStatusRecovered
		p.AmountRecovered = p.AmountDue
		p.ResolvedAt = &now
		return map[string]any{
			"status":           p.Status,
			"amount_recovered": p.AmountRecovered,
			"resolved_at":      now,
		}
	})
}

// ForceCancel closes the ACTIVE process of a subscription as CANCELLED without
// notifying the customer. It returns nil when no process is active.
func (m *Machine) ForceCancel(ctx context.Context, tx *gorm.DB, subscriptionID, reason string) (*models.DunningProcess, error) {
	return m.closeActive(ctx, tx, subscriptionID, func(p *models.DunningProcess, now time.Time) map[string]any {
		p.Status = types.DunningStatusCancelled
		p.CancelledAt = &now
		p.CancellationReason = &reason
		return map[string]any{
			"status":              p.Status,
			"cancelled_at":        now,
			"cancellation_reason": reason,
		}
	})
}

func (m *Machine) closeActive(ctx context.Context, tx *gorm.DB, subscriptionID string, apply func(*models.DunningProcess, time.Time) map[string]any) (*models.DunningProcess, error) {
	p, err := m.repo.ActiveForSubscription(ctx, tx, subscriptionID)
	if err != nil || p == nil {
		return nil, err
	}
	now := m.clock()
	updates := apply(p, now)
	updates["next_action_at"] = nil
	updates["claim_token"] = nil
	updates["claimed_until"] = nil

	res := tx.WithContext(ctx).Model(&models.DunningProcess{}).
		Where("id = ? AND status = ?", p.ID, types.DunningStatusActive).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to close dunning process: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	p.NextActionAt, p.ClaimToken, p.ClaimedUntil = nil, nil, nil

	m.metrics.Transition(string(p.Status), string(p.Stage))
	logctx.FromCtx(ctx, m.log).Infow("dunning_closed", "dunning_process_id", p.ID, "status", p.Status, "stage", p.Stage)
	return p, nil
}

// Advance executes the due action of a claimed process: a retry charge for
// retry stages, or the final cancellation. State change, attempt row,
// notification row and lease release commit together. Messages go out after
// commit. On error the lease is released so the next sweep can retry.
func (m *Machine) Advance(ctx context.Context, processID, claimToken string) (*StageOutcome, error) {
	start := time.Now()
	ctx = logctx.WithProcessID(ctx, processID)
	lg := logctx.FromCtx(ctx, m.log)

	var (
		out        *StageOutcome
		deliveries []*notification.Delivery
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := m.repo.GetWithTx(ctx, tx, processID)
		if err != nil {
			return err
		}
		now := m.clock()
		switch {
		case p.Status.Terminal():
			out = skipped(p, "terminal")
			return nil
		case p.ClaimToken == nil || *p.ClaimToken != claimToken:
			out = skipped(p, "claim_lost")
			return nil
		case p.NextActionAt == nil || now.Before(*p.NextActionAt):
			out = skipped(p, "not_due")
			return m.repo.release(ctx, tx, p.ID, claimToken)
		}

		sub, err := m.subs.GetWithTx(ctx, tx, p.SubscriptionID)
		if err != nil {
			return err
		}
		var d *notification.Delivery
		if p.Stage == types.DunningStageCancellation {
			out, d, err = m.cancelExpired(ctx, tx, p, sub, claimToken, now)
		} else {
			out, d, err = m.retryStage(ctx, tx, p, sub, claimToken)
		}
		if d != nil {
			deliveries = append(deliveries, d)
		}
		return err
	})
	if err != nil {
		if relErr := m.repo.Release(ctx, processID, claimToken); relErr != nil {
			lg.Errorw("failed to release dunning process after error", "err", relErr)
		}
		return nil, fmt.Errorf("failed to advance dunning process %s: %w", processID, err)
	}

	m.notify.Deliver(ctx, deliveries...)
	if out.Kind != OutcomeSkipped {
		m.metrics.Transition(string(out.Status), string(out.ToStage))
	}
	m.metrics.ObserveProcess("dunning", string(out.Kind), start)
	lg.Infow("dunning_advanced",
		"kind", out.Kind,
		"from_stage", out.FromStage,
		"to_stage", out.ToStage,
		"status", out.Status,
		"failure_reason", out.FailureReason,
		"skip_reason", out.SkipReason,
	)
	return out, nil
}

func (m *Machine) retryStage(ctx context.Context, tx *gorm.DB, p *models.DunningProcess, sub *models.Subscription, token string) (*StageOutcome, *notification.Delivery, error) {
	from := p.Stage
	res, err := m.retry.Charge(ctx, tx, p, sub)
	if err != nil {
		return nil, nil, err
	}
	out := &StageOutcome{ProcessID: p.ID, FromStage: from, ToStage: from, AttemptNumber: res.Attempt.AttemptNumber}

	if res.Succeeded {
		now := m.clock()
		ok, err := m.transition(ctx, tx, p.ID, token, map[string]any{
			"status":           types.DunningStatusRecovered,
			"amount_recovered": p.AmountDue,
			"resolved_at":      now,
			"next_action_at":   nil,
		})
		if err != nil || !ok {
			return lost(p, out), nil, err
		}
		if err := m.subs.SetStatus(ctx, tx, sub.ID, types.SubscriptionStatusActive, types.SubscriptionChangeReasonDunningRecovered, map[string]any{"dunning_process_id": p.ID}); err != nil {
			return nil, nil, err
		}
		out.Kind = OutcomeRecovered
		out.Status = types.DunningStatusRecovered
		return out, nil, nil
	}

	next := m.schedule.Next(from)
	nextAt := m.schedule.At(p.StartedAt, next)
	ok, err := m.transition(ctx, tx, p.ID, token, map[string]any{
		"stage":          next,
		"next_action_at": nextAt,
	})
	if err != nil || !ok {
		return lost(p, out), nil, err
	}
	p.Stage = next
	p.NextActionAt = &nextAt

	// Running out of retries sends the final notice now; the cancellation
	// message itself goes out when the grace period ends.
	notifyStage := next
	if next == types.DunningStageCancellation {
		notifyStage = types.DunningStageFinalNotice
	}
	d, err := m.recordNotification(ctx, tx, p, sub, notifyStage)
	if err != nil {
		return nil, nil, err
	}

	out.Kind = OutcomeRetryFailed
	out.Status = types.DunningStatusActive
	out.ToStage = next
	out.NextActionAt = &nextAt
	out.FailureReason = res.FailureReason
	return out, d, nil
}

func (m *Machine) cancelExpired(ctx context.Context, tx *gorm.DB, p *models.DunningProcess, sub *models.Subscription, token string, now time.Time) (*StageOutcome, *notification.Delivery, error) {
	out := &StageOutcome{ProcessID: p.ID, FromStage: p.Stage, ToStage: p.Stage}
	ok, err := m.transition(ctx, tx, p.ID, token, map[string]any{
		"status":              types.DunningStatusCancelled,
		"cancelled_at":        now,
		"cancellation_reason": types.CancellationReasonGraceExpired,
		"next_action_at":      nil,
	})
	if err != nil || !ok {
		return lost(p, out), nil, err
	}
	p.Status = types.DunningStatusCancelled
	p.NextActionAt = nil

	if err := m.subs.SetStatus(ctx, tx, sub.ID, types.SubscriptionStatusCanceled, types.SubscriptionChangeReasonDunningCanceled, map[string]any{"dunning_process_id": p.ID}); err != nil {
		return nil, nil, err
	}
	d, err := m.recordNotification(ctx, tx, p, sub, types.DunningStageCancellation)
	if err != nil {
		return nil, nil, err
	}

	out.Kind = OutcomeCancelled
	out.Status = types.DunningStatusCancelled
	return out, d, nil
}

// transition applies updates only while the process is ACTIVE and still
// leased with token, releasing the lease in the same statement.
func (m *Machine) transition(ctx context.Context, tx *gorm.DB, id, token string, updates map[string]any) (bool, error) {
	updates["claim_token"] = nil
	updates["claimed_until"] = nil
	res := tx.WithContext(ctx).Model(&models.DunningProcess{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, types.DunningStatusActive, token).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update dunning process: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (m *Machine) recordNotification(ctx context.Context, tx *gorm.DB, p *models.DunningProcess, sub *models.Subscription, stage types.DunningStage) (*notification.Delivery, error) {
	d, err := m.notify.Record(ctx, tx, p, sub, stage)
	if err != nil || d == nil {
		return nil, err
	}
	if d.To == "" {
		return d, nil
	}
	if err := tx.WithContext(ctx).Model(&models.DunningProcess{}).
		Where("id = ?", p.ID).
		UpdateColumn("total_emails_sent", gorm.Expr("total_emails_sent + 1")).Error; err != nil {
		return nil, fmt.Errorf("failed to count dunning notification: %w", err)
	}
	return d, nil
}

// Cancel stops an ACTIVE process on operator request. A process currently
// leased by a sweep worker is refused with ErrClaimConflict. The subscription
// keeps its status, normally past_due, and only gets an audit row; settling it
// is left to the provider's next event.
func (m *Machine) Cancel(ctx context.Context, processID, reason string) (*models.DunningProcess, error) {
	if reason == "" {
		reason = types.CancellationReasonManual
	}
	var (
		p   *models.DunningProcess
		sub *models.Subscription
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := m.clock()
		res := tx.WithContext(ctx).Model(&models.DunningProcess{}).
			Where("id = ? AND status = ?", processID, types.DunningStatusActive).
			Where("(claimed_until IS NULL OR claimed_until <= ?)", now).
			Updates(map[string]any{
				"status":              types.DunningStatusCancelled,
				"cancelled_at":        now,
				"cancellation_reason": reason,
				"next_action_at":      nil,
				"claim_token":         nil,
				"claimed_until":       nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to cancel dunning process: %w", res.Error)
		}
		cur, err := m.repo.GetWithTx(ctx, tx, processID)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			switch {
			case cur.Status.Terminal():
				return ErrProcessTerminal
			case cur.Claimed(now):
				return ErrClaimConflict
			default:
				return fmt.Errorf("%w: dunning process %s changed during cancel", ErrClaimConflict, processID)
			}
		}
		p = cur
		sub, err = m.subs.Note(ctx, tx, p.SubscriptionID, types.SubscriptionChangeReasonDunningStopped, map[string]any{
			"dunning_process_id":  p.ID,
			"cancellation_reason": reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.metrics.Transition(string(p.Status), string(p.Stage))
	logctx.FromCtx(logctx.WithProcessID(ctx, p.ID), m.log).Infow("dunning_cancelled",
		"reason", reason,
		"stage", p.Stage,
		"subscription_status", sub.Status,
	)
	return p, nil
}

func skipped(p *models.DunningProcess, reason string) *StageOutcome {
	return &StageOutcome{
		ProcessID:    p.ID,
		Kind:         OutcomeSkipped,
		FromStage:    p.Stage,
		ToStage:      p.Stage,
		Status:       p.Status,
		NextActionAt: p.NextActionAt,
		SkipReason:   reason,
	}
}

// lost marks an outcome whose process was resolved elsewhere after the
// lease was taken. The attempt row, if any, is still committed.
func lost(p *models.DunningProcess, out *StageOutcome) *StageOutcome {
	out.Kind = OutcomeSkipped
	out.Status = p.Status
	out.SkipReason = "resolved_concurrently"
	return out
}

var Module = fx.Options(
	fx.Provide(NewRepository, NewMachine),
)
