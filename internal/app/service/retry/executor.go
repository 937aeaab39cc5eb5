// Package retry executes one payment retry for a dunning process and records
// its outcome.
package retry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/internal/platform/gateway"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/metrics"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reasonUnsupportedProvider = "unsupported_provider"

type Executor struct {
	gateways *gateway.Registry
	timeout  time.Duration
	metrics  *metrics.DunningMetrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewExecutor(cfg *config.Config, gateways *gateway.Registry, m *metrics.DunningMetrics, log *zap.SugaredLogger) *Executor {
	return &Executor{
		gateways: gateways,
		timeout:  cfg.Providers.GatewayTimeout,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Result is the outcome of one charge. Attempt is always persisted.
type Result struct {
	Attempt       *models.PaymentAttempt
	Succeeded     bool
	FailureReason string
}

// Charge retries the amount due on p through the subscription's provider and
// writes exactly one PaymentAttempt in tx. Gateway failures become a failed
// attempt; only persistence errors are returned. The process counter
// total_attempts is written in tx together with the attempt, so it stays in
// step even when the caller's stage transition later loses the lease.
func (e *Executor) Charge(ctx context.Context, tx *gorm.DB, p *models.DunningProcess, sub *models.Subscription) (*Result, error) {
	if p == nil || sub == nil {
		return nil, fmt.Errorf("invalid params: process and subscription required")
	}
	number, err := nextAttemptNumber(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	start := e.now()
	attempt := &models.PaymentAttempt{
		ID:               tool.GenerateUUIDV7(),
		DunningProcessID: p.ID,
		AttemptNumber:    number,
		Stage:            p.Stage,
		Provider:         sub.Provider,
		Amount:           p.AmountDue,
		Currency:         p.Currency,
		IdempotencyKey:   p.IdempotencyKey(),
		AttemptedAt:      start.UTC(),
	}

	chargeID, reason := e.call(ctx, p, sub, attempt)
	if reason == "" {
		attempt.Status = types.PaymentAttemptStatusSucceeded
		attempt.ProviderChargeID = lo.EmptyableToPtr(chargeID)
	} else {
		attempt.Status = types.PaymentAttemptStatusFailed
		attempt.FailureReason = lo.ToPtr(reason)
	}

	if err := tx.WithContext(ctx).Create(attempt).Error; err != nil {
		return nil, fmt.Errorf("failed to save payment attempt: %w", err)
	}
	if err := tx.WithContext(ctx).Model(&models.DunningProcess{}).
		Where("id = ?", p.ID).
		UpdateColumn("total_attempts", attempt.AttemptNumber).Error; err != nil {
		return nil, fmt.Errorf("failed to count payment attempt: %w", err)
	}
	p.TotalAttempts = attempt.AttemptNumber

	e.metrics.PaymentAttempt(string(sub.Provider), string(attempt.Status), reason)
	e.metrics.ObserveProcess("retry", string(sub.Provider), start)
	logctx.FromCtx(ctx, e.log).Infow("payment_attempt",
		"attempt", attempt.AttemptNumber,
		"stage", attempt.Stage,
		"status", attempt.Status,
		"failure_reason", reason,
	)

	return &Result{Attempt: attempt, Succeeded: reason == "", FailureReason: reason}, nil
}

// nextAttemptNumber numbers past every attempt already stored for p, which
// also covers a total_attempts value that fell behind the attempt rows.
func nextAttemptNumber(ctx context.Context, tx *gorm.DB, p *models.DunningProcess) (int, error) {
	var last int
	if err := tx.WithContext(ctx).Model(&models.PaymentAttempt{}).
		Where("dunning_process_id = ?", p.ID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&last).Error; err != nil {
		return 0, fmt.Errorf("failed to read payment attempts: %w", err)
	}
	return max(last, p.TotalAttempts) + 1, nil
}

// call returns the provider charge id, or a failure reason.
func (e *Executor) call(ctx context.Context, p *models.DunningProcess, sub *models.Subscription, attempt *models.PaymentAttempt) (string, string) {
	gw, err := e.gateways.Get(sub.Provider)
	if err != nil {
		logctx.FromCtx(ctx, e.log).Errorw("no gateway for provider", "provider", sub.Provider, "err", err)
		return "", reasonUnsupportedProvider
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := gw.ChargeCustomer(callCtx, gateway.ChargeRequest{
		CustomerRef:      sub.CustomerRef,
		PaymentMethodRef: sub.PaymentMethodRef,
		CustomerEmail:    sub.CustomerEmail,
		Amount:           attempt.Amount,
		Currency:         attempt.Currency,
		IdempotencyKey:   attempt.IdempotencyKey,
		Metadata: map[string]string{
			"dunning_process_id": p.ID,
			"subscription_ref":   sub.ProviderSubscriptionID,
			"stage":              string(p.Stage),
			"attempt":            strconv.Itoa(attempt.AttemptNumber),
		},
	})
	if err != nil {
		gwErr := gateway.Classify(callCtx, err)
		if gwErr.Kind != gateway.KindDeclined {
			logctx.FromCtx(ctx, e.log).Warnw("gateway charge failed", "kind", gwErr.Kind, "err", err)
		}
		if gwErr.Reason == "" {
			return "", types.FailureReasonGatewayError
		}
		return "", gwErr.Reason
	}
	if res == nil {
		return "", types.FailureReasonGatewayError
	}
	return res.ProviderChargeID, ""
}

var Module = fx.Options(
	fx.Provide(NewExecutor),
)
