// Package projector applies normalized billing events to subscription and
// dunning state.
package projector

import (
	"context"
	"fmt"

	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/internal/app/service/subscription"
	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/pkg/logctx"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Action string

const (
	ActionDunningStarted       Action = "dunning_started"
	ActionDunningAlreadyActive Action = "dunning_already_active"
	ActionDunningRecovered     Action = "dunning_recovered"
	ActionDunningCancelled     Action = "dunning_cancelled"
	ActionSubscriptionUpdated  Action = "subscription_updated"
	ActionIgnored              Action = "ignored"
)

// Result summarizes what an event changed.
type Result struct {
	Action           Action `json:"action"`
	SubscriptionID   string `json:"subscription_id,omitempty"`
	DunningProcessID string `json:"dunning_process_id,omitempty"`
}

type Projector struct {
	subs    *subscription.Service
	machine *dunning.Machine
	log     *zap.SugaredLogger
}

func New(subs *subscription.Service, machine *dunning.Machine, log *zap.SugaredLogger) *Projector {
	return &Projector{subs: subs, machine: machine, log: log}
}

// Apply projects ev inside tx. billingEventID is the ledger row that
// admitted the event. Unknown event types are acknowledged without changes.
func (p *Projector) Apply(ctx context.Context, tx *gorm.DB, ev *Event, billingEventID string) (*Result, error) {
	extra := map[string]any{
		"billing_event_id":  billingEventID,
		"provider_event_id": ev.ProviderEventID,
	}
	switch ev.Type {
	case types.BillingEventPaymentFailed:
		return p.paymentFailed(ctx, tx, ev, billingEventID, extra)
	case types.BillingEventPaymentSucceeded:
		return p.paymentSucceeded(ctx, tx, ev, extra)
	case types.BillingEventSubscriptionCanceled:
		return p.subscriptionCanceled(ctx, tx, ev, extra)
	case types.BillingEventSubscriptionUpdated:
		sub, err := p.subs.Apply(ctx, tx, change(ev, nil, nil), types.SubscriptionChangeReasonUpdated, extra)
		if err != nil {
			return nil, err
		}
		return &Result{Action: ActionSubscriptionUpdated, SubscriptionID: sub.ID}, nil
	default:
		logctx.FromCtx(ctx, p.log).Infow("ignoring billing event", "provider_event_type", ev.ProviderEventType, "provider_event_id", ev.ProviderEventID)
		return &Result{Action: ActionIgnored}, nil
	}
}

func (p *Projector) paymentFailed(ctx context.Context, tx *gorm.DB, ev *Event, billingEventID string, extra map[string]any) (*Result, error) {
	existing, err := p.subs.FindByProviderRef(ctx, tx, ev.Provider, ev.SubscriptionRef)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == types.SubscriptionStatusCanceled {
		logctx.FromCtx(ctx, p.log).Warnw("payment failure for canceled subscription", "subscription_id", existing.ID)
		return &Result{Action: ActionIgnored, SubscriptionID: existing.ID}, nil
	}

	amount := ev.Amount
	sub, err := p.subs.Apply(ctx, tx, change(ev, lo.ToPtr(types.SubscriptionStatusPastDue), &amount), types.SubscriptionChangeReasonPaymentFailed, extra)
	if err != nil {
		return nil, err
	}
	proc, created, err := p.machine.Start(ctx, tx, sub, amount, sub.Currency, billingEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to start dunning: %w", err)
	}
	res := &Result{Action: ActionDunningStarted, SubscriptionID: sub.ID, DunningProcessID: proc.ID}
	if !created {
		res.Action = ActionDunningAlreadyActive
	}
	return res, nil
}

func (p *Projector) paymentSucceeded(ctx context.Context, tx *gorm.DB, ev *Event, extra map[string]any) (*Result, error) {
	sub, err := p.subs.Apply(ctx, tx, change(ev, lo.ToPtr(types.SubscriptionStatusActive), lo.ToPtr(decimal.Zero)), types.SubscriptionChangeReasonPaymentSucceeded, extra)
	if err != nil {
		return nil, err
	}
	proc, err := p.machine.Recover(ctx, tx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to recover dunning: %w", err)
	}
	return closed(sub, proc, ActionDunningRecovered), nil
}

func (p *Projector) subscriptionCanceled(ctx context.Context, tx *gorm.DB, ev *Event, extra map[string]any) (*Result, error) {
	sub, err := p.subs.Apply(ctx, tx, change(ev, lo.ToPtr(types.SubscriptionStatusCanceled), nil), types.SubscriptionChangeReasonProviderCanceled, extra)
	if err != nil {
		return nil, err
	}
	proc, err := p.machine.ForceCancel(ctx, tx, sub.ID, types.CancellationReasonProviderCanceled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel dunning: %w", err)
	}
	return closed(sub, proc, ActionDunningCancelled), nil
}

func closed(sub *models.Subscription, proc *models.DunningProcess, action Action) *Result {
	if proc == nil {
		return &Result{Action: ActionSubscriptionUpdated, SubscriptionID: sub.ID}
	}
	return &Result{Action: action, SubscriptionID: sub.ID, DunningProcessID: proc.ID}
}

func change(ev *Event, status *types.SubscriptionStatus, amount *decimal.Decimal) subscription.Change {
	return subscription.Change{
		Provider:               ev.Provider,
		ProviderSubscriptionID: ev.SubscriptionRef,
		OrganizationID:         ev.OrganizationID,
		Plan:                   ev.Plan,
		CustomerRef:            ev.CustomerRef,
		PaymentMethodRef:       ev.PaymentMethodRef,
		CustomerEmail:          ev.CustomerEmail,
		Currency:               ev.Currency,
		Status:                 status,
		AmountDue:              amount,
	}
}

var Module = fx.Options(
	fx.Provide(New),
)
