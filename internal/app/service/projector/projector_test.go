package projector

import (
	"context"
	"testing"
	"time"

	"github.com/fatflowers/dunning/internal/app/service/dunning"
	"github.com/fatflowers/dunning/internal/app/service/notification"
	"github.com/fatflowers/dunning/internal/app/service/retry"
	"github.com/fatflowers/dunning/internal/app/service/subscription"
	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/internal/platform/db/dbtest"
	"github.com/fatflowers/dunning/internal/platform/gateway"
	"github.com/fatflowers/dunning/internal/platform/notifier"
	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	proj *Projector
	subs *subscription.Service
	repo *dunning.Repository
}

func newFixture(t *testing.T) *fixture {
	db := dbtest.Open(t)
	cfg := &config.Config{
		Dunning:   config.DunningConfig{RetryOffsetsDays: []int{3, 7, 14}, GracePeriodDays: 21},
		Providers: config.ProvidersConfig{GatewayTimeout: time.Second},
	}
	log := zap.NewNop().Sugar()
	subs := subscription.NewService(db, log)
	repo := dunning.NewRepository(db)
	exec := retry.NewExecutor(cfg, gateway.NewRegistry(), nil, log)
	trig := notification.NewTrigger(cfg, notifier.NewLogNotifier(log), nil, log)
	m := dunning.NewMachine(cfg, db, repo, subs, exec, trig, nil, log)
	return &fixture{db: db, proj: New(subs, m, log), subs: subs, repo: repo}
}

func (f *fixture) apply(t *testing.T, ev *Event) *Result {
	var res *Result
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = f.proj.Apply(context.Background(), tx, ev, "ledger-"+ev.ProviderEventID)
		return err
	}))
	return res
}

func failed(id string) *Event {
	return &Event{
		Provider:          types.PaymentProviderStripe,
		ProviderEventID:   id,
		ProviderEventType: "invoice.payment_failed",
		Type:              types.BillingEventPaymentFailed,
		SubscriptionRef:   "sub_1",
		CustomerRef:       "cus_1",
		CustomerEmail:     "billing@example.com",
		Amount:            decimal.RequireFromString("29.99"),
		Currency:          "USD",
	}
}

func TestPaymentFailed_StartsDunningOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.apply(t, failed("evt_1"))
	assert.Equal(t, ActionDunningStarted, res.Action)
	require.NotEmpty(t, res.DunningProcessID)

	p, err := f.repo.Get(ctx, res.DunningProcessID)
	require.NoError(t, err)
	assert.Equal(t, types.DunningStageInitial, p.Stage)
	assert.True(t, p.AmountDue.Equal(decimal.RequireFromString("29.99")))
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "ledger-evt_1", p.TriggerEventID)
	require.NotNil(t, p.NextActionAt)
	assert.WithinDuration(t, p.StartedAt.Add(72*time.Hour), *p.NextActionAt, time.Second)

	sub, err := f.subs.Get(ctx, res.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusPastDue, sub.Status)
	assert.True(t, sub.HasAccess())

	again := f.apply(t, failed("evt_2"))
	assert.Equal(t, ActionDunningAlreadyActive, again.Action)
	assert.Equal(t, res.DunningProcessID, again.DunningProcessID)
}

func TestPaymentSucceeded_RecoversActiveProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := f.apply(t, failed("evt_1"))

	res := f.apply(t, &Event{
		Provider:        types.PaymentProviderStripe,
		ProviderEventID: "evt_2",
		Type:            types.BillingEventPaymentSucceeded,
		SubscriptionRef: "sub_1",
	})
	assert.Equal(t, ActionDunningRecovered, res.Action)

	p, err := f.repo.Get(ctx, started.DunningProcessID)
	require.NoError(t, err)
	assert.Equal(t, types.DunningStatusRecovered, p.Status)
	assert.True(t, p.AmountRecovered.Equal(decimal.RequireFromString("29.99")))

	sub, err := f.subs.Get(ctx, res.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CurrentAmountDue.IsZero())

	// nothing left to recover
	res = f.apply(t, &Event{
		Provider:        types.PaymentProviderStripe,
		ProviderEventID: "evt_3",
		Type:            types.BillingEventPaymentSucceeded,
		SubscriptionRef: "sub_1",
	})
	assert.Equal(t, ActionSubscriptionUpdated, res.Action)
}

func TestSubscriptionCanceled_ClosesDunningSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := f.apply(t, failed("evt_1"))

	res := f.apply(t, &Event{
		Provider:        types.PaymentProviderStripe,
		ProviderEventID: "evt_2",
		Type:            types.BillingEventSubscriptionCanceled,
		SubscriptionRef: "sub_1",
	})
	assert.Equal(t, ActionDunningCancelled, res.Action)

	p, err := f.repo.Get(ctx, started.DunningProcessID)
	require.NoError(t, err)
	assert.Equal(t, types.DunningStatusCancelled, p.Status)
	require.NotNil(t, p.CancellationReason)
	assert.Equal(t, types.CancellationReasonProviderCanceled, *p.CancellationReason)

	var notes int64
	require.NoError(t, f.db.Model(&models.DunningNotification{}).Count(&notes).Error)
	assert.Zero(t, notes)

	// later failures on a canceled subscription open nothing
	ignored := f.apply(t, failed("evt_3"))
	assert.Equal(t, ActionIgnored, ignored.Action)
}

func TestSubscriptionUpdatedAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.apply(t, &Event{
		Provider:         types.PaymentProviderSquare,
		ProviderEventID:  "sq_1",
		Type:             types.BillingEventSubscriptionUpdated,
		SubscriptionRef:  "sq_sub",
		PaymentMethodRef: "ccof_1",
		Plan:             "team",
	})
	assert.Equal(t, ActionSubscriptionUpdated, res.Action)
	sub, err := f.subs.Get(ctx, res.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, "ccof_1", sub.PaymentMethodRef)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)

	res = f.apply(t, &Event{Provider: types.PaymentProviderSquare, ProviderEventID: "sq_2", Type: types.BillingEventUnknown})
	assert.Equal(t, ActionIgnored, res.Action)
}

func TestEventValidate(t *testing.T) {
	ok := failed("evt_1")
	require.NoError(t, ok.Validate())

	noAmount := failed("evt_1")
	noAmount.Amount = decimal.Zero
	require.Error(t, noAmount.Validate())

	noRef := failed("evt_1")
	noRef.SubscriptionRef = ""
	require.Error(t, noRef.Validate())

	badEmail := failed("evt_1")
	badEmail.CustomerEmail = "not-an-email"
	require.Error(t, badEmail.Validate())

	unknown := &Event{Provider: types.PaymentProviderStripe, ProviderEventID: "evt_x", Type: types.BillingEventUnknown}
	require.NoError(t, unknown.Validate())

	require.Error(t, (&Event{Provider: types.PaymentProviderStripe, Type: types.BillingEventUnknown}).Validate())
}
