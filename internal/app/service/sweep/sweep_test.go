package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// customerGateway approves charges for customers listed in ok.
type customerGateway struct {
	ok map[string]bool
}

func (g *customerGateway) Provider() types.PaymentProvider { return types.PaymentProviderStripe }

func (g *customerGateway) ChargeCustomer(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if g.ok[req.CustomerRef] {
		return &gateway.ChargeResult{ProviderChargeID: "pi_" + req.CustomerRef}, nil
	}
	return nil, gateway.Declined("card_declined", nil)
}

type fixture struct {
	db      *gorm.DB
	repo    *dunning.Repository
	machine *dunning.Machine
	subs    *subscription.Service
	sweeper *Sweeper
}

func newFixture(t *testing.T, workers int) *fixture {
	db := dbtest.Open(t)
	cfg := &config.Config{
		Dunning:   config.DunningConfig{RetryOffsetsDays: []int{3, 7, 14}, GracePeriodDays: 21},
		Providers: config.ProvidersConfig{GatewayTimeout: time.Second},
		Sweep:     config.SweepConfig{BatchSize: 50, Lease: time.Minute, WorkerConcurrency: workers},
	}
	log := zap.NewNop().Sugar()
	f := &fixture{db: db, repo: dunning.NewRepository(db), subs: subscription.NewService(db, log)}
	gw := &customerGateway{ok: map[string]bool{"cus_ok": true}}
	exec := retry.NewExecutor(cfg, gateway.NewRegistry(gw), nil, log)
	trig := notification.NewTrigger(cfg, notifier.NewLogNotifier(log), nil, log)
	f.machine = dunning.NewMachine(cfg, db, f.repo, f.subs, exec, trig, nil, log)
	f.sweeper = NewSweeper(cfg, f.repo, f.machine, nil, log)
	return f
}

// open starts a process for customer and makes it due unless due is false.
func (f *fixture) open(t *testing.T, customer string, due bool) *models.DunningProcess {
	ctx := context.Background()
	var p *models.DunningProcess
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		sub, err := f.subs.Apply(ctx, tx, subscription.Change{
			Provider:               types.PaymentProviderStripe,
			ProviderSubscriptionID: "sub_" + customer,
			CustomerRef:            customer,
			CustomerEmail:          customer + "@example.com",
			Currency:               "USD",
			Status:                 lo.ToPtr(types.SubscriptionStatusPastDue),
			AmountDue:              lo.ToPtr(decimal.RequireFromString("29.99")),
		}, types.SubscriptionChangeReasonPaymentFailed, nil)
		if err != nil {
			return err
		}
		p, _, err = f.machine.Start(ctx, tx, sub, sub.CurrentAmountDue, "USD", "evt_"+customer)
		return err
	}))
	if due {
		require.NoError(t, f.db.Model(&models.DunningProcess{}).Where("id = ?", p.ID).
			Update("next_action_at", time.Now().UTC().Add(-time.Hour)).Error)
	}
	return p
}

func (f *fixture) reload(t *testing.T, id string) *models.DunningProcess {
	p, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestRun_AdvancesDueProcesses(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	ok := f.open(t, "cus_ok", true)
	bad := f.open(t, "cus_bad", true)
	later := f.open(t, "cus_later", false)

	stats, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Errored)
	require.NoError(t, stats.Err())

	assert.Equal(t, types.DunningStatusRecovered, f.reload(t, ok.ID).Status)
	failed := f.reload(t, bad.ID)
	assert.Equal(t, types.DunningStatusActive, failed.Status)
	assert.Equal(t, types.DunningStageWarning1, failed.Stage)
	assert.Nil(t, failed.ClaimToken)
	assert.Equal(t, types.DunningStageInitial, f.reload(t, later.ID).Stage)

	// nothing is due again until day 7
	stats, err = f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
}

func TestRun_SkipsRowsLeasedElsewhere(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	p := f.open(t, "cus_bad", true)
	claimed, err := f.repo.Claim(ctx, p.ID, tool.NewClaimToken(), time.Now().UTC(), time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	stats, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
	assert.Equal(t, types.DunningStageInitial, f.reload(t, p.ID).Stage)
}

type fakeAdvancer struct {
	fail     string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	mu       sync.Mutex
	seen     []string
}

func (a *fakeAdvancer) Advance(_ context.Context, id, _ string) (*dunning.StageOutcome, error) {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		cur := a.maxSeen.Load()
		if n <= cur || a.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)

	a.mu.Lock()
	a.seen = append(a.seen, id)
	a.mu.Unlock()
	if id == a.fail {
		return nil, errors.New("gateway exploded")
	}
	return &dunning.StageOutcome{ProcessID: id, Kind: dunning.OutcomeRetryFailed}, nil
}

func TestRun_BoundedWorkersAndAggregatedErrors(t *testing.T) {
	f := newFixture(t, 2)
	var ids []string
	for _, c := range []string{"c1", "c2", "c3", "c4", "c5"} {
		ids = append(ids, f.open(t, c, true).ID)
	}
	adv := &fakeAdvancer{fail: ids[2]}
	f.sweeper.machine = adv

	stats, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 4, stats.Failed)
	assert.Equal(t, 1, stats.Errored)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], ids[2])
	require.Error(t, stats.Err())

	assert.ElementsMatch(t, ids, adv.seen)
	assert.LessOrEqual(t, adv.maxSeen.Load(), int32(2))
}
