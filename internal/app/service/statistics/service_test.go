package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/internal/platform/db/dbtest"
	"github.com/fatflowers/dunning/pkg/tool"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedProcess(t *testing.T, db *gorm.DB, provider types.PaymentProvider, status types.DunningStatus, amount, currency string, reason *string) *models.DunningProcess {
	now := time.Now().UTC()
	p := &models.DunningProcess{
		ID:                 tool.GenerateUUIDV7(),
		SubscriptionID:     tool.GenerateUUIDV7(),
		Provider:           provider,
		Status:             status,
		Stage:              types.DunningStageWarning1,
		AmountDue:          decimal.RequireFromString(amount),
		AmountRecovered:    decimal.Zero,
		Currency:           currency,
		StartedAt:          now,
		WillCancelAt:       now.AddDate(0, 0, 21),
		CancellationReason: reason,
	}
	if status == types.DunningStatusRecovered {
		p.AmountRecovered = p.AmountDue
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedAttempt(t *testing.T, db *gorm.DB, p *models.DunningProcess, n int, status types.PaymentAttemptStatus, reason *string) {
	require.NoError(t, db.Create(&models.PaymentAttempt{
		ID:               tool.GenerateUUIDV7(),
		DunningProcessID: p.ID,
		AttemptNumber:    n,
		Stage:            p.Stage,
		Status:           status,
		Provider:         p.Provider,
		Amount:           p.AmountDue,
		Currency:         p.Currency,
		IdempotencyKey:   p.IdempotencyKey(),
		FailureReason:    reason,
		AttemptedAt:      time.Now().UTC(),
	}).Error)
}

func allItems() []*DataItem {
	return lo.Map([]StatisticType{
		StatisticTypeProcessCountByStatus,
		StatisticTypeRecoveryRate,
		StatisticTypeRecoveredAmount,
		StatisticTypeOutstandingAmount,
		StatisticTypeAttemptsByStatus,
		StatisticTypeAttemptsByFailureReason,
		StatisticTypeCancellationsByReason,
	}, func(id StatisticType, _ int) *DataItem { return &DataItem{ID: id} })
}

func TestGet_RecoveryStatistics(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(db)

	recovered := seedProcess(t, db, types.PaymentProviderStripe, types.DunningStatusRecovered, "29.99", "USD", nil)
	cancelled := seedProcess(t, db, types.PaymentProviderStripe, types.DunningStatusCancelled, "10.00", "USD", lo.ToPtr(types.CancellationReasonGraceExpired))
	seedProcess(t, db, types.PaymentProviderPaystack, types.DunningStatusActive, "5000", "NGN", nil)

	seedAttempt(t, db, recovered, 1, types.PaymentAttemptStatusFailed, lo.ToPtr(types.FailureReasonCardDeclined))
	seedAttempt(t, db, recovered, 2, types.PaymentAttemptStatusSucceeded, nil)
	seedAttempt(t, db, cancelled, 1, types.PaymentAttemptStatusFailed, lo.ToPtr(types.FailureReasonGatewayTimeout))

	res, err := svc.Get(context.Background(), &Request{DataItems: allItems()})
	require.NoError(t, err)

	assert.Len(t, res.DataItems[StatisticTypeProcessCountByStatus], 3)

	rate := res.DataItems[StatisticTypeRecoveryRate]
	require.Len(t, rate, 1)
	assert.EqualValues(t, 5000, rate[0].Value)
	assert.EqualValues(t, 2, rate[0].Value2)
	assert.EqualValues(t, 1, rate[0].Value3)

	amounts := res.DataItems[StatisticTypeRecoveredAmount]
	require.Len(t, amounts, 1)
	assert.Equal(t, "USD", amounts[0].Label)
	assert.True(t, amounts[0].Amount.Equal(decimal.RequireFromString("29.99")), amounts[0].Amount.String())

	outstanding := res.DataItems[StatisticTypeOutstandingAmount]
	require.Len(t, outstanding, 1)
	assert.Equal(t, "NGN", outstanding[0].Label)

	byStatus := lo.SliceToMap(res.DataItems[StatisticTypeAttemptsByStatus], func(i ResponseDataItem) (string, int64) { return i.Label, i.Value })
	assert.Equal(t, map[string]int64{"failed": 2, "succeeded": 1}, byStatus)

	reasons := lo.SliceToMap(res.DataItems[StatisticTypeCancellationsByReason], func(i ResponseDataItem) (string, int64) { return i.Label, i.Value })
	assert.Equal(t, map[string]int64{types.CancellationReasonGraceExpired: 1}, reasons)
}

func TestGet_FiltersScopeAttempts(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(db)

	stripe := seedProcess(t, db, types.PaymentProviderStripe, types.DunningStatusActive, "1", "USD", nil)
	paystack := seedProcess(t, db, types.PaymentProviderPaystack, types.DunningStatusActive, "1", "NGN", nil)
	seedAttempt(t, db, stripe, 1, types.PaymentAttemptStatusFailed, nil)
	seedAttempt(t, db, paystack, 1, types.PaymentAttemptStatusFailed, nil)
	seedAttempt(t, db, paystack, 2, types.PaymentAttemptStatusFailed, nil)

	res, err := svc.Get(context.Background(), &Request{
		Filters:   []*types.CommonFilter{{Field: "provider", Operator: types.CommonFilterOperatorEq, Values: []any{"paystack"}}},
		DataItems: []*DataItem{{ID: StatisticTypeAttemptsByStatus}},
	})
	require.NoError(t, err)
	items := res.DataItems[StatisticTypeAttemptsByStatus]
	require.Len(t, items, 1)
	assert.EqualValues(t, 2, items[0].Value)
}

func TestGet_InvalidRequests(t *testing.T) {
	svc := New(dbtest.Open(t))
	ctx := context.Background()

	_, err := svc.Get(ctx, &Request{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Get(ctx, &Request{
		Filters:   []*types.CommonFilter{{Field: "amount_due; drop table x", Operator: types.CommonFilterOperatorEq, Values: []any{1}}},
		DataItems: []*DataItem{{ID: StatisticTypeRecoveryRate}},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Get(ctx, &Request{DataItems: []*DataItem{{ID: "bogus"}}})
	require.ErrorIs(t, err, ErrInvalidRequest)
}
