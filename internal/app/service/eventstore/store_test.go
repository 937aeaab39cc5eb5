package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/fatflowers/dunning/internal/models"
	"github.com/fatflowers/dunning/internal/platform/db/dbtest"
	"github.com/fatflowers/dunning/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func event(provider types.PaymentProvider, id string) *models.BillingEvent {
	return &models.BillingEvent{
		Provider:        provider,
		ProviderEventID: id,
		EventType:       types.BillingEventPaymentFailed,
		SubscriptionRef: "sub_1",
		ReceivedAt:      time.Now().UTC(),
		RawPayload:      []byte(`{"id":"` + id + `"}`),
	}
}

func TestRecord_Dedup(t *testing.T) {
	db := dbtest.Open(t)
	s := New(db, zap.NewNop().Sugar())
	ctx := context.Background()

	inserted, err := s.Record(ctx, db, event(types.PaymentProviderStripe, "evt_1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := event(types.PaymentProviderStripe, "evt_1")
	dup.EventType = types.BillingEventPaymentSucceeded
	inserted, err = s.Record(ctx, db, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	// same id from another provider is a different event
	inserted, err = s.Record(ctx, db, event(types.PaymentProviderPaystack, "evt_1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	stored, err := s.Get(ctx, types.PaymentProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, types.BillingEventPaymentFailed, stored.EventType)

	seen, err := s.Seen(ctx, types.PaymentProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = s.Get(ctx, types.PaymentProviderSquare, "evt_1")
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestRecord_RolledBackEventIsNotRemembered(t *testing.T) {
	db := dbtest.Open(t)
	s := New(db, zap.NewNop().Sugar())
	ctx := context.Background()

	_ = db.Transaction(func(tx *gorm.DB) error {
		inserted, err := s.Record(ctx, tx, event(types.PaymentProviderStripe, "evt_2"))
		require.NoError(t, err)
		require.True(t, inserted)
		return assert.AnError
	})

	seen, err := s.Seen(ctx, types.PaymentProviderStripe, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecord_InvalidInput(t *testing.T) {
	db := dbtest.Open(t)
	s := New(db, zap.NewNop().Sugar())
	_, err := s.Record(context.Background(), db, &models.BillingEvent{Provider: types.PaymentProviderStripe})
	require.Error(t, err)
}
