package delivery_log

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
	"gorm.io/datatypes"
)

func TestSaveAndRecent(t *testing.T) {
	db := dbtest.Open(t)
	s := New(db, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC()
	s.Save(ctx, &models.WebhookDeliveryLog{
		Provider:   types.PaymentProviderStripe,
		ReceivedAt: now.Add(-time.Minute),
		Data:       datatypes.JSON(`{"id":"evt_1"}`),
		Status:     models.WebhookDeliveryStatusReceived,
	})
	s.Save(ctx, &models.WebhookDeliveryLog{
		Provider:   types.PaymentProviderPaystack,
		ReceivedAt: now,
		Data:       datatypes.JSON(`{}`),
		Status:     models.WebhookDeliveryStatusRejected,
	})
	s.Save(ctx, nil)

	require.Eventually(t, func() bool {
		logs, err := s.Recent(ctx, "", 10)
		return err == nil && len(logs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	logs, err := s.Recent(ctx, types.PaymentProviderStripe, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.WebhookDeliveryStatusReceived, logs[0].Status)
	assert.NotEmpty(t, logs[0].ID)
}
