package models

import (
	"testing"
	"time"

	"github.com/fatflowers/dunning/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestTableNames(t *testing.T) {
	require.Equal(t, "billing_events", BillingEvent{}.TableName())
	require.Equal(t, "subscriptions", Subscription{}.TableName())
	require.Equal(t, "dunning_processes", DunningProcess{}.TableName())
	require.Equal(t, "payment_attempts", PaymentAttempt{}.TableName())
	require.Equal(t, "dunning_notifications", DunningNotification{}.TableName())
	require.Equal(t, "subscription_log", SubscriptionLog{}.TableName())
	require.Equal(t, "webhook_delivery_log", WebhookDeliveryLog{}.TableName())
}

func TestDunningProcess_IdempotencyKey(t *testing.T) {
	p := DunningProcess{ID: "proc-1", Stage: types.DunningStageWarning1}
	require.Equal(t, "proc-1:WARNING_1", p.IdempotencyKey())
}

func TestDunningProcess_Claimed(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var p DunningProcess
	require.False(t, p.Claimed(now))

	until := now.Add(time.Minute)
	p.ClaimedUntil = &until
	require.True(t, p.Claimed(now))
	require.False(t, p.Claimed(now.Add(2*time.Minute)))
}

func TestSubscription_HasAccess(t *testing.T) {
	require.True(t, (&Subscription{Status: types.SubscriptionStatusPastDue}).HasAccess())
	require.False(t, (&Subscription{Status: types.SubscriptionStatusCanceled}).HasAccess())
	var s *Subscription
	require.False(t, s.HasAccess())
}
